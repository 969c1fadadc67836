// Package render turns commit texts posted by the bot into safe HTML.
package render

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// slackLinkRegex matches Slack's <target> and <target|label> link syntax.
var slackLinkRegex = regexp.MustCompile(`<([^<>|\s]+)(?:\|([^<>]*))?>`)

// Renderer converts Slack mrkdwn commit text to sanitized HTML.
type Renderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// New creates a Renderer using a UGC sanitization policy.
func New() *Renderer {
	return &Renderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		policy:   bluemonday.UGCPolicy(),
	}
}

// SlackToMarkdown rewrites Slack links, mentions and channel references
// into plain Markdown.
func SlackToMarkdown(text string) string {
	return slackLinkRegex.ReplaceAllStringFunc(text, func(m string) string {
		parts := slackLinkRegex.FindStringSubmatch(m)
		target, label := parts[1], parts[2]

		switch {
		case strings.HasPrefix(target, "@"):
			if label != "" {
				return "@" + label
			}
			return target
		case strings.HasPrefix(target, "#"):
			if label != "" {
				return "#" + label
			}
			return target
		case strings.HasPrefix(target, "!"):
			return "@" + strings.TrimPrefix(target, "!")
		}

		if label == "" {
			label = target
		}
		return "[" + escapeLabel(label) + "](" + target + ")"
	})
}

// Commit renders one commit text as sanitized HTML. On a Markdown error
// the escaped plain text is returned.
func (r *Renderer) Commit(text string) string {
	if text == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(SlackToMarkdown(text)), &buf); err != nil {
		return r.policy.Sanitize(text)
	}
	return strings.TrimSpace(r.policy.Sanitize(buf.String()))
}

// Commits renders each text with Commit.
func (r *Renderer) Commits(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = r.Commit(t)
	}
	return out
}

func escapeLabel(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
