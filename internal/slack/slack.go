// Package slack adapts the Slack Web API to the record shape the collector
// ingests, and posts plain-text notifications.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Record is one raw chat message as returned by conversations.history.
type Record struct {
	TS          string          `json:"ts"`
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	User        string          `json:"user"`
	Team        string          `json:"team"`
	BotID       string          `json:"bot_id"`
	BotProfile  json.RawMessage `json:"bot_profile,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// Attachment is the subset of a message attachment the commit bot fills in.
type Attachment struct {
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	TitleLink  string `json:"title_link"`
	Fallback   string `json:"fallback"`
	Color      string `json:"color"`
	Footer     string `json:"footer"`
}

// Client wraps the Slack Web API client.
type Client struct {
	api    *slack.Client
	logger *slog.Logger
}

// NewClient creates a client authenticated with token.
func NewClient(token string, logger *slog.Logger, opts ...slack.Option) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		api:    slack.New(token, opts...),
		logger: logger.With("component", "slack"),
	}
}

// FetchHistory returns at most limit messages posted to channel between
// oldest and latest. Only one page is fetched.
func (c *Client) FetchHistory(ctx context.Context, channel string, oldest, latest time.Time, limit int) ([]Record, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Oldest:    FormatTS(oldest),
		Latest:    FormatTS(latest),
		Limit:     limit,
	}

	c.logger.DebugContext(ctx, "Fetching conversation history",
		"channel", channel, "oldest", params.Oldest, "latest", params.Latest, "limit", limit)

	resp, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for channel %s: %w", channel, err)
	}
	if resp.HasMore {
		c.logger.WarnContext(ctx, "History window holds more messages than the page limit",
			"channel", channel, "limit", limit)
	}

	records := make([]Record, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		records = append(records, toRecord(msg))
	}
	return records, nil
}

// PostMessage posts text to channel, resolving @names into mentions.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionPostMessageParameters(slack.PostMessageParameters{LinkNames: 1}),
	)
	if err != nil {
		return fmt.Errorf("failed to post message to %s: %w", channel, err)
	}
	return nil
}

func toRecord(msg slack.Message) Record {
	rec := Record{
		TS:    msg.Timestamp,
		Type:  msg.Type,
		Text:  msg.Text,
		User:  msg.User,
		Team:  msg.Team,
		BotID: msg.BotID,
	}
	if msg.BotProfile != nil {
		if raw, err := json.Marshal(msg.BotProfile); err == nil {
			rec.BotProfile = raw
		}
	}
	for _, att := range msg.Attachments {
		rec.Attachments = append(rec.Attachments, Attachment{
			AuthorName: att.AuthorName,
			Text:       att.Text,
			Title:      att.Title,
			TitleLink:  att.TitleLink,
			Fallback:   att.Fallback,
			Color:      att.Color,
			Footer:     att.Footer,
		})
	}
	return rec
}

// FormatTS renders t as a Slack timestamp ("1570287000.000100").
func FormatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}

// ParseTS parses a Slack timestamp into a UTC instant without going through
// floating point, so the microsecond part is exact.
func ParseTS(ts string) (time.Time, error) {
	whole, frac, _ := strings.Cut(ts, ".")
	if !allDigits(whole) || !allDigits(frac) {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q", ts)
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q", ts)
	}

	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid slack timestamp %q", ts)
		}
		nanos = n
	}
	return time.Unix(secs, nanos).UTC(), nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
