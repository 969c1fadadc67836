// Package notify delivers the daily no-show report to a chat backend.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/metrics"
)

// Notifier posts a text message somewhere people will read it.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SlackPoster is the part of the Slack client the notifier needs.
type SlackPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// NoShowMessage builds "<prefix> @name1 @name2" from the absent users,
// mentioning each by chat handle. It returns "" when nobody is absent.
func NoShowMessage(prefix string, absent []string, cfg *config.Config) string {
	if len(absent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prefix))
	for _, user := range absent {
		b.WriteString(" @")
		b.WriteString(cfg.SlackName(user))
	}
	return b.String()
}

// New builds the notifier selected by cfg.Notify.Backend.
func New(cfg config.NotifyConfig, slackClient SlackPoster, logger *slog.Logger) (Notifier, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "notify", "backend", cfg.Backend)

	switch cfg.Backend {
	case "slack":
		if slackClient == nil {
			return nil, fmt.Errorf("slack notifier requires a slack client")
		}
		return &slackNotifier{client: slackClient, channel: cfg.Channel, logger: logger}, nil
	case "telegram":
		b, err := tgbot.New(cfg.TelegramToken, tgbot.WithSkipGetMe())
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		return &telegramNotifier{bot: b, chatID: cfg.TelegramChatID, logger: logger}, nil
	case "log", "":
		return &logNotifier{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

type slackNotifier struct {
	client  SlackPoster
	channel string
	logger  *slog.Logger
}

func (n *slackNotifier) Notify(ctx context.Context, text string) error {
	if err := n.client.PostMessage(ctx, n.channel, text); err != nil {
		n.logger.ErrorContext(ctx, "Failed to post notification", "channel", n.channel, "error", err)
		return err
	}
	metrics.NotificationsSent.WithLabelValues("slack").Inc()
	n.logger.InfoContext(ctx, "Notification posted", "channel", n.channel)
	return nil
}

type telegramNotifier struct {
	bot    *tgbot.Bot
	chatID int64
	logger *slog.Logger
}

func (n *telegramNotifier) Notify(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to send notification", "chat_id", n.chatID, "error", err)
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues("telegram").Inc()
	n.logger.InfoContext(ctx, "Notification sent", "chat_id", n.chatID)
	return nil
}

type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Notify(ctx context.Context, text string) error {
	metrics.NotificationsSent.WithLabelValues("log").Inc()
	n.logger.InfoContext(ctx, "Notification", "text", text)
	return nil
}
