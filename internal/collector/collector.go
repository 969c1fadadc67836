// Package collector ingests commit-bot messages from the chat history
// source into the message store. Ingestion is idempotent: re-collecting an
// overlapping window inserts nothing twice.
package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/database"
	"github.com/edgard/gardenbot/internal/metrics"
	"github.com/edgard/gardenbot/internal/slack"
)

// DefaultHistoryLimit is the page size used when none is configured.
const DefaultHistoryLimit = 1000

// ErrMalformedRecord marks a fetched record that lacks the expected shape.
// Such records are skipped, never fatal.
var ErrMalformedRecord = errors.New("malformed record")

// HistorySource fetches raw chat records for a time window.
type HistorySource interface {
	FetchHistory(ctx context.Context, channel string, oldest, latest time.Time, limit int) ([]slack.Record, error)
}

// Result summarises one collection run.
type Result struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Collector copies chat history into the store.
type Collector struct {
	source  HistorySource
	store   database.Store
	channel string
	limit   int
	loc     *time.Location
	logger  *slog.Logger
}

// New creates a Collector reading channel from source. loc is the zone used
// to turn calendar dates into instants in CollectDays.
func New(source HistorySource, store database.Store, channel string, limit int, loc *time.Location, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Collector{
		source:  source,
		store:   store,
		channel: channel,
		limit:   limit,
		loc:     loc,
		logger:  logger.With("component", "collector"),
	}
}

// CollectDays collects messages from local midnight of start up to local
// midnight of end.
func (c *Collector) CollectDays(ctx context.Context, start, end civil.Date) (Result, error) {
	if !start.Before(end) {
		return Result{}, fmt.Errorf("invalid window: start %s is not before end %s", start, end)
	}
	return c.Collect(ctx, start.In(c.loc), end.In(c.loc))
}

// Collect fetches one page of history between oldest and latest and stores
// every well-formed record. Store failures for single records are logged
// and counted; only a failed fetch aborts the run.
func (c *Collector) Collect(ctx context.Context, oldest, latest time.Time) (Result, error) {
	startTime := time.Now()
	log := c.logger.With("oldest", oldest, "latest", latest)

	records, err := c.source.FetchHistory(ctx, c.channel, oldest, latest, c.limit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch chat history", "error", err)
		metrics.CollectRuns.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("failed to fetch history: %w", err)
	}

	res := Result{Fetched: len(records)}
	for _, rec := range records {
		if ctx.Err() != nil {
			log.WarnContext(ctx, "Collection interrupted", "error", ctx.Err(), "processed", res.Inserted+res.Duplicates+res.Skipped+res.Failed)
			metrics.CollectRuns.WithLabelValues("cancelled").Inc()
			return res, ctx.Err()
		}

		msg, err := ToMessage(rec)
		if err != nil {
			log.WarnContext(ctx, "Skipping malformed record", "ts", rec.TS, "error", err)
			res.Skipped++
			metrics.MessagesIngested.WithLabelValues("skipped").Inc()
			continue
		}

		inserted, err := c.store.UpsertMessage(ctx, msg)
		switch {
		case err != nil:
			log.ErrorContext(ctx, "Failed to store message", "ts", rec.TS, "error", err)
			res.Failed++
			metrics.MessagesIngested.WithLabelValues("failed").Inc()
		case inserted:
			res.Inserted++
			metrics.MessagesIngested.WithLabelValues("inserted").Inc()
		default:
			res.Duplicates++
			metrics.MessagesIngested.WithLabelValues("duplicate").Inc()
		}
	}

	metrics.CollectRuns.WithLabelValues("ok").Inc()
	log.InfoContext(ctx, "Collection finished",
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", time.Since(startTime))
	return res, nil
}

// ToMessage validates a raw record and converts it into a storable message.
// It returns an error wrapping ErrMalformedRecord when the record has no
// parsable ts or no attachments.
func ToMessage(rec slack.Record) (*database.Message, error) {
	if rec.TS == "" {
		return nil, fmt.Errorf("%w: missing ts", ErrMalformedRecord)
	}
	at, err := slack.ParseTS(rec.TS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if len(rec.Attachments) == 0 {
		return nil, fmt.Errorf("%w: no attachments", ErrMalformedRecord)
	}

	msg := &database.Message{
		TS:      rec.TS,
		TSForDB: at,
		BotID:   nullString(rec.BotID),
		Type:    nullString(rec.Type),
		Text:    nullString(rec.Text),
		User:    nullString(rec.User),
		Team:    nullString(rec.Team),
	}

	if len(rec.BotProfile) > 0 && string(rec.BotProfile) != "null" {
		if !json.Valid(rec.BotProfile) {
			return nil, fmt.Errorf("%w: invalid bot_profile", ErrMalformedRecord)
		}
		msg.BotProfile = database.JSONObject(rec.BotProfile)
	}

	msg.Attachments = make(database.Attachments, 0, len(rec.Attachments))
	for _, att := range rec.Attachments {
		msg.Attachments = append(msg.Attachments, database.Attachment{
			AuthorName: att.AuthorName,
			Text:       att.Text,
			Title:      att.Title,
			TitleLink:  att.TitleLink,
			Fallback:   att.Fallback,
			Color:      att.Color,
			Footer:     att.Footer,
		})
	}
	return msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
