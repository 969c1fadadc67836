package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

const messagesTable = "slack_messages"

var messageColumns = []string{
	"ts", "ts_for_db", "bot_id", "type", "text", "user", "team", "bot_profile", "attachments",
}

// Store defines the interface for message storage.
// Every call is a round-trip to the database; nothing is cached.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertMessage inserts a message. If a message with the same ts already
	// exists the call is a no-op and reports inserted=false.
	UpsertMessage(ctx context.Context, message *Message) (inserted bool, err error)

	// GetMessage retrieves a message by ts. Returns nil, nil if not found.
	GetMessage(ctx context.Context, ts string) (*Message, error)

	// QueryRange returns messages with start <= ts_for_db < end in time order.
	QueryRange(ctx context.Context, start, end time.Time) ([]Message, error)

	// QueryByAuthor returns messages carrying at least one attachment by
	// author, ordered by ts ascending.
	QueryByAuthor(ctx context.Context, author string) ([]Message, error)

	// CountMessages returns the number of stored messages.
	CountMessages(ctx context.Context) (int64, error)

	// ClearAll deletes every message. Administrative use only.
	ClearAll(ctx context.Context) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:      db,
		dialect: DialectOf(db),
		logger:  logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertMessage inserts a message, ignoring a conflict on ts.
func (s *sqlxStore) UpsertMessage(ctx context.Context, message *Message) (bool, error) {
	if message == nil {
		return false, fmt.Errorf("cannot save nil message")
	}
	if message.TS == "" {
		return false, fmt.Errorf("message must have a non-empty ts")
	}
	if message.TSForDB.IsZero() {
		return false, fmt.Errorf("message must have a non-zero ts_for_db")
	}
	message.TSForDB = message.TSForDB.UTC()

	query := `
        INSERT INTO slack_messages (ts, ts_for_db, bot_id, type, text, "user", team, bot_profile, attachments)
        VALUES (:ts, :ts_for_db, :bot_id, :type, :text, :user, :team, :bot_profile, :attachments)
        ON CONFLICT (ts) DO NOTHING;
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		return false, fmt.Errorf("failed to save message %s: %w", message.TS, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count when saving message", "ts", message.TS, "error", err)
		return true, nil
	}
	if affected == 0 {
		s.logger.DebugContext(ctx, "Message already stored, skipping", "ts", message.TS)
		return false, nil
	}

	s.logger.DebugContext(ctx, "Message saved successfully", "ts", message.TS)
	return true, nil
}

// GetMessage retrieves a message by its ts. Returns nil, nil if not found.
func (s *sqlxStore) GetMessage(ctx context.Context, ts string) (*Message, error) {
	if ts == "" {
		return nil, fmt.Errorf("ts cannot be empty")
	}

	messages, err := s.selectMessages(ctx, selectQuery{
		table:   messagesTable,
		columns: messageColumns,
		where:   []Predicate{Equals{Column: "ts", Value: ts}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", ts, err)
	}
	if len(messages) == 0 {
		s.logger.DebugContext(ctx, "No message found", "ts", ts)
		return nil, nil
	}
	return &messages[0], nil
}

// QueryRange returns messages with start <= ts_for_db < end.
func (s *sqlxStore) QueryRange(ctx context.Context, start, end time.Time) ([]Message, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("invalid range: start %s is not before end %s", start, end)
	}

	messages, err := s.selectMessages(ctx, selectQuery{
		table:   messagesTable,
		columns: messageColumns,
		where:   []Predicate{Range{Column: "ts_for_db", From: start.UTC(), To: end.UTC()}},
		orderBy: []string{"ts_for_db", "ts"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages between %s and %s: %w", start, end, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages in range", "start", start, "end", end, "count", len(messages))
	return messages, nil
}

// QueryByAuthor returns messages with an attachment by author, oldest first.
// ts_for_db is derived from ts, so ordering by it is ordering by ts.
func (s *sqlxStore) QueryByAuthor(ctx context.Context, author string) ([]Message, error) {
	if author == "" {
		return nil, fmt.Errorf("author cannot be empty")
	}

	messages, err := s.selectMessages(ctx, selectQuery{
		table:   messagesTable,
		columns: messageColumns,
		where:   []Predicate{JSONArrayContains{Column: "attachments", Field: "author_name", Value: author}},
		orderBy: []string{"ts_for_db", "ts"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for author %s: %w", author, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages by author", "author", author, "count", len(messages))
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (s *sqlxStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM slack_messages`); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ClearAll deletes all messages.
func (s *sqlxStore) ClearAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM slack_messages`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting all messages", "error", err)
		return 0, fmt.Errorf("failed to delete all messages: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count when deleting messages", "error", err)
	}
	s.logger.InfoContext(ctx, "Deleted all messages", "count", count)
	return count, nil
}

// RunSQLMaintenance executes VACUUM (SQLite) or VACUUM ANALYZE (PostgreSQL).
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...", "dialect", s.dialect)

	statement := "VACUUM;"
	if s.dialect == DialectPostgres {
		statement = "VACUUM ANALYZE slack_messages;"
	} else if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		s.logger.WarnContext(ctx, "Failed to set busy timeout", "error", err)
	}

	// VACUUM must run outside a transaction on both dialects.
	_, err := s.db.ExecContext(ctx, statement)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

func (s *sqlxStore) selectMessages(ctx context.Context, q selectQuery) ([]Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	query, args, err := q.build(s.dialect)
	if err != nil {
		return nil, err
	}

	var messages []Message
	err = s.db.SelectContext(ctx, &messages, s.db.Rebind(query), args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return []Message{}, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages", "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching messages", "error", err)
		return nil, err
	}

	for i := range messages {
		messages[i].TSForDB = messages[i].TSForDB.UTC()
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}
