package attendance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/database"
)

// Service answers attendance queries by reading the message store and
// deriving ledgers on demand. It holds no state besides its configuration.
type Service struct {
	store   database.Store
	members []string
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// OptionsFrom builds derivation options from the attendance configuration.
func OptionsFrom(cfg config.AttendanceConfig) Options {
	return Options{StartDate: cfg.Start(), Location: cfg.Location()}
}

// NewService creates a Service for the given tracked members.
func NewService(store database.Store, members []string, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:   store,
		members: members,
		opts:    opts,
		logger:  logger.With("component", "attendance"),
		now:     time.Now,
	}
}

// Members returns the tracked users in configured order.
func (s *Service) Members() []string {
	out := make([]string, len(s.members))
	copy(out, s.members)
	return out
}

// Options returns the derivation options in use.
func (s *Service) Options() Options { return s.opts }

// Today returns the current date in the attendance time zone.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now().In(s.opts.location()))
}

// LedgerFor derives one user's full ledger.
func (s *Service) LedgerFor(ctx context.Context, user string) (Ledger, error) {
	messages, err := s.store.QueryByAuthor(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", user, err)
	}

	ledger := Derive(user, messages, s.opts)
	s.logger.DebugContext(ctx, "Derived ledger", "user", user, "messages", len(messages), "days", len(ledger))
	return ledger, nil
}

// Ledgers derives the ledgers of all tracked members.
func (s *Service) Ledgers(ctx context.Context) (map[string]Ledger, error) {
	ledgers := make(map[string]Ledger, len(s.members))
	for _, user := range s.members {
		ledger, err := s.LedgerFor(ctx, user)
		if err != nil {
			return nil, err
		}
		ledgers[user] = ledger
	}
	return ledgers, nil
}

// Day reports every member's first timestamp on date.
func (s *Service) Day(ctx context.Context, date civil.Date) ([]DailyEntry, error) {
	ledgers, err := s.Ledgers(ctx)
	if err != nil {
		return nil, err
	}
	return DailyReport(s.members, ledgers, date), nil
}

// Absentees lists members with no attendance on date.
func (s *Service) Absentees(ctx context.Context, date civil.Date) ([]string, error) {
	report, err := s.Day(ctx, date)
	if err != nil {
		return nil, err
	}
	absent := NoShows(report)
	s.logger.InfoContext(ctx, "Computed absentees", "date", date, "absent", len(absent), "members", len(report))
	return absent, nil
}

// Range builds the first-timestamp matrix for days dates starting at from.
func (s *Service) Range(ctx context.Context, from civil.Date, days int) (Matrix, error) {
	ledgers, err := s.Ledgers(ctx)
	if err != nil {
		return Matrix{}, err
	}
	return BuildMatrix(s.members, ledgers, from, days), nil
}
