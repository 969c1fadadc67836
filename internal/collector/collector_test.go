package collector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/database"
	"github.com/edgard/gardenbot/internal/slack"
)

type fakeSource struct {
	records []slack.Record
	err     error

	calls          int
	channel        string
	oldest, latest time.Time
	limit          int
}

func (f *fakeSource) FetchHistory(_ context.Context, channel string, oldest, latest time.Time, limit int) ([]slack.Record, error) {
	f.calls++
	f.channel, f.oldest, f.latest, f.limit = channel, oldest, latest, limit
	return f.records, f.err
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(database.DialectSQLite, filepath.Join(t.TempDir(), "garden.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func commitRecord(ts, author, text string) slack.Record {
	return slack.Record{
		TS:          ts,
		Type:        "message",
		BotID:       "B0123",
		BotProfile:  json.RawMessage(`{"name":"github"}`),
		Attachments: []slack.Attachment{{AuthorName: author, Text: text}},
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	source := &fakeSource{records: []slack.Record{
		commitRecord("1570287000.000100", "alice", "commit A"),
		commitRecord("1570293000.000200", "bob", "commit B"),
		{TS: "1570293001.000000", Type: "message", Text: "just chatting"},
		commitRecord("not-a-ts", "alice", "broken"),
		commitRecord("", "alice", "no ts"),
	}}
	c := collector.New(source, store, "C123", 0, nil, nil)
	ctx := context.Background()

	oldest := time.Date(2019, 10, 5, 0, 0, 0, 0, time.UTC)
	latest := oldest.Add(48 * time.Hour)

	res, err := c.Collect(ctx, oldest, latest)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := collector.Result{Fetched: 5, Inserted: 2, Skipped: 3}
	if res != want {
		t.Errorf("Collect() = %+v, want %+v", res, want)
	}
	if source.channel != "C123" || source.limit != collector.DefaultHistoryLimit {
		t.Errorf("FetchHistory called with channel %q limit %d", source.channel, source.limit)
	}
	if !source.oldest.Equal(oldest) || !source.latest.Equal(latest) {
		t.Errorf("FetchHistory window = %v..%v, want %v..%v", source.oldest, source.latest, oldest, latest)
	}

	// Re-collecting the same window inserts nothing.
	res, err = c.Collect(ctx, oldest, latest)
	if err != nil {
		t.Fatalf("second Collect() error = %v", err)
	}
	if res.Inserted != 0 || res.Duplicates != 2 {
		t.Errorf("second Collect() = %+v, want 2 duplicates", res)
	}

	count, err := store.CountMessages(ctx)
	if err != nil || count != 2 {
		t.Errorf("CountMessages() = %d, %v, want 2", count, err)
	}

	stored, err := store.GetMessage(ctx, "1570287000.000100")
	if err != nil || stored == nil {
		t.Fatalf("GetMessage() = %v, %v", stored, err)
	}
	if want := time.Unix(1570287000, 100_000).UTC(); !stored.TSForDB.Equal(want) {
		t.Errorf("TSForDB = %v, want %v", stored.TSForDB, want)
	}
}

func TestCollectStoreFailureLoggedOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	db, err := database.NewDB(database.DialectSQLite, filepath.Join(t.TempDir(), "garden.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	store := database.NewStore(db, log)
	database.CloseDB(db)

	source := &fakeSource{records: []slack.Record{commitRecord("1570287000.000100", "alice", "commit A")}}
	c := collector.New(source, store, "C123", 0, nil, log)

	res, err := c.Collect(context.Background(), time.Unix(1570200000, 0), time.Unix(1570400000, 0))
	if err != nil {
		t.Fatalf("Collect() error = %v, want store failures counted", err)
	}
	if res.Failed != 1 || res.Inserted != 0 {
		t.Errorf("Collect() = %+v, want 1 failed", res)
	}
	if n := strings.Count(buf.String(), "level=ERROR"); n != 1 {
		t.Errorf("logged %d error lines, want 1:\n%s", n, buf.String())
	}
}

func TestCollectFetchError(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("rate limited")
	c := collector.New(&fakeSource{err: fetchErr}, newTestStore(t), "C123", 10, nil, nil)

	_, err := c.Collect(context.Background(), time.Unix(1, 0), time.Unix(2, 0))
	if !errors.Is(err, fetchErr) {
		t.Errorf("Collect() error = %v, want wrapped %v", err, fetchErr)
	}
}

func TestCollectDays(t *testing.T) {
	t.Parallel()

	kst := time.FixedZone("KST", 9*60*60)
	source := &fakeSource{}
	c := collector.New(source, newTestStore(t), "C123", 100, kst, nil)

	start := civil.Date{Year: 2019, Month: time.October, Day: 5}
	if _, err := c.CollectDays(context.Background(), start, start.AddDays(2)); err != nil {
		t.Fatalf("CollectDays() error = %v", err)
	}

	if want := time.Date(2019, 10, 4, 15, 0, 0, 0, time.UTC); !source.oldest.Equal(want) {
		t.Errorf("oldest = %v, want %v", source.oldest, want)
	}
	if want := time.Date(2019, 10, 6, 15, 0, 0, 0, time.UTC); !source.latest.Equal(want) {
		t.Errorf("latest = %v, want %v", source.latest, want)
	}

	if _, err := c.CollectDays(context.Background(), start, start); err == nil {
		t.Error("CollectDays() with empty window error = nil, want error")
	}
	if source.calls != 1 {
		t.Errorf("FetchHistory calls = %d, want 1", source.calls)
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		record    slack.Record
		malformed bool
	}{
		{name: "commit", record: commitRecord("1570287000.000100", "alice", "fix")},
		{name: "missing ts", record: commitRecord("", "alice", "fix"), malformed: true},
		{name: "unparsable ts", record: commitRecord("abc", "alice", "fix"), malformed: true},
		{name: "no attachments", record: slack.Record{TS: "1570287000.000100"}, malformed: true},
		{
			name: "invalid bot profile",
			record: slack.Record{
				TS:          "1570287000.000100",
				BotProfile:  json.RawMessage(`{broken`),
				Attachments: []slack.Attachment{{AuthorName: "alice"}},
			},
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := collector.ToMessage(tt.record)
			if tt.malformed {
				if !errors.Is(err, collector.ErrMalformedRecord) {
					t.Errorf("ToMessage() error = %v, want ErrMalformedRecord", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToMessage() error = %v", err)
			}
			if msg.TS != tt.record.TS || msg.User.Valid || !msg.BotID.Valid {
				t.Errorf("ToMessage() = %+v", msg)
			}
			if got := msg.Attachments.TextsBy("alice"); len(got) != 1 || got[0] != "fix" {
				t.Errorf("TextsBy(alice) = %v", got)
			}
		})
	}
}
