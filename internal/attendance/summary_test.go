package attendance_test

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/attendance"
)

func TestNoShowReport(t *testing.T) {
	t.Parallel()

	target := date(2019, time.October, 6)
	first := local(2019, 10, 6, 9, 15)
	ledgers := map[string]attendance.Ledger{
		"alice": {target: {{TS: first, Message: []string{"fix"}}, {TS: first.Add(time.Hour)}}},
		"bob":   {target.AddDays(-1): {{TS: first.Add(-24 * time.Hour)}}},
	}

	report := attendance.DailyReport([]string{"alice", "bob", "carol"}, ledgers, target)
	if len(report) != 3 {
		t.Fatalf("DailyReport() returned %d entries, want 3", len(report))
	}

	if report[0].User != "alice" || report[0].FirstTS == nil || !report[0].FirstTS.Equal(first) {
		t.Errorf("alice entry = %+v, want first_ts %v", report[0], first)
	}
	for _, entry := range report[1:] {
		if entry.FirstTS != nil {
			t.Errorf("%s entry first_ts = %v, want nil", entry.User, entry.FirstTS)
		}
	}

	if got, want := attendance.NoShows(report), []string{"bob", "carol"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NoShows() = %v, want %v", got, want)
	}
}

func TestNoShowsEveryonePresent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	report := []attendance.DailyEntry{{User: "alice", FirstTS: &now}}
	if got := attendance.NoShows(report); len(got) != 0 {
		t.Errorf("NoShows() = %v, want none", got)
	}
}

func TestMatrixCSV(t *testing.T) {
	t.Parallel()

	from := date(2019, time.October, 5)
	ledgers := map[string]attendance.Ledger{
		"alice": {
			from:            {{TS: local(2019, 10, 5, 23, 50)}},
			from.AddDays(1): {{TS: local(2019, 10, 6, 1, 30)}, {TS: local(2019, 10, 6, 10, 0)}},
		},
		"bob": {from.AddDays(2): {{TS: local(2019, 10, 7, 12, 0)}}},
	}

	m := attendance.BuildMatrix([]string{"alice", "bob"}, ledgers, from, 2)
	if want := []civil.Date{from, from.AddDays(1)}; !reflect.DeepEqual(m.Dates, want) {
		t.Errorf("Dates = %v, want %v", m.Dates, want)
	}

	var buf bytes.Buffer
	if err := m.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := strings.Join([]string{
		"user,2019-10-05,2019-10-06",
		"alice,2019-10-05 23:50:00,2019-10-06 01:30:00",
		"bob,,",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildMatrixNegativeDays(t *testing.T) {
	t.Parallel()

	m := attendance.BuildMatrix([]string{"alice"}, nil, date(2019, time.October, 1), -3)
	if len(m.Dates) != 0 || len(m.Rows) != 1 || len(m.Rows[0].First) != 0 {
		t.Errorf("BuildMatrix(-3) = %+v, want empty grid with one row", m)
	}
}
