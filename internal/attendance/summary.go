package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
)

// DailyEntry is one member's attendance on a given day. FirstTS is nil when
// the member has no events that day.
type DailyEntry struct {
	User    string     `json:"user"`
	FirstTS *time.Time `json:"first_ts"`
}

// DailyReport lists every member with their first timestamp on date, in
// member order. Members without a ledger are reported absent.
func DailyReport(members []string, ledgers map[string]Ledger, date civil.Date) []DailyEntry {
	report := make([]DailyEntry, 0, len(members))
	for _, user := range members {
		entry := DailyEntry{User: user}
		if ts, ok := ledgers[user].FirstTimestamp(date); ok {
			entry.FirstTS = &ts
		}
		report = append(report, entry)
	}
	return report
}

// NoShows returns the users of report that did not attend.
func NoShows(report []DailyEntry) []string {
	var absent []string
	for _, entry := range report {
		if entry.FirstTS == nil {
			absent = append(absent, entry.User)
		}
	}
	return absent
}

// Matrix is a users x dates grid of first timestamps.
type Matrix struct {
	Dates []civil.Date
	Rows  []MatrixRow
}

// MatrixRow is one user's first timestamps, aligned with Matrix.Dates.
type MatrixRow struct {
	User  string
	First []*time.Time
}

// BuildMatrix collects first timestamps for days consecutive dates starting at from.
func BuildMatrix(members []string, ledgers map[string]Ledger, from civil.Date, days int) Matrix {
	if days < 0 {
		days = 0
	}

	m := Matrix{Dates: make([]civil.Date, days)}
	for i := range m.Dates {
		m.Dates[i] = from.AddDays(i)
	}

	for _, user := range members {
		row := MatrixRow{User: user, First: make([]*time.Time, days)}
		for i, date := range m.Dates {
			if ts, ok := ledgers[user].FirstTimestamp(date); ok {
				row.First[i] = &ts
			}
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// WriteCSV writes the matrix with a "user,<date>..." header. Absent cells are empty.
func (m Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(m.Dates)+1)
	header = append(header, "user")
	for _, d := range m.Dates {
		header = append(header, d.String())
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range m.Rows {
		record := make([]string, 0, len(row.First)+1)
		record = append(record, row.User)
		for _, ts := range row.First {
			if ts == nil {
				record = append(record, "")
				continue
			}
			record = append(record, ts.Format(time.DateTime))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", row.User, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
