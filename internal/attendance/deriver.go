// Package attendance turns stored commit-bot messages into per-user
// attendance ledgers and the daily, no-show and range views built on them.
package attendance

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/database"
)

// CarryBackHour is the local hour before which an event may still count
// for the previous calendar day.
const CarryBackHour = 4

// Event is one instant of activity by a user together with the commit
// texts posted in that message.
type Event struct {
	TS      time.Time `json:"ts"`
	Message []string  `json:"message"`
}

// Ledger maps a calendar date to that day's events in time order.
type Ledger map[civil.Date][]Event

// Options configures derivation.
type Options struct {
	// StartDate is the attendance floor: no event is carried back to a day
	// before it.
	StartDate civil.Date
	// Location is the zone calendar dates and hours are computed in.
	// Nil means UTC.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

type pending struct {
	at      time.Time
	commits []string
	target  civil.Date
}

// Derive builds author's ledger from messages. Messages are processed in
// ascending ts_for_db order regardless of input order, because which event
// claims a previous day depends on what was seen before it.
func Derive(author string, messages []database.Message, opts Options) Ledger {
	loc := opts.location()

	sorted := make([]database.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.TSForDB.Equal(b.TSForDB) {
			return a.TSForDB.Before(b.TSForDB)
		}
		return a.TS < b.TS
	})

	events := make([]pending, 0, len(sorted))
	for _, msg := range sorted {
		commits := msg.Attachments.TextsBy(author)
		if len(commits) == 0 {
			continue
		}
		events = append(events, pending{at: msg.TSForDB.In(loc), commits: commits})
	}

	// Claim pass: decide every event's date before building any bucket.
	claimed := make(map[civil.Date]bool)
	for i := range events {
		events[i].target = targetDate(events[i].at, opts.StartDate, claimed)
		claimed[events[i].target] = true
	}

	ledger := make(Ledger)
	for _, ev := range events {
		ledger[ev.target] = append(ledger[ev.target], Event{TS: ev.at, Message: ev.commits})
	}
	return ledger
}

// targetDate applies the carry-back rule: an event before CarryBackHour
// counts for the previous day if that day is on or after start and has no
// events yet. Otherwise it counts for its own date.
func targetDate(at time.Time, start civil.Date, claimed map[civil.Date]bool) civil.Date {
	date := civil.DateOf(at)
	before := date.AddDays(-1)
	if !before.Before(start) && at.Hour() < CarryBackHour && !claimed[before] {
		return before
	}
	return date
}

// Dates returns the ledger's dates in ascending order.
func (l Ledger) Dates() []civil.Date {
	dates := make([]civil.Date, 0, len(l))
	for d := range l {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// FirstTimestamp returns the time of the first event on date.
func (l Ledger) FirstTimestamp(date civil.Date) (time.Time, bool) {
	events := l[date]
	if len(events) == 0 {
		return time.Time{}, false
	}
	return events[0].TS, true
}
