package api

import (
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/edgard/gardenbot/internal/attendance"
)

// maxCSVDays bounds the CSV export window.
const maxCSVDays = 3660

type userInfo struct {
	User  string `json:"user"`
	Slack string `json:"slack"`
	Name  string `json:"name,omitempty"`
}

type usersResponse struct {
	Users         []userInfo `json:"users"`
	StartDate     civil.Date `json:"start_date"`
	GardeningDays int        `json:"gardening_days"`
}

type commitEntry struct {
	TS      time.Time `json:"ts"`
	Message []string  `json:"message"`
}

type dayEntry struct {
	Date    civil.Date    `json:"date"`
	Commits []commitEntry `json:"commits"`
}

// Users lists the tracked users and the attendance rules.
func (h *Handler) Users(w http.ResponseWriter, _ *http.Request) {
	members := h.attendance.Members()
	resp := usersResponse{
		Users:         make([]userInfo, 0, len(members)),
		StartDate:     h.attendance.Options().StartDate,
		GardeningDays: h.cfg.Attendance.GardeningDays,
	}
	for _, user := range members {
		m, _ := h.cfg.Member(user)
		resp.Users = append(resp.Users, userInfo{
			User:  user,
			Slack: h.cfg.SlackName(user),
			Name:  m.Name,
		})
	}
	h.JSON(w, http.StatusOK, resp)
}

// UserLedger returns one user's ledger as {user: [{date, commits}]} sorted
// by date. With ?format=html commit texts are rendered to sanitized HTML.
func (h *Handler) UserLedger(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user == "" {
		h.Error(w, http.StatusBadRequest, "user is required")
		return
	}

	ledger, err := h.attendance.LedgerFor(r.Context(), user)
	if err != nil {
		h.internalError(w, r, "failed to load ledger", err)
		return
	}

	html := r.URL.Query().Get("format") == "html"
	h.JSON(w, http.StatusOK, map[string][]dayEntry{user: h.ledgerDays(ledger, html)})
}

// Ledgers returns every tracked user's ledger.
func (h *Handler) Ledgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := h.attendance.Ledgers(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to load ledgers", err)
		return
	}

	out := make(map[string][]dayEntry, len(ledgers))
	for user, ledger := range ledgers {
		out[user] = h.ledgerDays(ledger, false)
	}
	h.JSON(w, http.StatusOK, out)
}

func (h *Handler) ledgerDays(ledger attendance.Ledger, html bool) []dayEntry {
	dates := ledger.Dates()
	days := make([]dayEntry, 0, len(dates))
	for _, date := range dates {
		events := ledger[date]
		entry := dayEntry{Date: date, Commits: make([]commitEntry, 0, len(events))}
		for _, ev := range events {
			msg := ev.Message
			if html {
				msg = h.renderer.Commits(msg)
			}
			entry.Commits = append(entry.Commits, commitEntry{TS: ev.TS, Message: msg})
		}
		days = append(days, entry)
	}
	return days
}

// Collect synchronously ingests chat history between the start and end
// dates (end exclusive) and returns {}.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	start, err := civil.ParseDate(r.URL.Query().Get("start"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "start must be a YYYY-MM-DD date")
		return
	}
	end, err := civil.ParseDate(r.URL.Query().Get("end"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "end must be a YYYY-MM-DD date")
		return
	}
	if !start.Before(end) {
		h.Error(w, http.StatusBadRequest, "start must be before end")
		return
	}

	res, err := h.collector.CollectDays(r.Context(), start, end)
	if err != nil {
		h.internalError(w, r, "collection failed", err)
		return
	}

	h.logger.InfoContext(r.Context(), "On-demand collection finished", "start", start, "end", end, "inserted", res.Inserted)
	h.JSON(w, http.StatusOK, struct{}{})
}

// Day reports each member's first timestamp on the date in the path.
func (h *Handler) Day(w http.ResponseWriter, r *http.Request) {
	date, ok := h.pathDate(w, r)
	if !ok {
		return
	}

	report, err := h.attendance.Day(r.Context(), date)
	if err != nil {
		h.internalError(w, r, "failed to build daily report", err)
		return
	}
	h.JSON(w, http.StatusOK, report)
}

// Absent lists the members with no attendance on the date in the path.
func (h *Handler) Absent(w http.ResponseWriter, r *http.Request) {
	date, ok := h.pathDate(w, r)
	if !ok {
		return
	}

	absent, err := h.attendance.Absentees(r.Context(), date)
	if err != nil {
		h.internalError(w, r, "failed to compute absentees", err)
		return
	}
	if absent == nil {
		absent = []string{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"date": date, "absent": absent})
}

// CSV exports the first-timestamp matrix. start defaults to the attendance
// start date and days to the configured number of gardening days.
func (h *Handler) CSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := h.attendance.Options().StartDate
	if s := q.Get("start"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "start must be a YYYY-MM-DD date")
			return
		}
		from = d
	}

	days := h.cfg.Attendance.GardeningDays
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxCSVDays {
			h.Error(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(maxCSVDays))
			return
		}
		days = n
	}

	matrix, err := h.attendance.Range(r.Context(), from, days)
	if err != nil {
		h.internalError(w, r, "failed to build attendance matrix", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.csv"`)
	if err := matrix.WriteCSV(w); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to write csv", "error", err)
	}
}

func (h *Handler) pathDate(w http.ResponseWriter, r *http.Request) (civil.Date, bool) {
	date, err := civil.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "date must be a YYYY-MM-DD date")
		return civil.Date{}, false
	}
	return date, true
}
