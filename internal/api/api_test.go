package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/api"
	"github.com/edgard/gardenbot/internal/attendance"
	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/config"
)

var (
	day5 = civil.Date{Year: 2019, Month: time.October, Day: 5}
	day6 = civil.Date{Year: 2019, Month: time.October, Day: 6}
	tsA  = time.Date(2019, 10, 5, 23, 50, 0, 0, time.UTC)
	tsB  = time.Date(2019, 10, 6, 1, 30, 0, 0, time.UTC)
)

type fakeService struct {
	ledgers map[string]attendance.Ledger
	err     error
}

func (f *fakeService) Members() []string { return []string{"alice", "bob"} }

func (f *fakeService) Options() attendance.Options {
	return attendance.Options{StartDate: civil.Date{Year: 2019, Month: time.October, Day: 1}}
}

func (f *fakeService) LedgerFor(_ context.Context, user string) (attendance.Ledger, error) {
	if f.err != nil {
		return nil, f.err
	}
	if l, ok := f.ledgers[user]; ok {
		return l, nil
	}
	return attendance.Ledger{}, nil
}

func (f *fakeService) Ledgers(ctx context.Context) (map[string]attendance.Ledger, error) {
	out := map[string]attendance.Ledger{}
	for _, u := range f.Members() {
		l, err := f.LedgerFor(ctx, u)
		if err != nil {
			return nil, err
		}
		out[u] = l
	}
	return out, nil
}

func (f *fakeService) Day(ctx context.Context, date civil.Date) ([]attendance.DailyEntry, error) {
	ledgers, err := f.Ledgers(ctx)
	if err != nil {
		return nil, err
	}
	return attendance.DailyReport(f.Members(), ledgers, date), nil
}

func (f *fakeService) Absentees(ctx context.Context, date civil.Date) ([]string, error) {
	report, err := f.Day(ctx, date)
	if err != nil {
		return nil, err
	}
	return attendance.NoShows(report), nil
}

func (f *fakeService) Range(ctx context.Context, from civil.Date, days int) (attendance.Matrix, error) {
	ledgers, err := f.Ledgers(ctx)
	if err != nil {
		return attendance.Matrix{}, err
	}
	return attendance.BuildMatrix(f.Members(), ledgers, from, days), nil
}

type fakeCollector struct {
	calls      int
	start, end civil.Date
}

func (f *fakeCollector) CollectDays(_ context.Context, start, end civil.Date) (collector.Result, error) {
	f.calls++
	f.start, f.end = start, end
	return collector.Result{Fetched: 3, Inserted: 2}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newServer(t *testing.T, svc *fakeService, coll *fakeCollector, pinger api.Pinger) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Attendance: config.AttendanceConfig{GardeningDays: 2},
		Members:    map[string]config.Member{"alice": {Slack: "alice.kim", Name: "Alice"}},
	}
	h := api.NewHandler(svc, coll, pinger, cfg, nil)
	srv := httptest.NewServer(api.NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return srv
}

func defaultService() *fakeService {
	return &fakeService{ledgers: map[string]attendance.Ledger{
		"alice": {
			day5: {{TS: tsA, Message: []string{"commit <https://example.com/1|A>"}}},
			day6: {{TS: tsB, Message: []string{"commit B"}}},
		},
	}}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	return resp, body
}

func TestUsers(t *testing.T) {
	t.Parallel()

	srv := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})
	resp, body := get(t, srv.URL+"/attendance/users")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var got struct {
		Users []struct {
			User  string `json:"user"`
			Slack string `json:"slack"`
			Name  string `json:"name"`
		} `json:"users"`
		StartDate     string `json:"start_date"`
		GardeningDays int    `json:"gardening_days"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(got.Users) != 2 || got.Users[0].Slack != "alice.kim" || got.Users[1].Slack != "bob" {
		t.Errorf("users = %+v", got.Users)
	}
	if got.StartDate != "2019-10-01" || got.GardeningDays != 2 {
		t.Errorf("start_date/gardening_days = %s/%d", got.StartDate, got.GardeningDays)
	}
}

type dayJSON struct {
	Date    string `json:"date"`
	Commits []struct {
		TS      time.Time `json:"ts"`
		Message []string  `json:"message"`
	} `json:"commits"`
}

func TestUserLedger(t *testing.T) {
	t.Parallel()

	srv := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})

	resp, body := get(t, srv.URL+"/attendance/users/alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got map[string][]dayJSON
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	days := got["alice"]
	if len(days) != 2 || days[0].Date != "2019-10-05" || days[1].Date != "2019-10-06" {
		t.Fatalf("ledger = %+v, want two days in order", days)
	}
	if !days[0].Commits[0].TS.Equal(tsA) || days[0].Commits[0].Message[0] != "commit <https://example.com/1|A>" {
		t.Errorf("first commit = %+v", days[0].Commits[0])
	}

	_, body = get(t, srv.URL+"/attendance/users/alice?format=html")
	got = nil
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if html := got["alice"][0].Commits[0].Message[0]; !strings.Contains(html, `href="https://example.com/1"`) {
		t.Errorf("html commit = %q, want rendered link", html)
	}

	_, body = get(t, srv.URL+"/attendance/users/nobody")
	if strings.TrimSpace(string(body)) != `{"nobody":[]}` {
		t.Errorf("unknown user body = %s", body)
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	coll := &fakeCollector{}
	srv := newServer(t, defaultService(), coll, fakePinger{})

	resp, body := get(t, srv.URL+"/attendance/collect?start=2019-10-27&end=2019-10-29")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "{}" {
		t.Errorf("collect = %d %s, want 200 {}", resp.StatusCode, body)
	}
	if coll.start != (civil.Date{Year: 2019, Month: time.October, Day: 27}) || coll.end != (civil.Date{Year: 2019, Month: time.October, Day: 29}) {
		t.Errorf("collected %v..%v", coll.start, coll.end)
	}

	for _, q := range []string{
		"",
		"?start=2019-10-27",
		"?start=yesterday&end=2019-10-29",
		"?start=2019-10-29&end=2019-10-27",
		"?start=2019-10-27&end=2019-10-27",
	} {
		resp, body := get(t, srv.URL+"/attendance/collect"+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("collect%s = %d %s, want 400", q, resp.StatusCode, body)
		}
	}
	if coll.calls != 1 {
		t.Errorf("collector calls = %d, want 1", coll.calls)
	}
}

func TestDayAndAbsent(t *testing.T) {
	t.Parallel()

	srv := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})

	_, body := get(t, srv.URL+"/attendance/days/2019-10-06")
	var report []attendance.DailyEntry
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(report) != 2 || report[0].FirstTS == nil || !report[0].FirstTS.Equal(tsB) || report[1].FirstTS != nil {
		t.Errorf("day report = %s", body)
	}

	_, body = get(t, srv.URL+"/attendance/days/2019-10-06/absent")
	var absent struct {
		Date   string   `json:"date"`
		Absent []string `json:"absent"`
	}
	if err := json.Unmarshal(body, &absent); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if absent.Date != "2019-10-06" || len(absent.Absent) != 1 || absent.Absent[0] != "bob" {
		t.Errorf("absent = %s", body)
	}

	resp, _ := get(t, srv.URL+"/attendance/days/20191006")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", resp.StatusCode)
	}
}

func TestLedgers(t *testing.T) {
	t.Parallel()

	srv := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})
	_, body := get(t, srv.URL+"/attendance/ledgers")

	var got map[string][]dayJSON
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(got["alice"]) != 2 || got["bob"] == nil || len(got["bob"]) != 0 {
		t.Errorf("ledgers = %s", body)
	}
}

func TestCSV(t *testing.T) {
	t.Parallel()

	srv := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})

	resp, body := get(t, srv.URL+"/attendance/csv?start=2019-10-05")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("csv = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	want := "user,2019-10-05,2019-10-06\nalice,2019-10-05 23:50:00,2019-10-06 01:30:00\nbob,,\n"
	if string(body) != want {
		t.Errorf("csv body =\n%s\nwant\n%s", body, want)
	}

	for _, q := range []string{"?days=0", "?days=abc", "?start=bad"} {
		if resp, _ := get(t, srv.URL+"/attendance/csv"+q); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("csv%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestServiceErrors(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fakeService{err: errors.New("db gone")}, &fakeCollector{}, fakePinger{})
	for _, path := range []string{
		"/attendance/users/alice",
		"/attendance/ledgers",
		"/attendance/days/2019-10-06",
		"/attendance/days/2019-10-06/absent",
		"/attendance/csv",
	} {
		resp, body := get(t, srv.URL+path)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("%s status = %d, want 500", path, resp.StatusCode)
		}
		if strings.Contains(string(body), "db gone") {
			t.Errorf("%s leaked internal error: %s", path, body)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	healthy := newServer(t, defaultService(), &fakeCollector{}, fakePinger{})
	if resp, body := get(t, healthy.URL+"/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	down := newServer(t, defaultService(), &fakeCollector{}, fakePinger{err: errors.New("down")})
	if resp, _ := get(t, down.URL+"/health"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health with failing store = %d, want 503", resp.StatusCode)
	}

	resp, body := get(t, healthy.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "gardenbot_http_requests_total") {
		t.Errorf("metrics = %d, missing request counter", resp.StatusCode)
	}

	if resp, _ := get(t, healthy.URL+"/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", resp.StatusCode)
	}
}
