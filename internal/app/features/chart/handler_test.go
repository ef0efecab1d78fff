package chart_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/rollchart/internal/app/features/chart"
	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/rollchart/internal/app/system/ratelimit"
	"github.com/dalemusser/rollchart/internal/app/system/viewsession"
	"github.com/dalemusser/rollchart/internal/domain/models"
	"github.com/dalemusser/rollchart/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const testSessionKey = "test-session-key-0123456789abcdef0123"

// memSource is an in-memory chart collection.
type memSource struct {
	mu              sync.Mutex
	records         []models.ChartRecord
	failAttendance  bool
	blockAttendance bool
}

func (m *memSource) Find(ctx context.Context, classID string, f models.ChartFilter) ([]models.ChartRecord, error) {
	m.mu.Lock()
	fail, block := m.failAttendance, m.blockAttendance
	var out []models.ChartRecord
	for _, rec := range m.records {
		if rec.Class != classID {
			continue
		}
		if f.Date != "" && rec.Date != f.Date {
			continue
		}
		if f.Period != "" && rec.Period != f.Period {
			continue
		}
		out = append(out, rec)
	}
	m.mu.Unlock()

	if f.Period != "" {
		if block {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if fail {
			return nil, errors.New("connection reset")
		}
	}
	if f.SortByPeriod {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	}
	return out, nil
}

func sampleSource() *memSource {
	return &memSource{records: []models.ChartRecord{
		{Class: "7a", Date: "2024-01-02", Period: "1", List: []models.StudentMark{
			testutil.Mark(1, "Asha", false), testutil.Mark(2, "Ben", true),
		}},
		{Class: "7a", Date: "2024-01-03", Period: "1", List: []models.StudentMark{
			testutil.Mark(1, "Cara", false),
		}},
		{Class: "7a", Date: "2024-01-02", Period: "2", List: []models.StudentMark{
			testutil.Mark(3, "Dev", false),
		}},
		{Class: "8b", Date: "2024-02-01", Period: "4", List: []models.StudentMark{
			testutil.Mark(9, "Eli", true),
		}},
	}}
}

type testEnv struct {
	router  http.Handler
	handler *chart.Handler
	views   *chartview.Registry
}

func newTestEnv(t *testing.T, src chartview.Source, settleTimeout time.Duration) *testEnv {
	t.Helper()
	return newLimitedTestEnv(t, src, settleTimeout, nil)
}

func newLimitedTestEnv(t *testing.T, src chartview.Source, settleTimeout time.Duration, opens *ratelimit.Limiter) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	views := chartview.NewRegistry(src, time.Minute, logger)
	t.Cleanup(views.Close)

	sessions, err := viewsession.New(testSessionKey, "rollchart-test", "", false, logger)
	if err != nil {
		t.Fatalf("viewsession.New: %v", err)
	}

	h := chart.NewHandler(views, sessions, settleTimeout, nil, opens, logger)
	r := chi.NewRouter()
	r.Mount("/classes/{classNamee}/chart", chart.Routes(h))
	return &testEnv{router: r, handler: h, views: views}
}

func (e *testEnv) do(req *http.Request, cookies []*http.Cookie) *testutil.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) state(t *testing.T, class string, cookies []*http.Cookie) (chartview.State, []*http.Cookie) {
	t.Helper()
	rec := e.do(testutil.NewRequest("GET", "/classes/"+class+"/chart/state"), cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET state: status %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var s chartview.State
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if got := rec.Result().Cookies(); len(got) > 0 {
		cookies = got
	}
	return s, cookies
}

func TestServeState_SettlesInitialCascade(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	s, _ := env.state(t, "7a", nil)

	if s.ClassID != "7a" {
		t.Errorf("ClassID = %q, want 7a", s.ClassID)
	}
	if s.SelectedDate != "2024-01-02" || s.SelectedPeriod != "1" {
		t.Errorf("selection = %q/%q, want 2024-01-02/1", s.SelectedDate, s.SelectedPeriod)
	}
	if want := []string{"2024-01-02"}; !equalStrings(s.Dates, want) {
		t.Errorf("Dates = %v, want %v", s.Dates, want)
	}
	if want := []string{"1", "2"}; !equalStrings(s.Periods, want) {
		t.Errorf("Periods = %v, want %v", s.Periods, want)
	}
	if len(s.Rows) != 2 || s.Rows[0].Name != "Asha" || !s.Rows[1].Absent {
		t.Errorf("Rows = %+v, want Asha then absent Ben", s.Rows)
	}
	if s.Loading {
		t.Error("expected Loading to be false once settled")
	}
	if s.Phase != chartview.AttendanceLoaded {
		t.Errorf("Phase = %v, want attendance_loaded", s.Phase)
	}
}

func TestServeState_ResumesViewFromCookie(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	_, cookies := env.state(t, "7a", nil)
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie on first visit")
	}
	env.state(t, "7a", cookies)

	if n := env.views.Len(); n != 1 {
		t.Errorf("live views = %d, want 1", n)
	}
}

func TestServeState_NewBrowserGetsNewView(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	env.state(t, "7a", nil)
	env.state(t, "7a", nil)

	if n := env.views.Len(); n != 2 {
		t.Errorf("live views = %d, want 2", n)
	}
}

func TestServeState_ViewIsScopedToClass(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	_, cookies := env.state(t, "7a", nil)
	s, _ := env.state(t, "8b", cookies)

	if s.ClassID != "8b" {
		t.Fatalf("ClassID = %q, want 8b", s.ClassID)
	}
	if len(s.Rows) != 1 || s.Rows[0].Name != "Eli" {
		t.Errorf("Rows = %+v, want only Eli", s.Rows)
	}
}

func TestSelectPeriod_RedirectsAndUpdatesState(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	_, cookies := env.state(t, "7a", nil)

	rec := env.do(testutil.NewFormRequest("/classes/7a/chart/period", "period=2"), cookies)
	rec.AssertStatus(t, http.StatusSeeOther)
	rec.AssertRedirect(t, "/classes/7a/chart/")

	s, _ := env.state(t, "7a", cookies)
	if s.SelectedPeriod != "2" {
		t.Errorf("SelectedPeriod = %q, want 2", s.SelectedPeriod)
	}
	if len(s.Rows) != 1 || s.Rows[0].Roll != 3 {
		t.Errorf("Rows = %+v, want roll 3 only", s.Rows)
	}
}

func TestSelectDate_ReselectKeepsState(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	before, cookies := env.state(t, "7a", nil)

	rec := env.do(testutil.NewFormRequest("/classes/7a/chart/date", "date="+url.QueryEscape(before.SelectedDate)), cookies)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}

	after, _ := env.state(t, "7a", cookies)
	if after.SelectedDate != before.SelectedDate || after.SelectedPeriod != before.SelectedPeriod {
		t.Errorf("selection changed: %q/%q -> %q/%q",
			before.SelectedDate, before.SelectedPeriod, after.SelectedDate, after.SelectedPeriod)
	}
	if len(after.Rows) != len(before.Rows) {
		t.Errorf("rows changed: %d -> %d", len(before.Rows), len(after.Rows))
	}
}

func TestSelectDate_UnknownDateGivesEmptyTable(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	_, cookies := env.state(t, "7a", nil)

	env.do(testutil.NewFormRequest("/classes/7a/chart/date", "date=1999-12-31"), cookies)

	s, _ := env.state(t, "7a", cookies)
	if len(s.Rows) != 0 {
		t.Errorf("Rows = %+v, want none", s.Rows)
	}
	if s.Loading {
		t.Error("expected Loading to be false")
	}
	if s.Failure != nil {
		t.Errorf("empty result should not be a failure, got %+v", s.Failure)
	}
}

func TestSelect_EmptyValueIsBadRequest(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	tests := []struct {
		name   string
		target string
		body   string
		want   string
	}{
		{"empty date", "/classes/7a/chart/date", "date=", "date is required"},
		{"missing date", "/classes/7a/chart/date", "", "date is required"},
		{"blank period", "/classes/7a/chart/period", "period=%20%20", "period is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(testutil.NewFormRequest(tt.target, tt.body), nil)
			rec.AssertStatus(t, http.StatusBadRequest)
			rec.AssertContains(t, tt.want)
		})
	}
}

func TestServeState_AttendanceFailureIsReported(t *testing.T) {
	src := sampleSource()
	src.failAttendance = true
	env := newTestEnv(t, src, 5*time.Second)

	s, _ := env.state(t, "7a", nil)

	if s.Failure == nil || s.Failure.Stage != chartview.StageAttendance {
		t.Fatalf("Failure = %+v, want attendance failure", s.Failure)
	}
	if len(s.Rows) != 0 {
		t.Errorf("Rows = %+v, want none after failure", s.Rows)
	}
	if s.Loading {
		t.Error("expected Loading to be false after failure")
	}
}

func TestServeState_SettleTimeout(t *testing.T) {
	src := sampleSource()
	src.blockAttendance = true
	env := newTestEnv(t, src, 50*time.Millisecond)

	rec := env.do(testutil.NewRequest("GET", "/classes/7a/chart/state"), nil)
	rec.AssertStatus(t, http.StatusGatewayTimeout)
}

func TestOpenView_LimitsNewViewsPerClient(t *testing.T) {
	opens := ratelimit.New(1, time.Minute)
	t.Cleanup(opens.Stop)
	env := newLimitedTestEnv(t, sampleSource(), 5*time.Second, opens)

	first := env.do(testutil.NewRequest("GET", "/classes/7a/chart/state"), nil)
	first.AssertStatus(t, http.StatusOK)
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	cookies := first.Result().Cookies()

	// Resuming an existing view does not count against the limit.
	env.state(t, "7a", cookies)

	rec := env.do(testutil.NewRequest("GET", "/classes/7a/chart/state"), nil)
	rec.AssertStatus(t, http.StatusTooManyRequests)
	if n := env.views.Len(); n != 1 {
		t.Errorf("live views = %d, want 1", n)
	}
}

func TestOpenView_IgnoresForwardedForUnlessTrusted(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       int
	}{
		{"untrusted", false, http.StatusTooManyRequests},
		{"trusted proxy", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opens := ratelimit.New(1, time.Minute)
			t.Cleanup(opens.Stop)
			env := newLimitedTestEnv(t, sampleSource(), 5*time.Second, opens)
			env.handler.TrustProxy = tt.trustProxy

			for i, ip := range []string{"203.0.113.1", "203.0.113.2"} {
				req := testutil.NewRequest("GET", "/classes/7a/chart/state")
				req.Header.Set("X-Forwarded-For", ip)
				rec := env.do(req, nil)
				if i == 0 {
					rec.AssertStatus(t, http.StatusOK)
					continue
				}
				rec.AssertStatus(t, tt.want)
			}
		})
	}
}

func TestServeState_ReadsClassFromRoute(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)

	req := testutil.WithChiURLParam(testutil.NewRequest("GET", "/state"), chart.ClassParam, "8b")
	rec := testutil.NewRecorder()
	env.handler.ServeState(rec, req)

	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"class_id":"8b"`)
	rec.AssertContains(t, `"name":"Eli"`)
}

func TestPaths(t *testing.T) {
	if got := chart.PagePath("7 a"); got != "/classes/7%20a/chart/" {
		t.Errorf("PagePath = %q", got)
	}
	if got := chart.BackPath("7a"); got != "/en/auth/class/7a" {
		t.Errorf("BackPath = %q", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
