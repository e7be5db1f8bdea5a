package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"aidat/internal/core"
	"aidat/internal/kv"
	"aidat/internal/kv/memory"
	"aidat/internal/metrics"
	"aidat/internal/services"
)

var testNow = time.Date(2025, time.May, 20, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	srv    *Server
	ledger *services.LedgerService
	store  *memory.Store
}

func newTestEnv(t *testing.T, ready func(context.Context) error) *testEnv {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	seq := 0
	ledger := services.NewLedgerService(context.Background(), store,
		services.WithClock(func() time.Time { return testNow }),
		services.WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
		services.WithMetrics(m),
	)
	srv := NewServer(":0", ledger, Options{Metrics: m, Ready: ready, RateLimitPerMinute: 1000})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, ledger: ledger, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t, func(context.Context) error { return nil })

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
	rr := env.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rr.Body.String(), "aidat_unpaid_dues") {
		t.Fatalf("metrics output missing ledger gauge")
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, func(context.Context) error { return errors.New("db locked") })

	rr := env.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "db locked") {
		t.Fatalf("expected failure reason in body: %s", rr.Body.String())
	}
}

func TestStateAndQueries(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("state status=%d", rr.Code)
	}
	snap := decodeBody[core.Snapshot](t, rr)
	if len(snap.Residents) != 5 || len(snap.Periods) != 3 {
		t.Fatalf("unexpected default state: %d residents, %d periods", len(snap.Residents), len(snap.Periods))
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	rr = env.do(t, http.MethodGet, "/api/summary", "")
	summary := decodeBody[services.Summary](t, rr)
	if summary.LatestPeriod == nil || summary.LatestPeriod.Label != "Mayıs 2025" {
		t.Fatalf("unexpected latest period %+v", summary.LatestPeriod)
	}

	rr = env.do(t, http.MethodGet, "/api/debtors", "")
	debtors := decodeBody[[]core.Resident](t, rr)
	if len(debtors) != 2 {
		t.Fatalf("expected 2 debtors in Mayıs 2025, got %d", len(debtors))
	}

	rr = env.do(t, http.MethodGet, "/api/series", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("series status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/expenses/categories", "")
	cats := decodeBody[[]string](t, rr)
	if len(cats) != 5 || cats[0] != core.CategoryBill {
		t.Fatalf("unexpected categories %v", cats)
	}

	rr = env.do(t, http.MethodGet, "/api/dues/draft", "")
	draft := decodeBody[core.DuesPeriod](t, rr)
	if draft.Label != "Mayıs 2025" || draft.DueDate.String() != "2025-05-31" {
		t.Fatalf("unexpected draft %+v", draft)
	}
}

func TestResidentLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/residents",
		`{"fullName":"Zeynep Ak","unitNumber":6,"phone":"0555","moveInDate":"2025-04-01"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody[core.Resident](t, rr)
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	for _, p := range env.ledger.Snapshot().Periods {
		if e, ok := p.EntryFor(created.ID); !ok || e.Paid {
			t.Fatalf("new resident should owe %s", p.Label)
		}
	}

	rr = env.do(t, http.MethodGet, "/api/residents/"+created.ID+"/ledger", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("ledger status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/residents/"+created.ID,
		`{"fullName":"Zeynep Ak Yılmaz","unitNumber":6,"moveInDate":"2025-04-01"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodDelete, "/api/residents/"+created.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	for _, p := range env.ledger.Snapshot().Periods {
		if _, ok := p.EntryFor(created.ID); ok {
			t.Fatalf("entries should be retracted from %s", p.Label)
		}
	}

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodDelete, "/api/residents/" + created.ID, ""},
		{http.MethodPut, "/api/residents/missing", `{"fullName":"X","unitNumber":1,"moveInDate":"2025-01-01"}`},
		{http.MethodGet, "/api/residents/missing/ledger", ""},
	} {
		if rr := env.do(t, tc.method, tc.path, tc.body); rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		field  string
	}{
		{name: "malformed json", method: http.MethodPost, path: "/api/residents", body: `{`, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/residents", body: `{"fullName":"A","unitNumber":1,"moveInDate":"2025-01-01","x":1}`, want: http.StatusBadRequest},
		{name: "missing name", method: http.MethodPost, path: "/api/residents", body: `{"unitNumber":1,"moveInDate":"2025-01-01"}`, want: http.StatusUnprocessableEntity, field: "fullName"},
		{name: "bad date", method: http.MethodPost, path: "/api/residents", body: `{"fullName":"A","unitNumber":1,"moveInDate":"01.01.2025"}`, want: http.StatusUnprocessableEntity, field: "moveInDate"},
		{name: "unparseable period label", method: http.MethodPost, path: "/api/dues", body: `{"periodLabel":"Foo 2025","amount":600,"dueDate":"2025-06-30"}`, want: http.StatusUnprocessableEntity},
		{name: "negative amount", method: http.MethodPost, path: "/api/expenses", body: `{"description":"x","amount":"-5","date":"2025-05-01","category":"Fatura"}`, want: http.StatusUnprocessableEntity},
		{name: "unknown category", method: http.MethodPost, path: "/api/expenses", body: `{"description":"x","amount":5,"date":"2025-05-01","category":"Yemek"}`, want: http.StatusUnprocessableEntity, field: "category"},
		{name: "toggle without paid", method: http.MethodPut, path: "/api/dues/aidat-1/payments/sakin-1", body: `{}`, want: http.StatusUnprocessableEntity, field: "paid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
			if tt.field != "" {
				resp := decodeBody[errorResponse](t, rr)
				if _, ok := resp.Fields[tt.field]; !ok {
					t.Fatalf("expected field error for %s, got %+v", tt.field, resp)
				}
			}
		})
	}
}

func TestDuesEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/dues", `{"periodLabel":"Haziran 2025","amount":"625","dueDate":"2025-06-30"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create period status=%d body=%s", rr.Code, rr.Body.String())
	}
	period := decodeBody[core.DuesPeriod](t, rr)
	if len(period.Entries) != 5 {
		t.Fatalf("expected an entry per resident, got %d", len(period.Entries))
	}

	rr = env.do(t, http.MethodPut, "/api/dues/"+period.ID+"/payments/sakin-2", `{"paid":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle status=%d", rr.Code)
	}
	p, _ := env.ledger.Snapshot().PeriodByID(period.ID)
	if e, _ := p.EntryFor("sakin-2"); !e.Paid {
		t.Fatalf("payment not recorded")
	}

	rr = env.do(t, http.MethodPut, "/api/dues/"+period.ID+"/payments/nobody", `{"paid":true}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing entry, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/dues/missing/payments/sakin-2", `{"paid":true}`)
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "dues period not found") {
		t.Fatalf("expected 404 for unknown period, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestImportIgnoresStaleKeys(t *testing.T) {
	env := newTestEnv(t, nil)

	dataset := `{
		"residents":[{"id":"r1","fullName":"Deniz Er","unitNumber":1,"phone":"","moveInDate":"2024-01-01"}],
		"duesPeriods":[
			{"id":"mar","periodLabel":"Mart 2025","key":{"year":2024,"month":0},"amount":"500","dueDate":"2025-03-31","entries":[{"residentId":"r1","paid":false}]},
			{"id":"feb","periodLabel":"Şubat 2025","amount":"500","dueDate":"2025-02-28","entries":[{"residentId":"r1","paid":true}]}
		],
		"expenses":[]
	}`
	if rr := env.do(t, http.MethodPost, "/api/import", dataset); rr.Code != http.StatusOK {
		t.Fatalf("import status=%d body=%s", rr.Code, rr.Body.String())
	}

	summary := decodeBody[services.Summary](t, env.do(t, http.MethodGet, "/api/summary", ""))
	if summary.LatestPeriod == nil || summary.LatestPeriod.Label != "Mart 2025" {
		t.Fatalf("latest period must follow the label, got %+v", summary.LatestPeriod)
	}
	if len(summary.Debtors) != 1 || summary.Debtors[0].ID != "r1" {
		t.Fatalf("expected r1 to owe Mart 2025, got %+v", summary.Debtors)
	}
}

func TestExpenseEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/expenses", `{"description":"Su Faturası","amount":"210,40","date":"2025-05-12","category":"Fatura"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody[core.Expense](t, rr)
	if !created.Amount.Equal(dec("210.40")) {
		t.Fatalf("comma amount not parsed, got %s", created.Amount)
	}

	rr = env.do(t, http.MethodPut, "/api/expenses/"+created.ID, `{"description":"Su Faturası","amount":220,"date":"2025-05-12","category":"Fatura"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/api/expenses/"+created.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/api/expenses/"+created.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete should 404, got %d", rr.Code)
	}
}

func TestSettingsAndImport(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPut, "/api/settings", `{"apartmentName":"Lale Apartmanı","defaultDueAmount":700}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("settings status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := env.ledger.Snapshot().Settings.ApartmentName; got != "Lale Apartmanı" {
		t.Fatalf("settings not applied: %q", got)
	}

	dataset := `{
		"residents":[{"id":"r1","fullName":"Deniz Er","unitNumber":1,"phone":"","moveInDate":"2024-01-01"}],
		"duesPeriods":[{"id":"p1","periodLabel":"Ocak 2025","amount":"500","dueDate":"2025-01-31","entries":[{"residentId":"r1","paid":true}]}],
		"expenses":[]
	}`
	rr = env.do(t, http.MethodPost, "/api/import", dataset)
	if rr.Code != http.StatusOK {
		t.Fatalf("import status=%d body=%s", rr.Code, rr.Body.String())
	}
	snap := env.ledger.Snapshot()
	if len(snap.Residents) != 1 || len(snap.Periods) != 1 || len(snap.Expenses) != 0 {
		t.Fatalf("dataset not replaced")
	}
	if snap.Settings.ApartmentName != "Lale Apartmanı" {
		t.Fatalf("import must keep settings")
	}

	rr = env.do(t, http.MethodPost, "/api/import", `{"residents":[{"fullName":"No Id","unitNumber":1}],"duesPeriods":[],"expenses":[]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for resident without id, got %d", rr.Code)
	}
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/commands/dues-by-unit", `{"unitNumber":4,"paid":true}`)
	resp := decodeBody[commandResponse](t, rr)
	if rr.Code != http.StatusOK || !resp.OK || !strings.HasPrefix(resp.Message, "Tamamdır, 4 numaralı dairenin Mayıs 2025") {
		t.Fatalf("unexpected command response %d %+v", rr.Code, resp)
	}

	rr = env.do(t, http.MethodPost, "/api/commands/dues-by-unit", `{"unitNumber":99,"paid":true}`)
	resp = decodeBody[commandResponse](t, rr)
	if resp.OK || resp.Message != "Hata: 99 numaralı daire bulunamadı." {
		t.Fatalf("unexpected response for unknown unit %+v", resp)
	}

	rr = env.do(t, http.MethodPost, "/api/commands/expense", `{"description":"Ampul","amount":"85.5","category":"Demirbaş"}`)
	resp = decodeBody[commandResponse](t, rr)
	if !resp.OK || resp.Message != "Anlaşıldı, 85.5 TL tutarında Ampul masrafı Demirbaş kategorisine eklendi." {
		t.Fatalf("unexpected expense command response %+v", resp)
	}

	rr = env.do(t, http.MethodPost, "/api/commands/expense", `{"description":"Ampul","amount":"abc","category":"Demirbaş"}`)
	resp = decodeBody[commandResponse](t, rr)
	if rr.Code != http.StatusOK || resp.OK {
		t.Fatalf("invalid amount should be reported, not recorded: %+v", resp)
	}
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/commands/expense", `{"description":"Ampul","amount":10,"category":"Diğer"}`)

	rr := env.do(t, http.MethodGet, "/api/notifications", "")
	resp := decodeBody[notificationsResponse](t, rr)
	if resp.Unread == 0 || len(resp.Notifications) == 0 {
		t.Fatalf("expected unread notifications, got %+v", resp)
	}

	rr = env.do(t, http.MethodPost, "/api/notifications/read", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("mark read status=%d", rr.Code)
	}
	if env.ledger.UnreadCount() != 0 {
		t.Fatalf("expected all notifications read")
	}
}

func TestRoutingErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	if rr := env.do(t, http.MethodGet, "/api/nothing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPatch, "/api/residents", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestPersistFailureReturns500(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.FailSlot(kv.SlotExpenses, true)

	rr := env.do(t, http.MethodPost, "/api/expenses", `{"description":"x","amount":5,"date":"2025-05-01","category":"Fatura"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if len(env.ledger.Snapshot().Expenses) != 5 {
		t.Fatalf("change should stay applied in memory")
	}
}

func TestRateLimit(t *testing.T) {
	store := memory.New()
	ledger := services.NewLedgerService(context.Background(), store, services.WithClock(func() time.Time { return testNow }))
	srv := NewServer(":0", ledger, Options{RateLimitPerMinute: 2})
	defer srv.Shutdown(context.Background())

	var last int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last)
	}
}
