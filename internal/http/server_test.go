package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"pesa/internal/auth"
	"pesa/internal/budget"
	"pesa/internal/core"
	"pesa/internal/currency"
	"pesa/internal/events"
	"pesa/internal/log"
	"pesa/internal/services"
	"pesa/internal/storage"
)

type stubRates struct {
	rates currency.Rates
	err   error
}

func (s stubRates) Latest(context.Context, string) (currency.Rates, error) { return s.rates, s.err }

type testEnv struct {
	srv   *Server
	repo  *storage.SQLiteRepository
	token string
}

func newTestEnv(t *testing.T, rates stubRates) *testEnv {
	t.Helper()
	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "pesa.db"), bus)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ledger := services.NewLedgerService(repo, nil, logger)
	if _, err := ledger.SeedDefaultCategories(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	authSvc, err := auth.NewService(repo, nil, auth.Config{Secret: []byte("test-secret-0123456789")}, logger)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	srv := NewServer(":0", Deps{
		Ledger:             ledger,
		Auth:               authSvc,
		Currency:           currency.NewService(rates, repo, "KES", logger),
		Budgets:            budget.NewAggregator(repo, bus, logger),
		Preferences:        repo,
		Storage:            repo,
		Logger:             logger,
		RateLimitPerMinute: 1000,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	env := &testEnv{srv: srv, repo: repo}
	rr := env.do(t, http.MethodPost, "/api/auth/signup", `{"email":"amina@example.com","password":"secret1","name":"Amina"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status=%d body=%s", rr.Code, rr.Body.String())
	}
	var sess sessionJSON
	decodeBody(t, rr, &sess)
	env.token = sess.Token
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func categoryID(t *testing.T, e *testEnv, name string) int64 {
	t.Helper()
	c, err := e.repo.FindCategoryByName(context.Background(), name)
	if err != nil {
		t.Fatalf("find %s: %v", name, err)
	}
	return c.ID
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	env.token = ""

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	good := env.token

	env.token = ""
	if rr := env.do(t, http.MethodGet, "/api/categories", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", rr.Code)
	}
	env.token = "not-a-jwt"
	if rr := env.do(t, http.MethodGet, "/api/categories", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status=%d", rr.Code)
	}
	env.token = ""
	if rr := env.do(t, http.MethodGet, "/api/categories?token="+good, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("query tokens are only accepted on the websocket: status=%d", rr.Code)
	}
	env.token = good
	if rr := env.do(t, http.MethodGet, "/api/categories", ""); rr.Code != http.StatusOK {
		t.Fatalf("valid token: status=%d", rr.Code)
	}
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	env.token = ""

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"signin ok", "/api/auth/signin", `{"email":"AMINA@example.com","password":"secret1"}`, http.StatusOK},
		{"wrong password", "/api/auth/signin", `{"email":"amina@example.com","password":"nope123"}`, http.StatusUnauthorized},
		{"duplicate email", "/api/auth/signup", `{"email":"amina@example.com","password":"secret1"}`, http.StatusConflict},
		{"invalid email", "/api/auth/signup", `{"email":"amina","password":"secret1"}`, http.StatusUnprocessableEntity},
		{"short password", "/api/auth/signup", `{"email":"b@example.com","password":"123"}`, http.StatusUnprocessableEntity},
		{"unknown field", "/api/auth/signin", `{"email":"a@b.c","password":"x","admin":true}`, http.StatusBadRequest},
		{"google not configured", "/api/auth/google", `{"id_token":"x"}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tc.path, tc.body)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
			if rr.Code >= 400 {
				var body errorBody
				decodeBody(t, rr, &body)
				if body.Error == "" {
					t.Error("error responses carry a message")
				}
			}
		})
	}
}

func TestCategoryEndpoints(t *testing.T) {
	env := newTestEnv(t, stubRates{})

	rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Chama","icon":"groups","color":"#123456","type":"expense"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var created categoryJSON
	decodeBody(t, rr, &created)
	if created.Type != "EXPENSE" || created.System {
		t.Fatalf("unexpected category %+v", created)
	}

	rr = env.do(t, http.MethodPost, "/api/categories", `{"name":"Chama","type":"EXPENSE"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/categories", `{"name":"Bad","color":"red","type":"EXPENSE"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad color status=%d", rr.Code)
	}

	path := "/api/categories/" + strconv.FormatInt(created.ID, 10)
	rr = env.do(t, http.MethodPut, path, `{"name":"Chama Group","color":"#654321","type":"EXPENSE"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodDelete, "/api/categories/"+strconv.FormatInt(categoryID(t, env, "Food"), 10), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("deleting a system category: status=%d", rr.Code)
	}

	owner := env.token
	rr = env.do(t, http.MethodPost, "/api/auth/signup", `{"email":"baraka@example.com","password":"secret2","name":"Baraka"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("second signup status=%d body=%s", rr.Code, rr.Body.String())
	}
	var other sessionJSON
	decodeBody(t, rr, &other)
	env.token = other.Token
	if rr := env.do(t, http.MethodPut, path, `{"name":"Taken","type":"EXPENSE"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("update by another user: status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("delete by another user: status=%d", rr.Code)
	}
	env.token = owner
	if rr := env.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/categories/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/categories", "")
	var list []categoryJSON
	decodeBody(t, rr, &list)
	if len(list) != len(services.DefaultCategories) {
		t.Fatalf("expected %d categories, got %d", len(services.DefaultCategories), len(list))
	}
}

func TestTransactionLifecycle(t *testing.T) {
	env := newTestEnv(t, stubRates{})

	rr := env.do(t, http.MethodPost, "/api/transactions",
		`{"amount":"1500.50","type":"EXPENSE","category":"Food","date":"2024-05-03","note":"Lunch","tags":["work"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var tx transactionJSON
	decodeBody(t, rr, &tx)
	if tx.Amount != "1500.50" || tx.CategoryName != "Food" || tx.CategoryID == nil {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	path := "/api/transactions/" + strconv.FormatInt(tx.ID, 10)

	if rr := env.do(t, http.MethodGet, path, ""); rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, path, `{"amount":250,"type":"EXPENSE","date":"2024-05-04"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &tx)
	if tx.Amount != "250.00" || tx.CategoryID != nil {
		t.Fatalf("update should replace fields, got %+v", tx)
	}

	rr = env.do(t, http.MethodGet, "/api/transactions?month=2024-05", "")
	var list []transactionJSON
	decodeBody(t, rr, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 transaction in May, got %d", len(list))
	}
	rr = env.do(t, http.MethodGet, "/api/transactions?month=2024-06", "")
	decodeBody(t, rr, &list)
	if len(list) != 0 {
		t.Fatalf("expected no transactions in June, got %d", len(list))
	}
	if rr := env.do(t, http.MethodGet, "/api/transactions?month=May", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad month filter status=%d", rr.Code)
	}

	if rr := env.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, path, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rr.Code)
	}
}

func TestTransactionValidation(t *testing.T) {
	env := newTestEnv(t, stubRates{})

	cases := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", `{"amount":"0","type":"EXPENSE"}`, http.StatusUnprocessableEntity},
		{"missing amount", `{"type":"EXPENSE"}`, http.StatusUnprocessableEntity},
		{"bad type", `{"amount":"10","type":"TRANSFER"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"amount":"10","type":"EXPENSE","date":"03/05/2024"}`, http.StatusUnprocessableEntity},
		{"not a number", `{"amount":"ten","type":"EXPENSE"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/transactions", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestTransactionInDisplayCurrency(t *testing.T) {
	env := newTestEnv(t, stubRates{rates: currency.Rates{Base: "KES", Rates: map[string]decimal.Decimal{
		"USD": decimal.RequireFromString("0.0077"),
	}}})

	if rr := env.do(t, http.MethodPut, "/api/preferences/currency", `{"code":"usd"}`); rr.Code != http.StatusOK {
		t.Fatalf("set currency status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr := env.do(t, http.MethodPost, "/api/transactions", `{"amount":"7.70","type":"EXPENSE","display_currency":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var tx transactionJSON
	decodeBody(t, rr, &tx)
	if tx.Amount != "1000.00" {
		t.Fatalf("expected the amount converted to KES, got %s", tx.Amount)
	}
}

func TestBudgetEndpoints(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	food := strconv.FormatInt(categoryID(t, env, "Food"), 10)

	rr := env.do(t, http.MethodPut, "/api/budgets/"+food, `{"limit":5000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set budget status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPut, "/api/budgets/"+food, `{"limit":-1}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative limit status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodPut, "/api/budgets/99999", `{"limit":10}`); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown category status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/transactions", `{"amount":"4600","type":"EXPENSE","category":"Food"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}

	err := env.repo.SetPreferences(context.Background(), map[string]string{
		storage.PrefCurrencyCode:   "USD",
		storage.PrefCurrencySymbol: "$",
		storage.PrefCurrencyRate:   "0.0077",
	})
	if err != nil {
		t.Fatal(err)
	}

	rr = env.do(t, http.MethodGet, "/api/budgets?currency=display", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var states []budgetStateJSON
	decodeBody(t, rr, &states)
	var found bool
	for _, s := range states {
		if s.CategoryName != "Food" {
			continue
		}
		found = true
		if s.PercentUsed != 92 || !s.NearLimit || s.OverBudget {
			t.Errorf("unexpected Food state %+v", s)
		}
		if s.Display == nil || s.Display.Spent != "$35.42" || s.Display.Currency != "USD" {
			t.Errorf("unexpected display %+v", s.Display)
		}
	}
	if !found {
		t.Fatal("Food missing from budget states")
	}

	if rr := env.do(t, http.MethodDelete, "/api/budgets/"+food, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/budgets/"+food, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestMonthlyReport(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	env.do(t, http.MethodPost, "/api/transactions", `{"amount":"50000","type":"INCOME","category":"Salary","date":"2024-03-01"}`)
	env.do(t, http.MethodPost, "/api/transactions", `{"amount":"1200","type":"EXPENSE","category":"Transport","date":"2024-03-10"}`)

	rr := env.do(t, http.MethodGet, "/api/reports/monthly?year=2024&month=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var ov overviewJSON
	decodeBody(t, rr, &ov)
	if ov.Income != "50000.00" || ov.Expense != "1200.00" || ov.Net != "48800.00" {
		t.Fatalf("unexpected overview %+v", ov)
	}

	if rr := env.do(t, http.MethodGet, "/api/reports/monthly?year=2024&month=13", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid month status=%d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	env.do(t, http.MethodPost, "/api/transactions", `{"amount":"10","type":"EXPENSE","category":"Food","date":"2024-01-02","note":"tea, mandazi"}`)
	env.do(t, http.MethodPost, "/api/transactions", `{"amount":"20","type":"EXPENSE","date":"2024-02-02"}`)

	rr := env.do(t, http.MethodGet, "/api/transactions/export.csv?month=2024-01", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "pesa-transactions-2024-01.csv") {
		t.Errorf("content disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %q", rr.Body.String())
	}
	if !strings.Contains(lines[1], "tea mandazi") {
		t.Errorf("commas should be stripped from notes: %q", lines[1])
	}
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	_, err := env.repo.AppendNotification(context.Background(), core.Notification{
		Title: "Budget Alert", Message: "Food is at 92%", Timestamp: time.Now(), Type: core.NotificationBudget,
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/api/notifications", "")
	var body struct {
		Unread        int64              `json:"unread"`
		Notifications []notificationJSON `json:"notifications"`
	}
	decodeBody(t, rr, &body)
	if body.Unread != 1 || len(body.Notifications) != 1 || body.Notifications[0].Type != "BUDGET" {
		t.Fatalf("unexpected notifications %+v", body)
	}

	if rr := env.do(t, http.MethodPost, "/api/notifications/read-all", ""); rr.Code != http.StatusOK {
		t.Fatalf("read-all status=%d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/notifications", "")
	decodeBody(t, rr, &body)
	if body.Unread != 0 || !body.Notifications[0].Read {
		t.Fatalf("expected everything read, got %+v", body)
	}
	if rr := env.do(t, http.MethodGet, "/api/notifications?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", rr.Code)
	}
}

func TestThemePreference(t *testing.T) {
	env := newTestEnv(t, stubRates{})

	var theme themeRequest
	decodeBody(t, env.do(t, http.MethodGet, "/api/preferences/theme", ""), &theme)
	if theme.Theme != "SYSTEM" {
		t.Fatalf("default theme %q", theme.Theme)
	}
	if rr := env.do(t, http.MethodPut, "/api/preferences/theme", `{"theme":"dark"}`); rr.Code != http.StatusOK {
		t.Fatalf("set status=%d", rr.Code)
	}
	decodeBody(t, env.do(t, http.MethodGet, "/api/preferences/theme", ""), &theme)
	if theme.Theme != "DARK" {
		t.Fatalf("theme did not round-trip, got %q", theme.Theme)
	}
	if rr := env.do(t, http.MethodPut, "/api/preferences/theme", `{"theme":"PINK"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid theme status=%d", rr.Code)
	}
}

func TestCurrencyPreference(t *testing.T) {
	t.Run("change and read back", func(t *testing.T) {
		env := newTestEnv(t, stubRates{rates: currency.Rates{Base: "KES", Rates: map[string]decimal.Decimal{
			"USD": decimal.RequireFromString("0.0077"),
		}}})

		var pref currencyJSON
		decodeBody(t, env.do(t, http.MethodGet, "/api/preferences/currency", ""), &pref)
		if pref.Code != "KES" || pref.Rate != "1" {
			t.Fatalf("default currency %+v", pref)
		}

		rr := env.do(t, http.MethodPut, "/api/preferences/currency", `{"code":"USD"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		decodeBody(t, env.do(t, http.MethodGet, "/api/preferences/currency", ""), &pref)
		if pref.Code != "USD" || pref.Rate != "0.0077" {
			t.Fatalf("stored currency %+v", pref)
		}

		if rr := env.do(t, http.MethodPut, "/api/preferences/currency", `{"code":"XYZ"}`); rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("unknown code status=%d", rr.Code)
		}
	})

	t.Run("provider down", func(t *testing.T) {
		env := newTestEnv(t, stubRates{err: errors.New("connection refused")})
		rr := env.do(t, http.MethodPut, "/api/preferences/currency", `{"code":"USD"}`)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status=%d", rr.Code)
		}
		var pref currencyJSON
		decodeBody(t, env.do(t, http.MethodGet, "/api/preferences/currency", ""), &pref)
		if pref.Code != "KES" {
			t.Fatalf("failed change must keep the old preference, got %+v", pref)
		}
	})
}

func TestBudgetsWebsocket(t *testing.T) {
	env := newTestEnv(t, stubRates{})
	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/budgets"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got err=%v resp=%v", err, resp)
	}

	food := core.Category{ID: 1, Name: "Food", Type: core.Expense}
	first := budget.Update{
		States: []core.BudgetState{core.NewBudgetState(food, decimal.NewFromInt(4600), decimal.NewFromInt(5000))},
		At:     time.Now(),
	}
	if err := env.srv.BroadcastBudgets(first); err != nil {
		t.Fatal(err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+env.token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg budgetsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg.Type != "budgets" || len(msg.Budgets) != 1 || !msg.Budgets[0].NearLimit {
		t.Fatalf("unexpected snapshot %+v", msg)
	}

	updates := make(chan budget.Update, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.RunBudgetFeed(ctx, updates)

	updates <- budget.Update{Err: errors.New("source down")}
	updates <- budget.Update{
		States: []core.BudgetState{core.NewBudgetState(food, decimal.NewFromInt(5500), decimal.NewFromInt(5000))},
		At:     time.Now(),
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !msg.Budgets[0].OverBudget {
		t.Fatalf("expected the over-budget update, got %+v", msg.Budgets[0])
	}
}

func TestRateLimitReturnsJSON(t *testing.T) {
	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
	srv := NewServer(":0", Deps{Logger: logger, RateLimitPerMinute: 1})
	defer srv.Shutdown(context.Background())

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		last = httptest.NewRecorder()
		srv.Handler.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", last.Code)
	}
	var body errorBody
	if err := json.NewDecoder(bytes.NewReader(last.Body.Bytes())).Decode(&body); err != nil || body.Error == "" {
		t.Fatalf("expected JSON error body, got %q", last.Body.String())
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
