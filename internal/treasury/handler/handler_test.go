package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/approval"
	"github.com/jmerrifield20/LoanTreasury/internal/clock"
	"github.com/jmerrifield20/LoanTreasury/internal/identity"
	"github.com/jmerrifield20/LoanTreasury/internal/journal"
	"github.com/jmerrifield20/LoanTreasury/internal/store/memory"
	"github.com/jmerrifield20/LoanTreasury/internal/store/sqlite"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/handler"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/service"
	"go.uber.org/zap"
)

const (
	gov      = "ST2GOV"
	agg      = "ST3AGG"
	borrower = "ST1BORROWER"
)

type testEnv struct {
	router    *gin.Engine
	svc       *service.TreasuryService
	clock     *clock.Manual
	approvals *approval.Static
	journal   *journal.MemoryJournal
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		clock:     clock.NewManual(0),
		approvals: approval.NewStatic(),
		journal:   journal.NewMemory(),
	}
	env.svc = service.NewTreasuryService(memory.New(), env.clock, env.approvals, zap.NewNop())
	env.svc.SetJournal(env.journal)
	env.svc.SetRecorder(handler.PromRecorder{})
	if err := env.svc.Load(context.Background(), service.Genesis{}); err != nil {
		t.Fatal(err)
	}

	requireCaller := identity.RequireCaller(nil)
	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewTreasuryHandler(env.svc, requireCaller, zap.NewNop()).Register(v1)
	handler.NewApprovalHandler(env.approvals, env.svc, requireCaller, zap.NewNop()).Register(v1)
	handler.NewClockHandler(env.clock, requireCaller, zap.NewNop()).Register(v1)
	handler.NewJournalHandler(env.journal, zap.NewNop()).Register(v1)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(identity.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	return w, resp
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// bootstrap registers governance and the aggregator, then funds the treasury.
func (e *testEnv) bootstrap(t *testing.T, funds uint64) {
	t.Helper()
	w, _ := e.do(t, http.MethodPost, "/api/v1/governance/governance", gov, gin.H{"contract": gov})
	expectStatus(t, w, http.StatusOK)
	w, _ = e.do(t, http.MethodPost, "/api/v1/governance/threshold-aggregator", agg, gin.H{"contract": agg})
	expectStatus(t, w, http.StatusOK)
	w, _ = e.do(t, http.MethodPost, "/api/v1/treasury/fund", gov, gin.H{"amount": funds})
	expectStatus(t, w, http.StatusOK)
}

func loanBody(id, amount uint64) gin.H {
	return gin.H{
		"borrower":           borrower,
		"amount":             amount,
		"request_id":         id,
		"repayment_schedule": 30,
		"impact_data":        "Impact data",
		"currency":           "STX",
	}
}

func TestOverview_defaults(t *testing.T) {
	env := setupRouter(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/treasury", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["min_disbursement_amount"].(float64) != 100 || resp["max_disbursement_amount"].(float64) != 1_000_000 {
		t.Errorf("bounds: %v", resp)
	}
	if resp["disbursement_paused"] != false || resp["self"] != "treasury" {
		t.Errorf("overview: %v", resp)
	}
}

func TestMutatingRoutes_requireCaller(t *testing.T) {
	env := setupRouter(t)
	w, _ := env.do(t, http.MethodPost, "/api/v1/treasury/fund", "", gin.H{"amount": 100})
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestFund_beforeGovernance(t *testing.T) {
	env := setupRouter(t)
	w, resp := env.do(t, http.MethodPost, "/api/v1/treasury/fund", gov, gin.H{"amount": 100})
	expectStatus(t, w, http.StatusConflict)
	if resp["code"].(float64) != 1015 || resp["error"] != "governance_not_set" {
		t.Errorf("body: %v", resp)
	}
}

func TestRegisterContract_errors(t *testing.T) {
	env := setupRouter(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/governance/governance", "ST1OTHER", gin.H{"contract": gov})
	expectStatus(t, w, http.StatusForbidden)
	if resp["code"].(float64) != 1000 {
		t.Errorf("body: %v", resp)
	}

	w, _ = env.do(t, http.MethodPost, "/api/v1/governance/auditor", gov, gin.H{"contract": gov})
	expectStatus(t, w, http.StatusNotFound)

	w, _ = env.do(t, http.MethodPost, "/api/v1/governance/governance", gov, gin.H{})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestDisburse_endToEnd(t *testing.T) {
	env := setupRouter(t)
	env.bootstrap(t, 10_000)

	// Not yet approved.
	env.clock.Set(10) //nolint:errcheck
	w, resp := env.do(t, http.MethodPost, "/api/v1/loans", agg, loanBody(1, 500))
	expectStatus(t, w, http.StatusConflict)
	if resp["code"].(float64) != 1001 {
		t.Errorf("body: %v", resp)
	}

	// Only the aggregator may approve.
	w, _ = env.do(t, http.MethodPut, "/api/v1/approvals/1", gov, gin.H{"approved": true})
	expectStatus(t, w, http.StatusForbidden)
	w, _ = env.do(t, http.MethodPut, "/api/v1/approvals/1", agg, gin.H{"approved": true})
	expectStatus(t, w, http.StatusOK)

	w, resp = env.do(t, http.MethodPost, "/api/v1/loans", agg, loanBody(1, 500))
	expectStatus(t, w, http.StatusCreated)
	loan := resp["loan"].(map[string]any)
	if loan["borrower"] != borrower || loan["disbursement_time"].(float64) != 10 {
		t.Errorf("loan: %v", loan)
	}

	w, resp = env.do(t, http.MethodGet, "/api/v1/treasury", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["treasury_balance"].(float64) != 9_500 || resp["disbursement_count"].(float64) != 1 {
		t.Errorf("overview: %v", resp)
	}

	w, _ = env.do(t, http.MethodGet, "/api/v1/loans/1", "", nil)
	expectStatus(t, w, http.StatusOK)
	w, _ = env.do(t, http.MethodGet, "/api/v1/loans/2", "", nil)
	expectStatus(t, w, http.StatusNotFound)
	w, _ = env.do(t, http.MethodGet, "/api/v1/loans/abc", "", nil)
	expectStatus(t, w, http.StatusBadRequest)

	w, resp = env.do(t, http.MethodGet, "/api/v1/treasury/transfers?limit=10", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["count"].(float64) != 2 {
		t.Errorf("transfers: %v", resp)
	}

	// Duplicate at a later height.
	env.clock.Advance(1) //nolint:errcheck
	w, resp = env.do(t, http.MethodPost, "/api/v1/loans", agg, loanBody(1, 500))
	expectStatus(t, w, http.StatusConflict)
	if resp["code"].(float64) != 1004 {
		t.Errorf("body: %v", resp)
	}

	// Impact recording by the borrower.
	w, _ = env.do(t, http.MethodPost, "/api/v1/loans/1/impact", "ST3FAKE", gin.H{"impact_data": "report"})
	expectStatus(t, w, http.StatusForbidden)
	w, _ = env.do(t, http.MethodPost, "/api/v1/loans/1/impact", borrower, gin.H{"impact_data": "report"})
	expectStatus(t, w, http.StatusOK)
	w, resp = env.do(t, http.MethodPost, "/api/v1/loans/1/impact", borrower, gin.H{"impact_data": "again"})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if resp["code"].(float64) != 1018 {
		t.Errorf("body: %v", resp)
	}

	w, resp = env.do(t, http.MethodGet, "/api/v1/journal", "", nil)
	expectStatus(t, w, http.StatusOK)
	// genesis, 2 registrations, fund, disburse, impact
	if resp["entries"].(float64) != 6 {
		t.Errorf("journal: %v", resp)
	}
	w, resp = env.do(t, http.MethodGet, "/api/v1/journal/verify", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["valid"] != true {
		t.Errorf("verify: %v", resp)
	}
	w, resp = env.do(t, http.MethodGet, "/api/v1/journal/entries/4", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["action"] != journal.ActionDisburse {
		t.Errorf("entry: %v", resp)
	}
	w, _ = env.do(t, http.MethodGet, "/api/v1/journal/entries/99", "", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestDisburse_invalidAmount(t *testing.T) {
	env := setupRouter(t)
	env.bootstrap(t, 10_000)
	env.clock.Set(10) //nolint:errcheck

	w, resp := env.do(t, http.MethodPost, "/api/v1/loans", agg, loanBody(1, 50))
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if resp["code"].(float64) != 1003 {
		t.Errorf("body: %v", resp)
	}
}

func TestFund_valueBeyondStorageRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := sqlite.Open(context.Background(), ":memory:", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	svc := service.NewTreasuryService(st, clock.NewManual(0), nil, zap.NewNop())
	if err := svc.Load(context.Background(), service.Genesis{}); err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	handler.NewTreasuryHandler(svc, identity.RequireCaller(nil), zap.NewNop()).Register(r.Group("/api/v1"))
	env := &testEnv{router: r, svc: svc}

	w, _ := env.do(t, http.MethodPost, "/api/v1/governance/governance", gov, gin.H{"contract": gov})
	expectStatus(t, w, http.StatusOK)

	w, resp := env.do(t, http.MethodPost, "/api/v1/treasury/fund", gov, gin.H{"amount": uint64(math.MaxInt64) + 1})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if resp["error"] != "value_out_of_range" {
		t.Errorf("error: %v", resp)
	}
	if svc.TreasuryBalance() != 0 {
		t.Errorf("balance after rejected fund: %d", svc.TreasuryBalance())
	}

	w, resp = env.do(t, http.MethodPost, "/api/v1/treasury/fund", gov, gin.H{"amount": 500})
	expectStatus(t, w, http.StatusOK)
	if resp["balance"].(float64) != 500 {
		t.Errorf("fund after rejection: %v", resp)
	}
}

func TestConfigEndpoints(t *testing.T) {
	env := setupRouter(t)
	env.bootstrap(t, 1_000)

	w, _ := env.do(t, http.MethodPut, "/api/v1/config/min-amount", "anyone", gin.H{"amount": 200})
	expectStatus(t, w, http.StatusOK)
	w, resp := env.do(t, http.MethodPut, "/api/v1/config/max-amount", gov, gin.H{"amount": 150})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if resp["code"].(float64) != 1003 {
		t.Errorf("body: %v", resp)
	}

	w, _ = env.do(t, http.MethodPost, "/api/v1/config/pause", gov, gin.H{})
	expectStatus(t, w, http.StatusBadRequest)
	w, _ = env.do(t, http.MethodPost, "/api/v1/config/pause", "anyone", gin.H{"paused": true})
	expectStatus(t, w, http.StatusForbidden)
	w, resp = env.do(t, http.MethodPost, "/api/v1/config/pause", gov, gin.H{"paused": true})
	expectStatus(t, w, http.StatusOK)
	if resp["paused"] != true || !env.svc.Paused() {
		t.Errorf("pause: %v", resp)
	}
}

func TestWithdraw(t *testing.T) {
	env := setupRouter(t)
	env.bootstrap(t, 1_000)

	w, resp := env.do(t, http.MethodPost, "/api/v1/treasury/withdraw", gov, gin.H{"amount": 5_000, "recipient": "ST7PAYEE"})
	expectStatus(t, w, http.StatusConflict)
	if resp["code"].(float64) != 1009 {
		t.Errorf("body: %v", resp)
	}
	w, _ = env.do(t, http.MethodPost, "/api/v1/treasury/withdraw", gov, gin.H{"amount": 400, "recipient": "ST7PAYEE"})
	expectStatus(t, w, http.StatusOK)
	if env.svc.TreasuryBalance() != 600 {
		t.Errorf("balance: %d", env.svc.TreasuryBalance())
	}
}

func TestClock(t *testing.T) {
	env := setupRouter(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/clock/advance", "dev", gin.H{"blocks": 5})
	expectStatus(t, w, http.StatusOK)
	if resp["height"].(float64) != 5 {
		t.Errorf("advance: %v", resp)
	}
	w, resp = env.do(t, http.MethodPost, "/api/v1/clock/advance", "dev", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["height"].(float64) != 6 {
		t.Errorf("default advance: %v", resp)
	}
	w, resp = env.do(t, http.MethodGet, "/api/v1/clock", "", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["height"].(float64) != 6 || resp["mode"] != string(clock.ModeManual) {
		t.Errorf("clock: %v", resp)
	}
}

func TestClock_advanceOverflow(t *testing.T) {
	env := setupRouter(t)
	env.clock.Set(10) //nolint:errcheck

	w, resp := env.do(t, http.MethodPost, "/api/v1/clock/advance", "dev", gin.H{"blocks": uint64(math.MaxUint64)})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if resp["error"] != "clock_overflow" {
		t.Errorf("error: %v", resp)
	}
	if env.clock.Height() != 10 {
		t.Errorf("height moved after rejected advance: %d", env.clock.Height())
	}
}

func TestClock_wallCannotAdvance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.NewClockHandler(clock.NewWall(time.Second), identity.RequireCaller(nil), zap.NewNop()).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clock/advance", nil)
	req.Header.Set(identity.CallerHeader, "dev")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusConflict)
}

func TestAuthToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := identity.HashSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	tokens, _ := identity.NewTokenIssuer("signing-key", "treasury-test", time.Hour)
	r := gin.New()
	handler.NewAuthHandler(identity.NewCredentials(map[string]string{gov: hash}), tokens, zap.NewNop()).Register(r.Group("/api/v1"))

	post := func(body any) (*httptest.ResponseRecorder, map[string]any) {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
		return w, resp
	}

	w, _ := post(gin.H{"principal": gov, "secret": "wrong"})
	expectStatus(t, w, http.StatusUnauthorized)
	w, _ = post(gin.H{"principal": gov})
	expectStatus(t, w, http.StatusBadRequest)

	w, resp := post(gin.H{"principal": gov, "secret": "s3cret"})
	expectStatus(t, w, http.StatusOK)
	claims, err := tokens.Verify(resp["token"].(string))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Principal != gov {
		t.Errorf("principal: %q", claims.Principal)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes: %v", codes)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	handler.PromRecorder{}.RecordOperation("fund", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("treasury_operations_total")) {
		t.Error("treasury_operations_total not exported")
	}
}
