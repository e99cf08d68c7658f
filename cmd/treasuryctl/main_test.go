package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/approval"
	"github.com/jmerrifield20/LoanTreasury/internal/clock"
	"github.com/jmerrifield20/LoanTreasury/internal/identity"
	"github.com/jmerrifield20/LoanTreasury/internal/store/memory"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/handler"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/service"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func startServer(t *testing.T) (*httptest.Server, *service.TreasuryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := clock.NewManual(0)
	approvals := approval.NewStatic()
	svc := service.NewTreasuryService(memory.New(), clk, approvals, zap.NewNop())
	if err := svc.Load(context.Background(), service.Genesis{}); err != nil {
		t.Fatal(err)
	}
	requireCaller := identity.RequireCaller(nil)
	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewTreasuryHandler(svc, requireCaller, zap.NewNop()).Register(v1)
	handler.NewApprovalHandler(approvals, svc, requireCaller, zap.NewNop()).Register(v1)
	handler.NewClockHandler(clk, requireCaller, zap.NewNop()).Register(v1)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

// execute runs treasuryctl with a fresh flag state.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	cfgFile, serverURL, callerFlag, principal, secret, tokenFlag, outputJSON = "", "", "", "", "", "", false
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCLI_disburseFlow(t *testing.T) {
	srv, svc := startServer(t)
	steps := [][]string{
		{"register", "governance", "ST2GOV", "--caller", "ST2GOV"},
		{"register", "threshold-aggregator", "ST3AGG", "--caller", "ST3AGG"},
		{"fund", "10000", "--caller", "ST2GOV"},
		{"clock", "advance", "10", "--caller", "ST3AGG"},
		{"approve", "1", "--caller", "ST3AGG"},
		{"disburse", "--borrower", "ST1BORROWER", "--amount", "500", "--request-id", "1",
			"--schedule", "30", "--impact", "Impact data", "--currency", "stx", "--caller", "ST3AGG"},
		{"impact", "1", "report", "--caller", "ST1BORROWER"},
	}
	for _, s := range steps {
		if err := execute(t, append(s, "--server", srv.URL)...); err != nil {
			t.Fatalf("%v: %v", s, err)
		}
	}

	snap := svc.Snapshot()
	if snap.TreasuryBalance != 9_500 || snap.DisbursementCount != 1 {
		t.Errorf("snapshot: %+v", snap)
	}
	loan, ok := svc.LoanDetails(1)
	if !ok || !loan.ImpactRecorded || loan.DisbursementTime != 10 {
		t.Errorf("loan: %+v ok=%v", loan, ok)
	}
}

func TestCLI_ledgerRejectionIsError(t *testing.T) {
	srv, _ := startServer(t)
	if err := execute(t, "fund", "100", "--caller", "ST2GOV", "--server", srv.URL); err == nil {
		t.Fatal("expected governance_not_set rejection")
	}
	if err := execute(t, "fund", "-5", "--server", srv.URL); err == nil {
		t.Fatal("expected invalid amount error")
	}
}

func TestCLI_hashSecret(t *testing.T) {
	if err := execute(t, "hash-secret", "s3cret"); err != nil {
		t.Fatal(err)
	}
	hash, err := identity.HashSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")) != nil {
		t.Error("hash does not match secret")
	}
}

func TestParseUint(t *testing.T) {
	if v, err := parseUint("42", "amount"); err != nil || v != 42 {
		t.Errorf("parseUint(42) = %d, %v", v, err)
	}
	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		if _, err := parseUint(bad, "amount"); err == nil {
			t.Errorf("parseUint(%q): expected error", bad)
		}
	}
}
