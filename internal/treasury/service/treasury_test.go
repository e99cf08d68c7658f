package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmerrifield20/LoanTreasury/internal/approval"
	"github.com/jmerrifield20/LoanTreasury/internal/clock"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/events"
	"github.com/jmerrifield20/LoanTreasury/internal/journal"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"github.com/jmerrifield20/LoanTreasury/internal/store/memory"
	"github.com/jmerrifield20/LoanTreasury/internal/store/sqlite"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/service"
	"go.uber.org/zap"
)

const (
	gov      = disbursement.Principal("ST2GOV")
	borrower = disbursement.Principal("ST1BORROWER")
	agg      = disbursement.Principal("ST3AGG")
)

// ── stubs ─────────────────────────────────────────────────────────────────

type publisherStub struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *publisherStub) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *publisherStub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recorderStub struct {
	ops  map[string]int
	errs map[string]int
	last disbursement.Snapshot
}

func newRecorderStub() *recorderStub {
	return &recorderStub{ops: map[string]int{}, errs: map[string]int{}}
}

func (r *recorderStub) RecordOperation(op string, err error) {
	r.ops[op]++
	if err != nil {
		r.errs[op]++
	}
}

func (r *recorderStub) RecordLedger(snap disbursement.Snapshot) { r.last = snap }

type failingApprovals struct{}

func (failingApprovals) IsApproved(context.Context, uint64) (bool, error) {
	return false, errors.New("aggregator unreachable")
}

type fixture struct {
	svc       *service.TreasuryService
	store     *memory.Store
	clock     *clock.Manual
	approvals *approval.Static
	journal   *journal.MemoryJournal
	events    *publisherStub
	metrics   *recorderStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		clock:     clock.NewManual(0),
		approvals: approval.NewStatic(),
		journal:   journal.NewMemory(),
		events:    &publisherStub{},
		metrics:   newRecorderStub(),
	}
	f.svc = service.NewTreasuryService(f.store, f.clock, f.approvals, zap.NewNop())
	f.svc.SetJournal(f.journal)
	f.svc.SetPublisher(f.events)
	f.svc.SetRecorder(f.metrics)
	if err := f.svc.Load(context.Background(), service.Genesis{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return f
}

// bootstrap registers governance and the aggregator and funds the treasury.
func (f *fixture) bootstrap(t *testing.T, funds uint64) {
	t.Helper()
	ctx := context.Background()
	mustOK(t, f.svc.SetGovernanceContract(ctx, gov, gov))
	mustOK(t, f.svc.SetThresholdAggregatorContract(ctx, agg, agg))
	if _, err := f.svc.FundTreasury(ctx, gov, funds); err != nil {
		t.Fatalf("FundTreasury: %v", err)
	}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func nativeRequest(id, amount uint64) disbursement.Request {
	return disbursement.Request{
		Borrower:          borrower,
		Amount:            amount,
		RequestID:         id,
		RepaymentSchedule: 30,
		ImpactData:        "Impact data",
		Currency:          disbursement.CurrencySTX,
	}
}

// ── tests ─────────────────────────────────────────────────────────────────

func TestLoad_genesis(t *testing.T) {
	f := newFixture(t)

	snap := f.svc.Snapshot()
	if snap.Self != disbursement.DefaultSelf {
		t.Errorf("Self: got %q", snap.Self)
	}
	if f.svc.MinDisbursementAmount() != 100 || f.svc.MaxDisbursementAmount() != 1_000_000 {
		t.Errorf("bounds: %d..%d", f.svc.MinDisbursementAmount(), f.svc.MaxDisbursementAmount())
	}
	if _, err := f.store.Load(context.Background()); err != nil {
		t.Errorf("genesis state not persisted: %v", err)
	}
}

func TestLoad_customGenesis(t *testing.T) {
	svc := service.NewTreasuryService(memory.New(), clock.NewManual(0), nil, zap.NewNop())
	err := svc.Load(context.Background(), service.Genesis{Self: "vault", MinAmount: 10, MaxAmount: 50})
	mustOK(t, err)
	if svc.MinDisbursementAmount() != 10 || svc.MaxDisbursementAmount() != 50 || svc.Snapshot().Self != "vault" {
		t.Errorf("snapshot: %+v", svc.Snapshot())
	}
}

func TestLoad_rejectsInvertedBounds(t *testing.T) {
	svc := service.NewTreasuryService(memory.New(), clock.NewManual(0), nil, zap.NewNop())
	if err := svc.Load(context.Background(), service.Genesis{MinAmount: 500, MaxAmount: 500}); err == nil {
		t.Fatal("expected error for min >= max")
	}
}

func TestLoad_restoresPersistedState(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, 10_000)

	svc := service.NewTreasuryService(f.store, clock.NewManual(0), nil, zap.NewNop())
	mustOK(t, svc.Load(context.Background(), service.Genesis{Self: "ignored"}))
	if svc.TreasuryBalance() != 10_000 || svc.Snapshot().GovernanceContract != gov {
		t.Errorf("restored snapshot: %+v", svc.Snapshot())
	}
	if svc.Snapshot().Self != disbursement.DefaultSelf {
		t.Errorf("genesis must not override persisted Self, got %q", svc.Snapshot().Self)
	}
}

func TestLoad_resumesManualClockAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "treasury.db")
	approvals := approval.NewStatic()
	approvals.Set(1, true)
	approvals.Set(2, true)

	first, err := sqlite.Open(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewTreasuryService(first, clock.NewManual(10), approvals, zap.NewNop())
	mustOK(t, svc.Load(ctx, service.Genesis{}))
	mustOK(t, svc.SetGovernanceContract(ctx, gov, gov))
	mustOK(t, svc.SetThresholdAggregatorContract(ctx, agg, agg))
	if _, err := svc.FundTreasury(ctx, gov, 10_000); err != nil {
		t.Fatal(err)
	}
	mustOK(t, svc.DisburseLoan(ctx, agg, nativeRequest(1, 500)))
	mustOK(t, first.Close())

	reopened, err := sqlite.Open(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reopened.Close() })

	clk := clock.NewManual(0)
	svc = service.NewTreasuryService(reopened, clk, approvals, zap.NewNop())
	mustOK(t, svc.Load(ctx, service.Genesis{}))
	if clk.Height() != 10 {
		t.Fatalf("clock height after reopen: got %d, want 10", clk.Height())
	}

	// Still the same tick as the restored disbursement.
	if err := svc.DisburseLoan(ctx, agg, nativeRequest(2, 500)); !errors.Is(err, disbursement.ErrInvalidDisbursementTime) {
		t.Fatalf("expected ErrInvalidDisbursementTime, got %v", err)
	}
	clk.Advance(1) //nolint:errcheck
	mustOK(t, svc.DisburseLoan(ctx, agg, nativeRequest(2, 500)))
	if svc.DisbursementCount() != 2 || svc.TreasuryBalance() != 9_000 {
		t.Errorf("after reopen: count %d, balance %d", svc.DisbursementCount(), svc.TreasuryBalance())
	}
}

func TestLoad_keepsClockAheadOfLedger(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.approvals.Set(1, true)
	f.clock.Set(10) //nolint:errcheck
	mustOK(t, f.svc.DisburseLoan(context.Background(), agg, nativeRequest(1, 500)))

	clk := clock.NewManual(50)
	svc := service.NewTreasuryService(f.store, clk, f.approvals, zap.NewNop())
	mustOK(t, svc.Load(context.Background(), service.Genesis{}))
	if clk.Height() != 50 {
		t.Errorf("clock ahead of the ledger must not move, got %d", clk.Height())
	}
}

func TestOperations_beforeLoad(t *testing.T) {
	svc := service.NewTreasuryService(memory.New(), clock.NewManual(0), nil, zap.NewNop())
	if err := svc.PauseDisbursements(context.Background(), gov, true); !errors.Is(err, service.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestDisburseLoan_fullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.approvals.Set(1, true)
	f.clock.Set(10) //nolint:errcheck

	mustOK(t, f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500)))

	if f.svc.TreasuryBalance() != 9_500 || f.svc.TotalDisbursed() != 500 ||
		f.svc.DisbursementCount() != 1 || f.svc.LastDisbursementTime() != 10 {
		t.Errorf("snapshot: %+v", f.svc.Snapshot())
	}
	loan, ok := f.svc.LoanDetails(1)
	if !ok || loan.Borrower != borrower || loan.DisbursementTime != 10 {
		t.Errorf("loan: %+v %v", loan, ok)
	}

	// Loan and transfers are durable.
	persisted, _ := f.store.Load(ctx)
	if l, ok := persisted.LoanDetails(1); !ok || l.Amount != 500 {
		t.Errorf("persisted loan: %+v", l)
	}
	transfers, err := f.svc.Transfers(ctx, 10, 0)
	mustOK(t, err)
	if len(transfers) != 2 {
		t.Fatalf("transfers: got %d, want 2", len(transfers))
	}
	if tr := transfers[0]; tr.Kind != store.KindDisburse || tr.RequestID != 1 || tr.Height != 10 ||
		tr.Transfer.From != disbursement.DefaultSelf || tr.Transfer.To != borrower {
		t.Errorf("newest transfer: %+v", tr)
	}
	if tr := transfers[1]; tr.Kind != store.KindFund || tr.Transfer.From != gov {
		t.Errorf("fund transfer: %+v", tr)
	}

	// register×2, fund, disburse on top of genesis.
	if n, _ := f.journal.Len(ctx); n != 5 {
		t.Errorf("journal length: got %d, want 5", n)
	}
	mustOK(t, f.journal.Verify(ctx))
	last, _ := f.journal.Get(ctx, 4)
	if last.Action != journal.ActionDisburse || last.RequestID != 1 || last.Height != 10 {
		t.Errorf("journal tail: %+v", last)
	}

	types := f.events.types()
	if types[len(types)-1] != events.TypeLoanDisbursed {
		t.Errorf("events: %v", types)
	}
	if f.metrics.last.TreasuryBalance != 9_500 {
		t.Errorf("recorded balance: %d", f.metrics.last.TreasuryBalance)
	}
}

func TestDisburseLoan_rejectedHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.clock.Set(10) //nolint:errcheck
	before := f.svc.Snapshot()
	eventsBefore := len(f.events.types())
	journalBefore, _ := f.journal.Len(ctx)

	// Not approved.
	err := f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500))
	if !errors.Is(err, disbursement.ErrInsufficientEndorsements) {
		t.Fatalf("expected ErrInsufficientEndorsements, got %v", err)
	}

	if f.svc.Snapshot() != before {
		t.Error("state changed after rejected disbursement")
	}
	if len(f.events.types()) != eventsBefore {
		t.Error("event published for rejected disbursement")
	}
	if n, _ := f.journal.Len(ctx); n != journalBefore {
		t.Error("journal entry written for rejected disbursement")
	}
	if f.metrics.errs["disburse"] != 1 {
		t.Errorf("rejection not recorded: %+v", f.metrics.errs)
	}
}

func TestDisburseLoan_approvalLookupFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc := service.NewTreasuryService(memory.New(), clock.NewManual(5), failingApprovals{}, zap.NewNop())
	mustOK(t, svc.Load(ctx, service.Genesis{}))
	mustOK(t, svc.SetGovernanceContract(ctx, gov, gov))
	if _, err := svc.FundTreasury(ctx, gov, 1_000); err != nil {
		t.Fatal(err)
	}

	err := svc.DisburseLoan(ctx, agg, nativeRequest(1, 500))
	if !errors.Is(err, disbursement.ErrInsufficientEndorsements) {
		t.Fatalf("expected ErrInsufficientEndorsements, got %v", err)
	}
}

func TestDisburseLoan_oncePerClockTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.approvals.Set(1, true)
	f.approvals.Set(2, true)
	f.clock.Set(10) //nolint:errcheck

	mustOK(t, f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500)))
	err := f.svc.DisburseLoan(ctx, agg, nativeRequest(2, 500))
	if !errors.Is(err, disbursement.ErrInvalidDisbursementTime) {
		t.Fatalf("expected ErrInvalidDisbursementTime, got %v", err)
	}

	f.clock.Advance(1) //nolint:errcheck
	mustOK(t, f.svc.DisburseLoan(ctx, agg, nativeRequest(2, 500)))
	if f.svc.DisbursementCount() != 2 {
		t.Errorf("count: %d", f.svc.DisbursementCount())
	}
}

func TestCommitFailure_rollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.approvals.Set(1, true)
	f.clock.Set(10) //nolint:errcheck
	before := f.svc.Snapshot()
	eventsBefore := len(f.events.types())

	boom := errors.New("disk full")
	f.store.FailCommit = boom
	err := f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped commit error, got %v", err)
	}
	if f.svc.Snapshot() != before {
		t.Errorf("state not rolled back: %+v", f.svc.Snapshot())
	}
	if _, ok := f.svc.LoanDetails(1); ok {
		t.Error("loan survived rollback")
	}
	if len(f.events.types()) != eventsBefore {
		t.Error("event published for failed commit")
	}

	// Once storage recovers the same request goes through.
	f.store.FailCommit = nil
	mustOK(t, f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500)))
}

func TestFundAndWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.FundTreasury(ctx, gov, 100); !errors.Is(err, disbursement.ErrGovernanceNotSet) {
		t.Fatalf("expected ErrGovernanceNotSet, got %v", err)
	}
	f.bootstrap(t, 1_000)

	balance, err := f.svc.FundTreasury(ctx, "ST9DONOR", 500)
	mustOK(t, err)
	if balance != 1_500 {
		t.Errorf("balance: got %d, want 1500", balance)
	}

	if err := f.svc.WithdrawTreasuryFunds(ctx, "ST9DONOR", 100, "ST9DONOR"); !errors.Is(err, disbursement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	mustOK(t, f.svc.WithdrawTreasuryFunds(ctx, gov, 700, "ST7PAYEE"))
	if f.svc.TreasuryBalance() != 800 {
		t.Errorf("balance after withdraw: %d", f.svc.TreasuryBalance())
	}

	transfers, _ := f.svc.Transfers(ctx, 1, 0)
	if len(transfers) != 1 || transfers[0].Kind != store.KindWithdraw || transfers[0].Transfer.To != "ST7PAYEE" {
		t.Errorf("withdraw transfer: %+v", transfers)
	}
}

func TestConfigurationAndPause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 1_000)

	mustOK(t, f.svc.SetMinDisbursementAmount(ctx, "anyone", 200))
	mustOK(t, f.svc.SetMaxDisbursementAmount(ctx, "anyone", 5_000))
	if f.svc.MinDisbursementAmount() != 200 || f.svc.MaxDisbursementAmount() != 5_000 {
		t.Errorf("bounds: %d..%d", f.svc.MinDisbursementAmount(), f.svc.MaxDisbursementAmount())
	}
	if err := f.svc.SetMaxDisbursementAmount(ctx, gov, 200); !errors.Is(err, disbursement.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	if err := f.svc.PauseDisbursements(ctx, "anyone", true); !errors.Is(err, disbursement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	mustOK(t, f.svc.PauseDisbursements(ctx, gov, true))
	if !f.svc.Paused() {
		t.Error("expected paused")
	}
	err := f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500))
	if !errors.Is(err, disbursement.ErrDisbursementPaused) {
		t.Errorf("expected ErrDisbursementPaused, got %v", err)
	}
}

func TestRegisterContract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.RegisterContract(ctx, "ST1X", service.RoleImpactTracker, "ST1Y"); !errors.Is(err, disbursement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.RegisterContract(ctx, "ST1X", service.Role("auditor"), "ST1X"); !errors.Is(err, disbursement.ErrUnauthorized) {
		t.Fatalf("unknown role: got %v", err)
	}
	mustOK(t, f.svc.SetImpactTrackerContract(ctx, "ST5IMP", "ST5IMP"))
	mustOK(t, f.svc.SetRepaymentTrackerContract(ctx, "ST4REP", "ST4REP"))
	snap := f.svc.Snapshot()
	if snap.ImpactTrackerContract != "ST5IMP" || snap.RepaymentTrackerContract != "ST4REP" {
		t.Errorf("snapshot: %+v", snap)
	}
	if f.metrics.ops["register_impact-tracker"] != 2 {
		t.Errorf("ops: %+v", f.metrics.ops)
	}
}

func TestRecordLoanImpact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t, 10_000)
	f.approvals.Set(1, true)
	f.clock.Set(10) //nolint:errcheck
	mustOK(t, f.svc.DisburseLoan(ctx, agg, nativeRequest(1, 500)))

	if err := f.svc.RecordLoanImpact(ctx, "ST3FAKE", 1, "report"); !errors.Is(err, disbursement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	mustOK(t, f.svc.RecordLoanImpact(ctx, borrower, 1, "report"))

	persisted, _ := f.store.Load(ctx)
	if l, _ := persisted.LoanDetails(1); !l.ImpactRecorded {
		t.Error("impact flag not persisted")
	}
	if err := f.svc.RecordLoanImpact(ctx, borrower, 1, "again"); !errors.Is(err, disbursement.ErrInvalidImpactData) {
		t.Fatalf("expected ErrInvalidImpactData, got %v", err)
	}
}
