// Package service runs treasury operations against the ledger and carries
// their side effects: persistence, the audit journal, live events, metrics
// and tracing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/LoanTreasury/internal/approval"
	"github.com/jmerrifield20/LoanTreasury/internal/clock"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/events"
	"github.com/jmerrifield20/LoanTreasury/internal/journal"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"github.com/jmerrifield20/LoanTreasury/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNotLoaded is returned by operations invoked before Load.
var ErrNotLoaded = errors.New("treasury state not loaded")

// Recorder receives operation outcomes for metrics.
// The Prometheus implementation lives in the handler package.
type Recorder interface {
	RecordOperation(op string, err error)
	RecordLedger(snap disbursement.Snapshot)
}

// Genesis configures a ledger that has never been persisted.
type Genesis struct {
	Self      disbursement.Principal
	MinAmount uint64 // 0 = default
	MaxAmount uint64 // 0 = default
}

// TreasuryService serialises every ledger operation behind one mutex so the
// core sees a single actor at a time.
type TreasuryService struct {
	mu    sync.Mutex
	state *disbursement.State

	store     store.Store
	clock     clock.Clock
	approvals approval.Source  // nil = nothing is approved
	journal   journal.Journal  // nil = no journal writes
	publisher events.Publisher // nil = no events
	recorder  Recorder         // nil = no metrics
	tracer    trace.Tracer
	now       func() time.Time
	logger    *zap.Logger
}

// NewTreasuryService creates a TreasuryService. Call Load before serving.
func NewTreasuryService(st store.Store, clk clock.Clock, approvals approval.Source, logger *zap.Logger) *TreasuryService {
	return &TreasuryService{
		store:     st,
		clock:     clk,
		approvals: approvals,
		tracer:    telemetry.Tracer(),
		now:       time.Now,
		logger:    logger,
	}
}

// SetJournal configures the audit journal.
func (s *TreasuryService) SetJournal(j journal.Journal) { s.journal = j }

// SetPublisher configures the event publisher.
func (s *TreasuryService) SetPublisher(p events.Publisher) { s.publisher = p }

// SetRecorder configures the metrics recorder.
func (s *TreasuryService) SetRecorder(r Recorder) { s.recorder = r }

// SetTracer overrides the tracer taken from the global provider.
func (s *TreasuryService) SetTracer(t trace.Tracer) { s.tracer = t }

// Load restores the ledger from the store. A fresh store is initialised from
// g and the genesis state is persisted immediately.
func (s *TreasuryService) Load(ctx context.Context, g Genesis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.state = st
		s.logger.Info("treasury state restored",
			zap.Uint64("balance", st.TreasuryBalance()),
			zap.Uint64("disbursement_count", st.DisbursementCount()),
		)
	case errors.Is(err, store.ErrNotFound):
		st, err = genesisState(g)
		if err != nil {
			return err
		}
		if err := s.store.Commit(ctx, store.Commit{Snapshot: st.Snapshot()}); err != nil {
			return fmt.Errorf("persist genesis state: %w", err)
		}
		s.state = st
		s.logger.Info("treasury state initialised",
			zap.String("self", string(st.Self())),
			zap.Uint64("min_amount", st.MinDisbursementAmount()),
			zap.Uint64("max_amount", st.MaxDisbursementAmount()),
		)
	default:
		return fmt.Errorf("load treasury state: %w", err)
	}
	s.resumeClock()

	if s.recorder != nil {
		s.recorder.RecordLedger(s.state.Snapshot())
	}
	return nil
}

// resumeClock moves a manual clock that starts behind the restored ledger up
// to the last disbursement height, so the clock never runs backwards across a
// restart. Other clocks cannot be moved and only get a warning.
func (s *TreasuryService) resumeClock() {
	last := s.state.LastDisbursementTime()
	height := s.clock.Height()
	if height >= last {
		return
	}
	if m, ok := s.clock.(*clock.Manual); ok {
		if err := m.Set(last); err == nil {
			s.logger.Info("manual clock resumed from last disbursement",
				zap.Uint64("configured_start", height),
				zap.Uint64("height", last),
			)
			return
		}
	}
	s.logger.Warn("clock is behind the last disbursement; disbursements fail until it passes it",
		zap.Uint64("height", height),
		zap.Uint64("last_disbursement_time", last),
	)
}

func genesisState(g Genesis) (*disbursement.State, error) {
	snap := disbursement.NewState(g.Self).Snapshot()
	if g.MinAmount != 0 {
		snap.MinDisbursementAmount = g.MinAmount
	}
	if g.MaxAmount != 0 {
		snap.MaxDisbursementAmount = g.MaxAmount
	}
	if snap.MinDisbursementAmount >= snap.MaxDisbursementAmount {
		return nil, fmt.Errorf("min amount %d must be below max amount %d",
			snap.MinDisbursementAmount, snap.MaxDisbursementAmount)
	}
	return disbursement.Restore(snap, nil), nil
}

// outcome describes what a successful operation changed.
type outcome struct {
	action    string   // journal action
	event     string   // event type
	kind      string   // transfer kind, if transfers were emitted
	requestID uint64   // loan request touched, if any
	loans     []uint64 // loan records to persist
	payload   map[string]any
}

type operation func(st *disbursement.State, env disbursement.Env, sink disbursement.TransferSink) (outcome, error)

// apply runs op against the live state and, on success, persists the result
// before any side effect is emitted. A failed commit rolls the state back.
func (s *TreasuryService) apply(ctx context.Context, name string, caller disbursement.Principal, op operation) (err error) {
	ctx, span := s.tracer.Start(ctx, "treasury."+name, trace.WithAttributes(
		attribute.String("treasury.caller", string(caller)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.recorder != nil {
			s.recorder.RecordOperation(name, err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ErrNotLoaded
	}

	height := s.clock.Height()
	span.SetAttributes(attribute.Int64("treasury.height", int64(height)))
	env := disbursement.Env{
		Caller:    caller,
		Height:    height,
		Approvals: s.approvalChecker(ctx),
	}

	backup := s.state.Clone()
	var buf disbursement.Transfers
	out, err := op(s.state, env, &buf)
	if err != nil {
		return err
	}

	commit := store.Commit{
		Snapshot:  s.state.Snapshot(),
		Loans:     make(map[uint64]disbursement.LoanRecord, len(out.loans)),
		Transfers: make([]store.TransferRecord, 0, len(buf)),
	}
	for _, id := range out.loans {
		if loan, ok := s.state.LoanDetails(id); ok {
			commit.Loans[id] = loan
		}
	}
	now := s.now().UTC()
	for _, t := range buf {
		commit.Transfers = append(commit.Transfers, store.TransferRecord{
			ID:        uuid.New(),
			Kind:      out.kind,
			RequestID: out.requestID,
			Height:    height,
			Transfer:  t,
			CreatedAt: now,
		})
	}

	if err := s.store.Commit(ctx, commit); err != nil {
		s.state = backup
		s.logger.Error("treasury commit failed, state rolled back",
			zap.String("op", name),
			zap.Error(err),
		)
		return fmt.Errorf("persist %s: %w", name, err)
	}

	s.appendJournal(ctx, out.action, string(caller), out.requestID, height, out.payload)
	if s.publisher != nil {
		e := events.New(out.event, string(caller), height, out.payload)
		e.RequestID = out.requestID
		s.publisher.Publish(ctx, e)
	}
	if s.recorder != nil {
		s.recorder.RecordLedger(commit.Snapshot)
	}
	return nil
}

// approvalChecker adapts the context-aware approval source to the ledger's
// synchronous check. Lookup failures count as "not approved".
func (s *TreasuryService) approvalChecker(ctx context.Context) disbursement.ApprovalChecker {
	return disbursement.ApprovalFunc(func(requestID uint64) bool {
		if s.approvals == nil {
			return false
		}
		ok, err := s.approvals.IsApproved(ctx, requestID)
		if err != nil {
			s.logger.Warn("approval lookup failed, treating as not approved",
				zap.Uint64("request_id", requestID),
				zap.Error(err),
			)
			return false
		}
		return ok
	})
}

// appendJournal writes an audit entry. Errors are logged and swallowed: the
// ledger change is already durable.
func (s *TreasuryService) appendJournal(ctx context.Context, action, actor string, requestID, height uint64, payload any) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(ctx, action, actor, requestID, height, payload); err != nil {
		s.logger.Error("journal append failed (non-fatal)",
			zap.String("action", action),
			zap.Uint64("request_id", requestID),
			zap.Error(err),
		)
	}
}
