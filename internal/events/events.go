// Package events fans treasury state changes out to live subscribers:
// WebSocket clients through a Hub and HTTP endpoints through a Notifier.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the treasury service.
const (
	TypeContractRegistered = "governance.contract_registered"
	TypeConfigUpdated      = "config.updated"
	TypePauseChanged       = "disbursement.pause_changed"
	TypeTreasuryFunded     = "treasury.funded"
	TypeTreasuryWithdrawn  = "treasury.withdrawn"
	TypeLoanDisbursed      = "loan.disbursed"
	TypeImpactRecorded     = "loan.impact_recorded"

	TypeDependencyDegraded  = "system.dependency_degraded"
	TypeDependencyRecovered = "system.dependency_recovered"
)

// Event is a single treasury state change.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Height    uint64         `json:"height"`
	Actor     string         `json:"actor"`
	RequestID uint64         `json:"request_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New stamps an event with a fresh ID and the current time.
func New(eventType, actor string, height uint64, payload map[string]any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Height:    height,
		Actor:     actor,
		Payload:   payload,
	}
}

// Publisher receives committed events. Implementations must not block the
// caller for long and never report failure; delivery problems are logged.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi publishes every event to each of its members in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) {}
