// Package journal is the hash-chained audit trail of treasury actions.
//
// Every successful ledger mutation (funding, disbursement, withdrawal, impact
// recording, configuration change) is appended as an Entry whose hash covers
// its predecessor's, so any rewrite of history is detected by Verify.
//
// The chain is anchored by a genesis entry whose Hash equals GenesisHash.
// MemoryJournal serves tests and single-process setups; PostgresJournal and
// SQLiteJournal are the durable implementations.
package journal

import "context"

// Actions recorded in the journal.
const (
	ActionGenesis      = "genesis"
	ActionRegister     = "register"
	ActionConfigure    = "configure"
	ActionPause        = "pause"
	ActionFund         = "fund"
	ActionWithdraw     = "withdraw"
	ActionDisburse     = "disburse"
	ActionRecordImpact = "record_impact"
	systemActor        = "treasury-system"
)

// Journal is the append-only audit log.
type Journal interface {
	// Append chains a new entry to the tail. payload is JSON-marshalled and
	// its SHA-256 stored as DataHash.
	Append(ctx context.Context, action, actor string, requestID, height uint64, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries, genesis included.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil if every link is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}
