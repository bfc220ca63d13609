package auditledger

import "context"

// State is the singleton administrative and bookkeeping row.
type State struct {
	Initialized   bool
	Administrator Identity
	Paused        bool
	RecordCount   uint64
	Seq           uint64 // seq of the newest event, 0 when the log is empty
	Head          string // hash of the newest event, "" when the log is empty
}

// EventFilter selects events from the log. Zero-valued fields do not filter.
type EventFilter struct {
	RecordID   *RecordID
	ResourceID *string
	Actor      Identity
	Kind       EventKind
	AfterSeq   uint64
	Limit      int
}

// Tx is the view of the ledger state inside a single transaction.
type Tx interface {
	State(ctx context.Context) (State, error)
	PutState(ctx context.Context, s State) error

	// GetRecord returns ErrRecordDoesNotExist when no live record has the key.
	GetRecord(ctx context.Context, resourceID string, owner Identity) (*Record, error)
	InsertRecord(ctx context.Context, r *Record) error
	UpdateRecord(ctx context.Context, r *Record) error
	DeleteRecord(ctx context.Context, resourceID string, owner Identity) error

	AppendEvent(ctx context.Context, e *AuditEvent) error
	// Events returns matching events in ascending Seq order.
	Events(ctx context.Context, f EventFilter) ([]*AuditEvent, error)
}

// Store serialises access to ledger state. Update runs fn with exclusive
// access and commits every write fn made only when fn returns nil. View runs
// fn against a consistent read-only snapshot; writes inside View fail.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
