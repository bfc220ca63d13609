package auditledger

import (
	"context"
	"errors"
	"sync"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

type recordKey struct {
	resourceID string
	owner      Identity
}

// MemoryStore is an in-process Store guarded by a reader/writer lock.
// It is primarily useful for testing and for single-process deployments
// that do not need persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	state   State
	records map[recordKey]*Record
	events  []*AuditEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

// Update implements Store. Writes are staged and applied only when fn
// returns nil.
func (s *MemoryStore) Update(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[recordKey]*Record)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.state != nil {
		s.state = *tx.state
	}
	for k, r := range tx.staged {
		if r == nil {
			delete(s.records, k)
			continue
		}
		s.records[k] = r
	}
	s.events = append(s.events, tx.events...)
	return nil
}

// View implements Store.
func (s *MemoryStore) View(_ context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// memTx overlays uncommitted writes on the store. A nil staged record marks
// a deletion.
type memTx struct {
	store    *MemoryStore
	readOnly bool
	state    *State
	staged   map[recordKey]*Record
	events   []*AuditEvent
}

func (t *memTx) State(context.Context) (State, error) {
	if t.state != nil {
		return *t.state, nil
	}
	return t.store.state, nil
}

func (t *memTx) PutState(_ context.Context, st State) error {
	if t.readOnly {
		return errReadOnly
	}
	t.state = &st
	return nil
}

func (t *memTx) lookup(k recordKey) *Record {
	if r, ok := t.staged[k]; ok {
		return r
	}
	return t.store.records[k]
}

func (t *memTx) GetRecord(_ context.Context, resourceID string, owner Identity) (*Record, error) {
	r := t.lookup(recordKey{resourceID, owner})
	if r == nil {
		return nil, ErrRecordDoesNotExist
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) InsertRecord(_ context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	k := recordKey{r.ResourceID, r.Owner}
	if t.lookup(k) != nil {
		return ErrRecordAlreadyExists
	}
	cp := *r
	t.staged[k] = &cp
	return nil
}

func (t *memTx) UpdateRecord(_ context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	k := recordKey{r.ResourceID, r.Owner}
	if t.lookup(k) == nil {
		return ErrRecordDoesNotExist
	}
	cp := *r
	t.staged[k] = &cp
	return nil
}

func (t *memTx) DeleteRecord(_ context.Context, resourceID string, owner Identity) error {
	if t.readOnly {
		return errReadOnly
	}
	k := recordKey{resourceID, owner}
	if t.lookup(k) == nil {
		return ErrRecordDoesNotExist
	}
	t.staged[k] = nil
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e *AuditEvent) error {
	if t.readOnly {
		return errReadOnly
	}
	cp := *e
	t.events = append(t.events, &cp)
	return nil
}

func (t *memTx) Events(_ context.Context, f EventFilter) ([]*AuditEvent, error) {
	var out []*AuditEvent
	scan := func(events []*AuditEvent) bool {
		for _, e := range events {
			if f.Limit > 0 && len(out) >= f.Limit {
				return false
			}
			if f.matches(e) {
				cp := *e
				out = append(out, &cp)
			}
		}
		return true
	}
	// Seq starts at 1 and is gap-free, so committed events can be sliced.
	committed := t.store.events
	if f.AfterSeq > 0 {
		if f.AfterSeq >= uint64(len(committed)) {
			committed = nil
		} else {
			committed = committed[f.AfterSeq:]
		}
	}
	if scan(committed) {
		scan(t.events)
	}
	return out, nil
}

func (f EventFilter) matches(e *AuditEvent) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.RecordID != nil && e.RecordID != *f.RecordID {
		return false
	}
	if f.ResourceID != nil && e.ResourceID != *f.ResourceID {
		return false
	}
	if !f.Actor.IsZero() && e.Actor != f.Actor {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}
