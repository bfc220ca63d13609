package auditledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultEventLimit is applied when an EventFilter has no limit.
	DefaultEventLimit = 100
	// MaxEventLimit caps a single event query.
	MaxEventLimit = 1000
)

// Ledger enforces the record authorization rules and the administrative
// state machine on top of a Store. Every mutating operation is one Store
// transaction: the state change and its AuditEvent commit together or not
// at all.
type Ledger struct {
	store   Store
	logger  *zap.Logger
	tracer  trace.Tracer
	clock   func() time.Time
	observe func(op string, err error)
}

// New returns a Ledger over store. On first use of an empty store the
// administrative state is initialised with admin as administrator and the
// ledger active. An already initialised store keeps its persisted state.
func New(ctx context.Context, store Store, admin Identity, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:   store,
		logger:  logger,
		tracer:  otel.Tracer("auditledger"),
		clock:   time.Now,
		observe: func(string, error) {},
	}

	err := store.Update(ctx, func(tx Tx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if st.Initialized {
			if st.Administrator != admin {
				logger.Info("persisted administrator differs from configured one; keeping persisted",
					zap.String("persisted", string(st.Administrator)),
					zap.String("configured", string(admin)),
				)
			}
			return nil
		}
		if admin.IsZero() {
			logger.Warn("ledger initialised without an administrator; pause and ownership controls are disabled")
		}
		return tx.PutState(ctx, State{Initialized: true, Administrator: admin})
	})
	if err != nil {
		return nil, fmt.Errorf("initialise ledger state: %w", err)
	}
	return l, nil
}

// SetClock replaces the timestamp source. Intended for tests.
func (l *Ledger) SetClock(clock func() time.Time) { l.clock = clock }

// SetObserver registers a callback invoked once per mutating operation with
// its outcome. nil disables observation.
func (l *Ledger) SetObserver(fn func(op string, err error)) {
	if fn == nil {
		fn = func(string, error) {}
	}
	l.observe = fn
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}

// command mutates state inside a transaction and returns the event to emit.
type command func(ctx context.Context, tx Tx, st *State, now time.Time) (*AuditEvent, error)

func (l *Ledger) mutate(ctx context.Context, op string, caller Identity, resourceID string, cmd command) (*AuditEvent, error) {
	ctx, span := l.tracer.Start(ctx, "auditledger."+op, trace.WithAttributes(
		attribute.String("ledger.caller", string(caller)),
		attribute.String("ledger.resource_id", resourceID),
	))
	defer span.End()

	var committed *AuditEvent
	var err error = ErrCallerRequired
	if !caller.IsZero() {
		err = l.store.Update(ctx, func(tx Tx) error {
			st, err := tx.State(ctx)
			if err != nil {
				return err
			}
			now := l.now()
			ev, err := cmd(ctx, tx, &st, now)
			if err != nil {
				return err
			}
			ev.Actor = caller
			if ev.Timestamp.IsZero() {
				ev.Timestamp = now
			}
			if err := appendEvent(ctx, tx, &st, ev); err != nil {
				return err
			}
			if err := tx.PutState(ctx, st); err != nil {
				return err
			}
			committed = ev
			return nil
		})
	}

	l.observe(op, err)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int64("ledger.seq", int64(committed.Seq)))
		l.logger.Debug("ledger event committed",
			zap.String("op", op),
			zap.Uint64("seq", committed.Seq),
			zap.String("kind", string(committed.Kind)),
			zap.String("resource_id", resourceID),
			zap.String("caller", string(caller)),
		)
		return committed, nil
	case CodeOf(err) != "":
		span.SetStatus(otelcodes.Error, CodeOf(err))
		l.logger.Info("ledger operation rejected",
			zap.String("op", op),
			zap.String("code", CodeOf(err)),
			zap.String("resource_id", resourceID),
			zap.String("caller", string(caller)),
		)
		return nil, err
	default:
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		l.logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
}

func appendEvent(ctx context.Context, tx Tx, st *State, ev *AuditEvent) error {
	ev.Seq = st.Seq + 1
	ev.ID = uuid.New()
	ev.PrevHash = st.Head
	if ev.PrevHash == "" {
		ev.PrevHash = GenesisHash
	}
	ev.Hash = hashEvent(ev)
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return err
	}
	st.Seq = ev.Seq
	st.Head = ev.Hash
	return nil
}

func requireActive(st *State) error {
	if st.Paused {
		return ErrLedgerPaused
	}
	return nil
}

func requireAdministrator(st *State, caller Identity) error {
	if st.Administrator.IsZero() || caller != st.Administrator {
		return ErrNotAdministrator
	}
	return nil
}

// CreateRecord files a new record for (resourceID, owner) authored by caller.
func (l *Ledger) CreateRecord(ctx context.Context, caller Identity, resourceID string, dataHash Digest, owner Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "create_record", caller, resourceID, func(ctx context.Context, tx Tx, st *State, now time.Time) (*AuditEvent, error) {
		if err := requireActive(st); err != nil {
			return nil, err
		}
		if dataHash.IsZero() {
			return nil, ErrEmptyHash
		}
		_, err := tx.GetRecord(ctx, resourceID, owner)
		switch {
		case err == nil:
			return nil, ErrRecordAlreadyExists
		case !errors.Is(err, ErrRecordDoesNotExist):
			return nil, err
		}

		rec := &Record{
			RecordID:     RecordIDOf(resourceID, owner),
			ResourceID:   resourceID,
			Owner:        owner,
			Creator:      caller,
			DataHash:     dataHash,
			CreatedAt:    now,
			LastModified: now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return nil, err
		}
		st.RecordCount++
		return &AuditEvent{
			Kind:       EventCreated,
			RecordID:   rec.RecordID,
			ResourceID: resourceID,
			Owner:      owner,
			DataHash:   dataHash,
		}, nil
	})
}

// UpdateRecord replaces the fingerprint of the record the caller owns under
// resourceID. Authorship is irrelevant.
func (l *Ledger) UpdateRecord(ctx context.Context, caller Identity, resourceID string, newDataHash Digest) (*AuditEvent, error) {
	return l.mutate(ctx, "update_record", caller, resourceID, func(ctx context.Context, tx Tx, st *State, now time.Time) (*AuditEvent, error) {
		if err := requireActive(st); err != nil {
			return nil, err
		}
		rec, err := tx.GetRecord(ctx, resourceID, caller)
		if err != nil {
			return nil, err
		}
		if newDataHash.IsZero() {
			return nil, ErrEmptyHash
		}

		// lastModified must strictly increase even if the clock does not.
		if !now.After(rec.LastModified) {
			now = rec.LastModified.Add(time.Microsecond)
		}
		rec.DataHash = newDataHash
		rec.LastModified = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return nil, err
		}
		return &AuditEvent{
			Kind:       EventUpdated,
			RecordID:   rec.RecordID,
			ResourceID: resourceID,
			Owner:      caller,
			DataHash:   newDataHash,
			Timestamp:  now,
		}, nil
	})
}

// DeleteRecord removes the record keyed (resourceID, caller). The caller must
// also be its creator.
func (l *Ledger) DeleteRecord(ctx context.Context, caller Identity, resourceID string) (*AuditEvent, error) {
	return l.mutate(ctx, "delete_record", caller, resourceID, func(ctx context.Context, tx Tx, st *State, _ time.Time) (*AuditEvent, error) {
		return removeRecord(ctx, tx, st, caller, resourceID, caller)
	})
}

// ForceDeleteRecord removes the record keyed (resourceID, owner). The caller
// must be its creator; ownership is not required.
func (l *Ledger) ForceDeleteRecord(ctx context.Context, caller Identity, resourceID string, owner Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "force_delete_record", caller, resourceID, func(ctx context.Context, tx Tx, st *State, _ time.Time) (*AuditEvent, error) {
		return removeRecord(ctx, tx, st, caller, resourceID, owner)
	})
}

func removeRecord(ctx context.Context, tx Tx, st *State, caller Identity, resourceID string, owner Identity) (*AuditEvent, error) {
	if err := requireActive(st); err != nil {
		return nil, err
	}
	rec, err := tx.GetRecord(ctx, resourceID, owner)
	if err != nil {
		return nil, err
	}
	if rec.Creator != caller {
		return nil, ErrNotAuthorized
	}
	if err := tx.DeleteRecord(ctx, resourceID, owner); err != nil {
		return nil, err
	}
	if st.RecordCount == 0 {
		return nil, fmt.Errorf("record count underflow deleting %q", resourceID)
	}
	st.RecordCount--
	return &AuditEvent{
		Kind:       EventDeleted,
		RecordID:   rec.RecordID,
		ResourceID: resourceID,
		Owner:      owner,
	}, nil
}

// LogAccess journals that caller accessed the record keyed (resourceID, owner).
func (l *Ledger) LogAccess(ctx context.Context, caller Identity, resourceID string, owner Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "log_access", caller, resourceID, func(ctx context.Context, tx Tx, st *State, _ time.Time) (*AuditEvent, error) {
		rec, err := existingRecord(ctx, tx, st, resourceID, owner)
		if err != nil {
			return nil, err
		}
		return &AuditEvent{
			Kind:       EventAccessed,
			RecordID:   rec.RecordID,
			ResourceID: resourceID,
			Owner:      owner,
		}, nil
	})
}

// LogShareAccess journals that caller shared the record with recipient.
func (l *Ledger) LogShareAccess(ctx context.Context, caller Identity, resourceID string, owner, recipient Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "log_share_access", caller, resourceID, func(ctx context.Context, tx Tx, st *State, _ time.Time) (*AuditEvent, error) {
		rec, err := existingRecord(ctx, tx, st, resourceID, owner)
		if err != nil {
			return nil, err
		}
		if recipient.IsZero() {
			return nil, ErrRecipientZero
		}
		if recipient == rec.Owner {
			return nil, ErrShareToSelf
		}
		return &AuditEvent{
			Kind:       EventShared,
			RecordID:   rec.RecordID,
			ResourceID: resourceID,
			Owner:      owner,
			Subject:    recipient,
		}, nil
	})
}

// LogRevokeAccess journals that caller revoked user's access to the record.
func (l *Ledger) LogRevokeAccess(ctx context.Context, caller Identity, resourceID string, owner, user Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "log_revoke_access", caller, resourceID, func(ctx context.Context, tx Tx, st *State, _ time.Time) (*AuditEvent, error) {
		rec, err := existingRecord(ctx, tx, st, resourceID, owner)
		if err != nil {
			return nil, err
		}
		if user.IsZero() {
			return nil, ErrUserZero
		}
		if user == rec.Owner {
			return nil, ErrRevokeFromSelf
		}
		return &AuditEvent{
			Kind:       EventRevokedAccess,
			RecordID:   rec.RecordID,
			ResourceID: resourceID,
			Owner:      owner,
			Subject:    user,
		}, nil
	})
}

func existingRecord(ctx context.Context, tx Tx, st *State, resourceID string, owner Identity) (*Record, error) {
	if err := requireActive(st); err != nil {
		return nil, err
	}
	return tx.GetRecord(ctx, resourceID, owner)
}

// Pause suspends every record operation. Lookups stay available.
func (l *Ledger) Pause(ctx context.Context, caller Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "pause", caller, "", func(_ context.Context, _ Tx, st *State, _ time.Time) (*AuditEvent, error) {
		if err := requireAdministrator(st, caller); err != nil {
			return nil, err
		}
		if st.Paused {
			return nil, ErrLedgerPaused
		}
		st.Paused = true
		return &AuditEvent{Kind: EventPaused}, nil
	})
}

// Unpause returns a paused ledger to active.
func (l *Ledger) Unpause(ctx context.Context, caller Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "unpause", caller, "", func(_ context.Context, _ Tx, st *State, _ time.Time) (*AuditEvent, error) {
		if err := requireAdministrator(st, caller); err != nil {
			return nil, err
		}
		if !st.Paused {
			return nil, ErrLedgerNotPaused
		}
		st.Paused = false
		return &AuditEvent{Kind: EventUnpaused}, nil
	})
}

// TransferAdministrator hands administrative control to newAdmin.
func (l *Ledger) TransferAdministrator(ctx context.Context, caller, newAdmin Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "transfer_administrator", caller, "", func(_ context.Context, _ Tx, st *State, _ time.Time) (*AuditEvent, error) {
		if err := requireAdministrator(st, caller); err != nil {
			return nil, err
		}
		if newAdmin.IsZero() {
			return nil, ErrInvalidAdministrator
		}
		st.Administrator = newAdmin
		return &AuditEvent{Kind: EventAdministratorTransferred, Subject: newAdmin}, nil
	})
}

// RenounceAdministrator leaves the ledger without an administrator. Pause
// state is frozen from then on.
func (l *Ledger) RenounceAdministrator(ctx context.Context, caller Identity) (*AuditEvent, error) {
	return l.mutate(ctx, "renounce_administrator", caller, "", func(_ context.Context, _ Tx, st *State, _ time.Time) (*AuditEvent, error) {
		if err := requireAdministrator(st, caller); err != nil {
			return nil, err
		}
		st.Administrator = ZeroIdentity
		return &AuditEvent{Kind: EventAdministratorTransferred, Subject: ZeroIdentity}, nil
	})
}

// ── Lookups ──────────────────────────────────────────────────────────────

func (l *Ledger) view(ctx context.Context, fn func(Tx) error) error {
	return l.store.View(ctx, fn)
}

// GetRecord returns the live record keyed (resourceID, owner).
func (l *Ledger) GetRecord(ctx context.Context, resourceID string, owner Identity) (*Record, error) {
	var rec *Record
	err := l.view(ctx, func(tx Tx) error {
		var err error
		rec, err = tx.GetRecord(ctx, resourceID, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordExists reports whether a live record is filed under the key.
func (l *Ledger) RecordExists(ctx context.Context, resourceID string, owner Identity) (bool, error) {
	_, err := l.GetRecord(ctx, resourceID, owner)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrRecordDoesNotExist):
		return false, nil
	default:
		return false, err
	}
}

// GetDataHash returns the current fingerprint of the record.
func (l *Ledger) GetDataHash(ctx context.Context, resourceID string, owner Identity) (Digest, error) {
	rec, err := l.GetRecord(ctx, resourceID, owner)
	if err != nil {
		return Digest{}, err
	}
	return rec.DataHash, nil
}

// GetCreator returns the identity that created the record.
func (l *Ledger) GetCreator(ctx context.Context, resourceID string, owner Identity) (Identity, error) {
	rec, err := l.GetRecord(ctx, resourceID, owner)
	if err != nil {
		return ZeroIdentity, err
	}
	return rec.Creator, nil
}

// GetRecordID is RecordIDOf exposed on the ledger for API symmetry.
func (l *Ledger) GetRecordID(resourceID string, owner Identity) RecordID {
	return RecordIDOf(resourceID, owner)
}

// Status returns a snapshot of the administrative and bookkeeping state.
func (l *Ledger) Status(ctx context.Context) (State, error) {
	var st State
	err := l.view(ctx, func(tx Tx) error {
		var err error
		st, err = tx.State(ctx)
		return err
	})
	return st, err
}

// RecordCount returns the number of live records.
func (l *Ledger) RecordCount(ctx context.Context) (uint64, error) {
	st, err := l.Status(ctx)
	return st.RecordCount, err
}

// Paused reports whether record operations are suspended.
func (l *Ledger) Paused(ctx context.Context) (bool, error) {
	st, err := l.Status(ctx)
	return st.Paused, err
}

// Administrator returns the current administrator, ZeroIdentity if renounced.
func (l *Ledger) Administrator(ctx context.Context) (Identity, error) {
	st, err := l.Status(ctx)
	return st.Administrator, err
}

// Len returns the number of events in the log.
func (l *Ledger) Len(ctx context.Context) (uint64, error) {
	st, err := l.Status(ctx)
	return st.Seq, err
}

// Root returns the hash of the newest event, or GenesisHash for an empty log.
func (l *Ledger) Root(ctx context.Context) (string, error) {
	st, err := l.Status(ctx)
	if err != nil {
		return "", err
	}
	if st.Head == "" {
		return GenesisHash, nil
	}
	return st.Head, nil
}

// Events returns events matching f in ascending Seq order.
func (l *Ledger) Events(ctx context.Context, f EventFilter) ([]*AuditEvent, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultEventLimit
	case f.Limit > MaxEventLimit:
		f.Limit = MaxEventLimit
	}
	var out []*AuditEvent
	err := l.view(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Events(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// Verify walks the whole event log and checks sequence continuity, hash
// linkage and that the tip matches the persisted head.
func (l *Ledger) Verify(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "auditledger.verify")
	defer span.End()

	return l.view(ctx, func(tx Tx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		v := newChainVerifier()
		for {
			page, err := tx.Events(ctx, EventFilter{AfterSeq: v.nextSeq - 1, Limit: MaxEventLimit})
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			for _, e := range page {
				if err := v.check(e); err != nil {
					span.SetStatus(otelcodes.Error, err.Error())
					return err
				}
			}
			if len(page) < MaxEventLimit {
				break
			}
		}
		if got := v.nextSeq - 1; got != st.Seq {
			return fmt.Errorf("event log has %d events, state records %d", got, st.Seq)
		}
		if st.Seq > 0 && v.prevHash != st.Head {
			return fmt.Errorf("chain tip %s does not match recorded head %s", v.prevHash, st.Head)
		}
		return nil
	})
}

// Ping checks the underlying store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
