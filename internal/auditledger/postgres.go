package auditledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises ledger transactions across every ledgerd
// instance sharing the database. The value is arbitrary but must be stable.
const advisoryLockKey = int64(1_159_876_543)

// PostgresStore persists the ledger in PostgreSQL. Schema is managed by
// cmd/migrate (migrations/001_audit_ledger.up.sql).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Update implements Store. Each call is one transaction holding a
// transaction-scoped advisory lock, released on commit or rollback.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// View implements Store using a read-only repeatable-read snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store. The pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) State(ctx context.Context) (State, error) {
	var (
		st         State
		admin      string
		count, seq int64
	)
	err := t.tx.QueryRow(ctx,
		`SELECT administrator, paused, record_count, seq, head FROM ledger_state WHERE id = 1`,
	).Scan(&admin, &st.Paused, &count, &seq, &st.Head)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read ledger state: %w", err)
	}
	st.Initialized = true
	st.Administrator = Identity(admin)
	st.RecordCount = uint64(count)
	st.Seq = uint64(seq)
	return st, nil
}

func (t *pgTx) PutState(ctx context.Context, st State) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_state (id, administrator, paused, record_count, seq, head, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		     administrator = EXCLUDED.administrator,
		     paused        = EXCLUDED.paused,
		     record_count  = EXCLUDED.record_count,
		     seq           = EXCLUDED.seq,
		     head          = EXCLUDED.head,
		     updated_at    = EXCLUDED.updated_at`,
		string(st.Administrator), st.Paused, int64(st.RecordCount), int64(st.Seq), st.Head,
	)
	if err != nil {
		return fmt.Errorf("write ledger state: %w", err)
	}
	return nil
}

func (t *pgTx) GetRecord(ctx context.Context, resourceID string, owner Identity) (*Record, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT resource_id, owner, record_id, creator, data_hash, created_at, last_modified
		 FROM ledger_records WHERE resource_id = $1 AND owner = $2`,
		resourceID, string(owner),
	)
	var (
		r                  Record
		ownerS, creator    string
		recordID, dataHash []byte
	)
	err := row.Scan(&r.ResourceID, &ownerS, &recordID, &creator, &dataHash, &r.CreatedAt, &r.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if err := copyDigest(&r.RecordID, recordID); err != nil {
		return nil, err
	}
	if err := copyDigest(&r.DataHash, dataHash); err != nil {
		return nil, err
	}
	r.Owner = Identity(ownerS)
	r.Creator = Identity(creator)
	r.CreatedAt = r.CreatedAt.UTC()
	r.LastModified = r.LastModified.UTC()
	return &r, nil
}

func (t *pgTx) InsertRecord(ctx context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_records (resource_id, owner, record_id, creator, data_hash, created_at, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ResourceID, string(r.Owner), r.RecordID[:], string(r.Creator), r.DataHash[:], r.CreatedAt, r.LastModified,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRecord(ctx context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE ledger_records SET data_hash = $3, last_modified = $4
		 WHERE resource_id = $1 AND owner = $2`,
		r.ResourceID, string(r.Owner), r.DataHash[:], r.LastModified,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordDoesNotExist
	}
	return nil
}

func (t *pgTx) DeleteRecord(ctx context.Context, resourceID string, owner Identity) error {
	if t.readOnly {
		return errReadOnly
	}
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM ledger_records WHERE resource_id = $1 AND owner = $2`,
		resourceID, string(owner),
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordDoesNotExist
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e *AuditEvent) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		int64(e.Seq), e.ID, string(e.Kind), e.RecordID[:], e.ResourceID,
		string(e.Actor), string(e.Owner), string(e.Subject), e.DataHash[:],
		e.Timestamp, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (t *pgTx) Events(ctx context.Context, f EventFilter) ([]*AuditEvent, error) {
	q, args := buildEventQuery(f, dollarPlaceholder)
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPgEvent(row scanner) (*AuditEvent, error) {
	var (
		e                           AuditEvent
		seq                         int64
		kind, actor, owner, subject string
		recordID, dataHash          []byte
	)
	if err := row.Scan(
		&seq, &e.ID, &kind, &recordID, &e.ResourceID,
		&actor, &owner, &subject, &dataHash,
		&e.Timestamp, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, fmt.Errorf("scan event row: %w", err)
	}
	if err := copyDigest(&e.RecordID, recordID); err != nil {
		return nil, err
	}
	if err := copyDigest(&e.DataHash, dataHash); err != nil {
		return nil, err
	}
	e.Seq = uint64(seq)
	e.Kind = EventKind(kind)
	e.Actor = Identity(actor)
	e.Owner = Identity(owner)
	e.Subject = Identity(subject)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
