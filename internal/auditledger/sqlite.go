package auditledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore persists the ledger in a single SQLite file. It suits
// single-node deployments that need durability without a database server.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. path ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, fn, false)
}

// View implements Store.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run(ctx, fn, true)
}

func (s *SQLiteStore) run(ctx context.Context, fn func(Tx) error, readOnly bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

type sqliteTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) State(ctx context.Context) (State, error) {
	var (
		st         State
		admin      string
		paused     bool
		count, seq int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT administrator, paused, record_count, seq, head FROM ledger_state WHERE id = 1`,
	).Scan(&admin, &paused, &count, &seq, &st.Head)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read ledger state: %w", err)
	}
	st.Initialized = true
	st.Administrator = Identity(admin)
	st.Paused = paused
	st.RecordCount = uint64(count)
	st.Seq = uint64(seq)
	return st, nil
}

func (t *sqliteTx) PutState(ctx context.Context, st State) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_state (id, administrator, paused, record_count, seq, head)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     administrator = excluded.administrator,
		     paused        = excluded.paused,
		     record_count  = excluded.record_count,
		     seq           = excluded.seq,
		     head          = excluded.head`,
		string(st.Administrator), st.Paused, int64(st.RecordCount), int64(st.Seq), st.Head,
	)
	if err != nil {
		return fmt.Errorf("write ledger state: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetRecord(ctx context.Context, resourceID string, owner Identity) (*Record, error) {
	var (
		r                     Record
		ownerS, creator       string
		recordID, dataHash    []byte
		createdAt, modifiedAt int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT resource_id, owner, record_id, creator, data_hash, created_at, last_modified
		 FROM ledger_records WHERE resource_id = ? AND owner = ?`,
		resourceID, string(owner),
	).Scan(&r.ResourceID, &ownerS, &recordID, &creator, &dataHash, &createdAt, &modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	r.CreatedAt = fromMicros(createdAt)
	r.LastModified = fromMicros(modifiedAt)
	return &r, nil
}

func (t *sqliteTx) InsertRecord(ctx context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_records (resource_id, owner, record_id, creator, data_hash, created_at, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ResourceID, string(r.Owner), r.RecordID[:], string(r.Creator), r.DataHash[:],
		toMicros(r.CreatedAt), toMicros(r.LastModified),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateRecord(ctx context.Context, r *Record) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ledger_records SET data_hash = ?, last_modified = ?
		 WHERE resource_id = ? AND owner = ?`,
		r.DataHash[:], toMicros(r.LastModified), r.ResourceID, string(r.Owner),
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return requireAffected(res)
}

func (t *sqliteTx) DeleteRecord(ctx context.Context, resourceID string, owner Identity) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM ledger_records WHERE resource_id = ? AND owner = ?`,
		resourceID, string(owner),
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordDoesNotExist
	}
	return nil
}

func (t *sqliteTx) AppendEvent(ctx context.Context, e *AuditEvent) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.Seq), e.ID.String(), string(e.Kind), e.RecordID[:], e.ResourceID,
		string(e.Actor), string(e.Owner), string(e.Subject), e.DataHash[:],
		toMicros(e.Timestamp), e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (t *sqliteTx) Events(ctx context.Context, f EventFilter) ([]*AuditEvent, error) {
	q, args := buildEventQuery(f, questionPlaceholder)
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSQLiteEvent(row scanner) (*AuditEvent, error) {
	var (
		e                               AuditEvent
		seq, ts                         int64
		id, kind, actor, owner, subject string
		recordID, dataHash              []byte
	)
	if err := row.Scan(
		&seq, &id, &kind, &recordID, &e.ResourceID,
		&actor, &owner, &subject, &dataHash,
		&ts, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, fmt.Errorf("scan event row: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", id, err)
	}
	if err := copyDigest(&e.RecordID, recordID); err != nil {
		return nil, err
	}
	if err := copyDigest(&e.DataHash, dataHash); err != nil {
		return nil, err
	}
	e.ID = parsed
	e.Seq = uint64(seq)
	e.Kind = EventKind(kind)
	e.Actor = Identity(actor)
	e.Owner = Identity(owner)
	e.Subject = Identity(subject)
	e.Timestamp = fromMicros(ts)
	return &e, nil
}
