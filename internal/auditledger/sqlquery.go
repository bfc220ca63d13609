package auditledger

import (
	"fmt"
	"strings"
)

const eventColumns = `seq, id, kind, record_id, resource_id, actor, owner, subject, data_hash, ts, prev_hash, hash`

// buildEventQuery renders the SELECT for f. placeholder returns the driver's
// bind syntax for the n-th (1-based) argument.
func buildEventQuery(f EventFilter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, placeholder(len(args))))
	}

	add("seq > %s", int64(f.AfterSeq))
	if f.RecordID != nil {
		add("record_id = %s", f.RecordID[:])
	}
	if f.ResourceID != nil {
		add("resource_id = %s", *f.ResourceID)
	}
	if !f.Actor.IsZero() {
		add("actor = %s", string(f.Actor))
	}
	if f.Kind != "" {
		add("kind = %s", string(f.Kind))
	}

	q := "SELECT " + eventColumns + " FROM ledger_events WHERE " + strings.Join(where, " AND ") + " ORDER BY seq ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT " + placeholder(len(args))
	}
	return q, args
}

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func questionPlaceholder(int) string { return "?" }

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func copyDigest(dst *Digest, src []byte) error {
	if len(src) != DigestSize {
		return fmt.Errorf("stored digest has %d bytes, want %d", len(src), DigestSize)
	}
	copy(dst[:], src)
	return nil
}
