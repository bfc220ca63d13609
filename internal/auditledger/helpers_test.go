package auditledger_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

var ctx = context.Background()

const (
	admin     = auditledger.Identity("admin")
	clinician = auditledger.Identity("clinician-c")
	patient   = auditledger.Identity("patient-o")
	stranger  = auditledger.Identity("user-x")
)

var (
	hashA = auditledger.DigestFromString("hashA")
	hashB = auditledger.DigestFromString("hashB")
)

type storeFactory struct {
	name string
	open func(t *testing.T) auditledger.Store
}

func stores() []storeFactory {
	return []storeFactory{
		{"memory", func(*testing.T) auditledger.Store { return auditledger.NewMemoryStore() }},
		{"sqlite", func(t *testing.T) auditledger.Store {
			t.Helper()
			s, err := auditledger.OpenSQLite(ctx, ":memory:")
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

// forEachStore runs fn once per backend with a fresh ledger administered by admin.
func forEachStore(t *testing.T, fn func(t *testing.T, l *auditledger.Ledger)) {
	t.Helper()
	for _, sf := range stores() {
		t.Run(sf.name, func(t *testing.T) {
			l, err := auditledger.New(ctx, sf.open(t), admin, zap.NewNop())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			fn(t, l)
		})
	}
}

func mustCreate(t *testing.T, l *auditledger.Ledger, caller auditledger.Identity, resourceID string, hash auditledger.Digest, owner auditledger.Identity) *auditledger.AuditEvent {
	t.Helper()
	ev, err := l.CreateRecord(ctx, caller, resourceID, hash, owner)
	if err != nil {
		t.Fatalf("CreateRecord(%q, %q): %v", resourceID, owner, err)
	}
	return ev
}

func wantErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error: got %v, want %v", err, want)
	}
}

func count(t *testing.T, l *auditledger.Ledger) uint64 {
	t.Helper()
	n, err := l.RecordCount(ctx)
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	return n
}

func eventLen(t *testing.T, l *auditledger.Ledger) uint64 {
	t.Helper()
	n, err := l.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	return n
}
