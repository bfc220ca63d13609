package auditledger_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

func TestCreateRecord_countsAndEmits(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		ev := mustCreate(t, l, clinician, "r1", hashA, patient)

		if ev.Kind != auditledger.EventCreated {
			t.Errorf("Kind: got %q, want created", ev.Kind)
		}
		if ev.Actor != clinician || ev.Owner != patient {
			t.Errorf("actor/owner: got %q/%q", ev.Actor, ev.Owner)
		}
		if ev.DataHash != hashA {
			t.Errorf("DataHash: got %s", ev.DataHash)
		}
		if ev.RecordID != auditledger.RecordIDOf("r1", patient) {
			t.Error("event RecordID does not match RecordIDOf")
		}
		if ev.Seq != 1 || ev.PrevHash != auditledger.GenesisHash {
			t.Errorf("first event: seq=%d prev=%s", ev.Seq, ev.PrevHash)
		}
		if n := count(t, l); n != 1 {
			t.Errorf("RecordCount: got %d, want 1", n)
		}

		rec, err := l.GetRecord(ctx, "r1", patient)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Creator != clinician {
			t.Errorf("Creator: got %q, want %q", rec.Creator, clinician)
		}
		if !rec.CreatedAt.Equal(rec.LastModified) {
			t.Errorf("LastModified %v should equal CreatedAt %v on creation", rec.LastModified, rec.CreatedAt)
		}
	})
}

func TestCreateRecord_duplicateFails(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)

		_, err := l.CreateRecord(ctx, stranger, "r1", hashB, patient)
		wantErr(t, err, auditledger.ErrRecordAlreadyExists)
		if k := auditledger.KindOf(err); k != auditledger.KindAlreadyExists {
			t.Errorf("KindOf: got %s", k)
		}
		if n := count(t, l); n != 1 {
			t.Errorf("RecordCount after failed create: got %d, want 1", n)
		}
		if n := eventLen(t, l); n != 1 {
			t.Errorf("events after failed create: got %d, want 1", n)
		}

		// Same resource, different owner is a distinct key.
		mustCreate(t, l, clinician, "r1", hashB, stranger)
		if n := count(t, l); n != 2 {
			t.Errorf("RecordCount: got %d, want 2", n)
		}
	})
}

func TestCreateRecord_emptyHashRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.CreateRecord(ctx, clinician, "r1", auditledger.Digest{}, patient)
		wantErr(t, err, auditledger.ErrEmptyHash)
		if n := count(t, l); n != 0 {
			t.Errorf("RecordCount: got %d, want 0", n)
		}
	})
}

func TestCreateRecord_emptyResourceAndSelfOwned(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "", hashA, clinician)
		ok, err := l.RecordExists(ctx, "", clinician)
		if err != nil || !ok {
			t.Fatalf("RecordExists(\"\", clinician) = %v, %v", ok, err)
		}
	})
}

func TestMutations_requireCaller(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.CreateRecord(ctx, auditledger.ZeroIdentity, "r1", hashA, patient)
		wantErr(t, err, auditledger.ErrCallerRequired)
	})
}

func TestUpdateRecord_ownerAuthorized(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)

		// The creator holds no record at (r1, clinician).
		_, err := l.UpdateRecord(ctx, clinician, "r1", hashB)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		ev, err := l.UpdateRecord(ctx, patient, "r1", hashB)
		if err != nil {
			t.Fatalf("owner update: %v", err)
		}
		if ev.Kind != auditledger.EventUpdated || ev.DataHash != hashB {
			t.Errorf("event: kind=%q hash=%s", ev.Kind, ev.DataHash)
		}

		rec, err := l.GetRecord(ctx, "r1", patient)
		if err != nil {
			t.Fatal(err)
		}
		if rec.DataHash != hashB {
			t.Errorf("DataHash: got %s, want %s", rec.DataHash, hashB)
		}
		if rec.Creator != clinician {
			t.Errorf("Creator changed to %q", rec.Creator)
		}
	})
}

func TestUpdateRecord_emptyHashRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)
		_, err := l.UpdateRecord(ctx, patient, "r1", auditledger.Digest{})
		wantErr(t, err, auditledger.ErrEmptyHash)

		got, err := l.GetDataHash(ctx, "r1", patient)
		if err != nil {
			t.Fatal(err)
		}
		if got != hashA {
			t.Errorf("hash changed after rejected update: %s", got)
		}
	})
}

func TestUpdateRecord_lastModifiedStrictlyIncreases(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		l.SetClock(func() time.Time { return frozen })

		mustCreate(t, l, clinician, "r1", hashA, patient)
		first, err := l.GetRecord(ctx, "r1", patient)
		if err != nil {
			t.Fatal(err)
		}

		prev := first.LastModified
		for i := 0; i < 3; i++ {
			if _, err := l.UpdateRecord(ctx, patient, "r1", hashB); err != nil {
				t.Fatal(err)
			}
			rec, err := l.GetRecord(ctx, "r1", patient)
			if err != nil {
				t.Fatal(err)
			}
			if !rec.LastModified.After(prev) {
				t.Fatalf("update %d: LastModified %v not after %v", i, rec.LastModified, prev)
			}
			if rec.LastModified.Before(rec.CreatedAt) {
				t.Fatalf("LastModified %v before CreatedAt %v", rec.LastModified, rec.CreatedAt)
			}
			if !rec.CreatedAt.Equal(first.CreatedAt) {
				t.Fatalf("CreatedAt changed: %v -> %v", first.CreatedAt, rec.CreatedAt)
			}
			prev = rec.LastModified
		}
	})
}

func TestDeleteRecord_requiresOwnerAndCreator(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)
		mustCreate(t, l, patient, "self", hashA, patient)

		_, err := l.DeleteRecord(ctx, stranger, "r1")
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		_, err = l.DeleteRecord(ctx, patient, "r1")
		wantErr(t, err, auditledger.ErrNotAuthorized)
		if k := auditledger.KindOf(err); k != auditledger.KindUnauthorized {
			t.Errorf("KindOf: got %s", k)
		}

		ev, err := l.DeleteRecord(ctx, patient, "self")
		if err != nil {
			t.Fatalf("self-created delete: %v", err)
		}
		if ev.Kind != auditledger.EventDeleted {
			t.Errorf("Kind: got %q", ev.Kind)
		}
		if n := count(t, l); n != 1 {
			t.Errorf("RecordCount: got %d, want 1", n)
		}
		if ok, _ := l.RecordExists(ctx, "self", patient); ok {
			t.Error("deleted record still exists")
		}
	})
}

func TestForceDeleteRecord_creatorOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)

		_, err := l.ForceDeleteRecord(ctx, patient, "r1", patient)
		wantErr(t, err, auditledger.ErrNotAuthorized)
		_, err = l.ForceDeleteRecord(ctx, stranger, "r1", patient)
		wantErr(t, err, auditledger.ErrNotAuthorized)
		_, err = l.ForceDeleteRecord(ctx, clinician, "r1", stranger)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		if _, err := l.ForceDeleteRecord(ctx, clinician, "r1", patient); err != nil {
			t.Fatalf("creator force delete: %v", err)
		}
		if n := count(t, l); n != 0 {
			t.Errorf("RecordCount: got %d, want 0", n)
		}

		// The key can be reused after deletion.
		mustCreate(t, l, stranger, "r1", hashB, patient)
	})
}

func TestLogAccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.LogAccess(ctx, stranger, "r1", patient)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		mustCreate(t, l, clinician, "r1", hashA, patient)
		for _, caller := range []auditledger.Identity{stranger, patient, clinician} {
			ev, err := l.LogAccess(ctx, caller, "r1", patient)
			if err != nil {
				t.Fatalf("LogAccess by %s: %v", caller, err)
			}
			if ev.Kind != auditledger.EventAccessed || ev.Actor != caller {
				t.Errorf("event: kind=%q actor=%q", ev.Kind, ev.Actor)
			}
		}
		if n := count(t, l); n != 1 {
			t.Errorf("access logging changed RecordCount to %d", n)
		}
	})
}

func TestLogShareAccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.LogShareAccess(ctx, stranger, "r1", patient, "doctor-d")
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		mustCreate(t, l, clinician, "r1", hashA, patient)

		_, err = l.LogShareAccess(ctx, patient, "r1", patient, auditledger.ZeroIdentity)
		wantErr(t, err, auditledger.ErrRecipientZero)
		if k := auditledger.KindOf(err); k != auditledger.KindInvalidIdentity {
			t.Errorf("KindOf: got %s", k)
		}

		_, err = l.LogShareAccess(ctx, stranger, "r1", patient, patient)
		wantErr(t, err, auditledger.ErrShareToSelf)
		if k := auditledger.KindOf(err); k != auditledger.KindSelfReferenceNotAllowed {
			t.Errorf("KindOf: got %s", k)
		}

		// Any third party may log sharing, including to themselves.
		ev, err := l.LogShareAccess(ctx, stranger, "r1", patient, stranger)
		if err != nil {
			t.Fatalf("third-party share: %v", err)
		}
		if ev.Kind != auditledger.EventShared || ev.Subject != stranger || ev.Actor != stranger {
			t.Errorf("event: kind=%q subject=%q actor=%q", ev.Kind, ev.Subject, ev.Actor)
		}
	})
}

func TestLogRevokeAccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)

		_, err := l.LogRevokeAccess(ctx, patient, "r1", patient, auditledger.ZeroIdentity)
		wantErr(t, err, auditledger.ErrUserZero)

		_, err = l.LogRevokeAccess(ctx, clinician, "r1", patient, patient)
		wantErr(t, err, auditledger.ErrRevokeFromSelf)

		ev, err := l.LogRevokeAccess(ctx, stranger, "r1", patient, "doctor-d")
		if err != nil {
			t.Fatalf("third-party revoke: %v", err)
		}
		if ev.Kind != auditledger.EventRevokedAccess || ev.Subject != "doctor-d" {
			t.Errorf("event: kind=%q subject=%q", ev.Kind, ev.Subject)
		}
	})
}

func TestLookups_notFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.GetRecord(ctx, "missing", patient)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)
		_, err = l.GetDataHash(ctx, "missing", patient)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)
		_, err = l.GetCreator(ctx, "missing", patient)
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		ok, err := l.RecordExists(ctx, "missing", patient)
		if err != nil || ok {
			t.Errorf("RecordExists = %v, %v; want false, nil", ok, err)
		}
	})
}

func TestPaused_blocksMutationsNotLookups(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)
		mustCreate(t, l, patient, "self", hashA, patient)
		if _, err := l.Pause(ctx, admin); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		before := eventLen(t, l)

		ops := map[string]func() error{
			"create": func() error {
				_, err := l.CreateRecord(ctx, clinician, "r2", hashA, patient)
				return err
			},
			"update": func() error {
				_, err := l.UpdateRecord(ctx, patient, "r1", hashB)
				return err
			},
			"delete": func() error {
				_, err := l.DeleteRecord(ctx, patient, "self")
				return err
			},
			"force delete": func() error {
				_, err := l.ForceDeleteRecord(ctx, clinician, "r1", patient)
				return err
			},
			"access": func() error {
				_, err := l.LogAccess(ctx, stranger, "r1", patient)
				return err
			},
			"share": func() error {
				_, err := l.LogShareAccess(ctx, stranger, "r1", patient, stranger)
				return err
			},
			"revoke": func() error {
				_, err := l.LogRevokeAccess(ctx, stranger, "r1", patient, stranger)
				return err
			},
		}
		for name, op := range ops {
			err := op()
			wantErr(t, err, auditledger.ErrLedgerPaused)
			if k := auditledger.KindOf(err); k != auditledger.KindSuspended {
				t.Errorf("%s: KindOf = %s", name, k)
			}
		}

		if n := eventLen(t, l); n != before {
			t.Errorf("events emitted while paused: %d -> %d", before, n)
		}
		if n := count(t, l); n != 2 {
			t.Errorf("RecordCount: got %d, want 2", n)
		}
		if ok, err := l.RecordExists(ctx, "r1", patient); err != nil || !ok {
			t.Errorf("RecordExists while paused = %v, %v", ok, err)
		}
		if h, err := l.GetDataHash(ctx, "r1", patient); err != nil || h != hashA {
			t.Errorf("GetDataHash while paused = %s, %v", h, err)
		}
		if c, err := l.GetCreator(ctx, "r1", patient); err != nil || c != clinician {
			t.Errorf("GetCreator while paused = %s, %v", c, err)
		}
		if p, err := l.Paused(ctx); err != nil || !p {
			t.Errorf("Paused = %v, %v", p, err)
		}
	})
}

func TestAdministration(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		_, err := l.Pause(ctx, stranger)
		wantErr(t, err, auditledger.ErrNotAdministrator)

		_, err = l.Unpause(ctx, admin)
		wantErr(t, err, auditledger.ErrLedgerNotPaused)

		if _, err := l.Pause(ctx, admin); err != nil {
			t.Fatal(err)
		}
		_, err = l.Pause(ctx, admin)
		wantErr(t, err, auditledger.ErrLedgerPaused)

		_, err = l.Unpause(ctx, stranger)
		wantErr(t, err, auditledger.ErrNotAdministrator)

		// Administration is not suspended by the pause.
		_, err = l.TransferAdministrator(ctx, admin, auditledger.ZeroIdentity)
		wantErr(t, err, auditledger.ErrInvalidAdministrator)

		ev, err := l.TransferAdministrator(ctx, admin, "admin-2")
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind != auditledger.EventAdministratorTransferred || ev.Subject != "admin-2" {
			t.Errorf("event: kind=%q subject=%q", ev.Kind, ev.Subject)
		}
		_, err = l.Unpause(ctx, admin)
		wantErr(t, err, auditledger.ErrNotAdministrator)

		if _, err := l.Unpause(ctx, "admin-2"); err != nil {
			t.Fatalf("new admin unpause: %v", err)
		}
		if _, err := l.RenounceAdministrator(ctx, "admin-2"); err != nil {
			t.Fatal(err)
		}
		if a, _ := l.Administrator(ctx); !a.IsZero() {
			t.Errorf("Administrator after renounce: %q", a)
		}
		_, err = l.Pause(ctx, "admin-2")
		wantErr(t, err, auditledger.ErrNotAdministrator)

		// The ledger stays operable with no administrator.
		mustCreate(t, l, clinician, "r1", hashA, patient)
	})
}

func TestScenario_lifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		ev := mustCreate(t, l, clinician, "r1", hashA, patient)
		if ev.Kind != auditledger.EventCreated {
			t.Fatalf("want Created, got %q", ev.Kind)
		}
		if n := count(t, l); n != 1 {
			t.Fatalf("RecordCount: got %d, want 1", n)
		}

		if _, err := l.UpdateRecord(ctx, patient, "r1", hashB); err != nil {
			t.Fatalf("owner update: %v", err)
		}
		if h, _ := l.GetDataHash(ctx, "r1", patient); h != hashB {
			t.Fatalf("DataHash: got %s, want hashB", h)
		}

		_, err := l.DeleteRecord(ctx, stranger, "r1")
		wantErr(t, err, auditledger.ErrRecordDoesNotExist)

		_, err = l.DeleteRecord(ctx, patient, "r1")
		wantErr(t, err, auditledger.ErrNotAuthorized)

		if _, err := l.ForceDeleteRecord(ctx, clinician, "r1", patient); err != nil {
			t.Fatalf("force delete: %v", err)
		}
		if n := count(t, l); n != 0 {
			t.Fatalf("RecordCount: got %d, want 0", n)
		}
	})
}

func TestScenario_pauseKeepsLookups(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)
		if _, err := l.Pause(ctx, admin); err != nil {
			t.Fatal(err)
		}
		_, err := l.CreateRecord(ctx, clinician, "r2", hashA, patient)
		wantErr(t, err, auditledger.ErrLedgerPaused)

		if ok, _ := l.RecordExists(ctx, "r1", patient); !ok {
			t.Error("RecordExists(r1) = false, want true")
		}
		if ok, _ := l.RecordExists(ctx, "r2", patient); ok {
			t.Error("RecordExists(r2) = true, want false")
		}
	})
}

func TestEvents_orderedHashChain(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		mustCreate(t, l, clinician, "r1", hashA, patient)
		mustCreate(t, l, clinician, "r2", hashA, stranger)
		if _, err := l.LogAccess(ctx, stranger, "r1", patient); err != nil {
			t.Fatal(err)
		}
		if _, err := l.LogShareAccess(ctx, patient, "r1", patient, "doctor-d"); err != nil {
			t.Fatal(err)
		}
		// Rejected operations never reach the log.
		_, _ = l.DeleteRecord(ctx, patient, "r1")

		all, err := l.Events(ctx, auditledger.EventFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 4 {
			t.Fatalf("events: got %d, want 4", len(all))
		}
		prev := auditledger.GenesisHash
		for i, e := range all {
			if e.Seq != uint64(i+1) {
				t.Errorf("event %d: seq %d", i, e.Seq)
			}
			if e.PrevHash != prev {
				t.Errorf("event %d: chain broken", e.Seq)
			}
			prev = e.Hash
		}

		root, err := l.Root(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if root != all[3].Hash {
			t.Errorf("Root(): got %s, want %s", root, all[3].Hash)
		}
		if err := l.Verify(ctx); err != nil {
			t.Errorf("Verify(): %v", err)
		}

		rid := auditledger.RecordIDOf("r1", patient)
		byRecord, err := l.Events(ctx, auditledger.EventFilter{RecordID: &rid})
		if err != nil {
			t.Fatal(err)
		}
		if len(byRecord) != 3 {
			t.Errorf("events for r1: got %d, want 3", len(byRecord))
		}

		byActor, err := l.Events(ctx, auditledger.EventFilter{Actor: stranger})
		if err != nil {
			t.Fatal(err)
		}
		if len(byActor) != 1 || byActor[0].Kind != auditledger.EventAccessed {
			t.Errorf("events by stranger: %+v", byActor)
		}

		r2 := "r2"
		byResource, err := l.Events(ctx, auditledger.EventFilter{ResourceID: &r2})
		if err != nil {
			t.Fatal(err)
		}
		if len(byResource) != 1 {
			t.Errorf("events for resource r2: got %d, want 1", len(byResource))
		}

		shared, err := l.Events(ctx, auditledger.EventFilter{Kind: auditledger.EventShared})
		if err != nil {
			t.Fatal(err)
		}
		if len(shared) != 1 || shared[0].Subject != "doctor-d" {
			t.Errorf("shared events: %+v", shared)
		}

		page, err := l.Events(ctx, auditledger.EventFilter{AfterSeq: 2, Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 1 || page[0].Seq != 3 {
			t.Errorf("page after seq 2: %+v", page)
		}
	})
}

func TestRoot_emptyLogIsGenesis(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		root, err := l.Root(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if root != auditledger.GenesisHash {
			t.Errorf("Root(): got %s, want GenesisHash", root)
		}
		if err := l.Verify(ctx); err != nil {
			t.Errorf("Verify() on empty log: %v", err)
		}
	})
}

func TestConcurrentMutations_serialised(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *auditledger.Ledger) {
		const workers = 20

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Everyone races on one shared key plus one private key.
				_, errShared := l.CreateRecord(ctx, clinician, "shared", hashA, patient)
				_, errOwn := l.CreateRecord(ctx, clinician, fmt.Sprintf("r%d", i), hashA, patient)
				if errOwn != nil {
					t.Errorf("private create %d: %v", i, errOwn)
				}
				if errShared == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if succeeded != 1 {
			t.Errorf("shared key created %d times, want exactly 1", succeeded)
		}
		if n := count(t, l); n != workers+1 {
			t.Errorf("RecordCount: got %d, want %d", n, workers+1)
		}
		if n := eventLen(t, l); n != workers+1 {
			t.Errorf("events: got %d, want %d", n, workers+1)
		}
		if err := l.Verify(ctx); err != nil {
			t.Errorf("Verify() after concurrent writes: %v", err)
		}
	})
}

func TestStore_failedUpdateRollsBack(t *testing.T) {
	for _, sf := range stores() {
		t.Run(sf.name, func(t *testing.T) {
			s := sf.open(t)
			err := s.Update(ctx, func(tx auditledger.Tx) error {
				if err := tx.InsertRecord(ctx, &auditledger.Record{
					ResourceID: "r1", Owner: patient, Creator: clinician, DataHash: hashA,
					CreatedAt: time.Now(), LastModified: time.Now(),
				}); err != nil {
					return err
				}
				if err := tx.PutState(ctx, auditledger.State{Initialized: true, RecordCount: 1}); err != nil {
					return err
				}
				return fmt.Errorf("abort")
			})
			if err == nil || err.Error() != "abort" {
				t.Fatalf("Update error: got %v, want abort", err)
			}

			err = s.View(ctx, func(tx auditledger.Tx) error {
				if _, err := tx.GetRecord(ctx, "r1", patient); err != auditledger.ErrRecordDoesNotExist {
					t.Errorf("GetRecord after rollback: %v", err)
				}
				st, err := tx.State(ctx)
				if err != nil {
					return err
				}
				if st.Initialized || st.RecordCount != 0 {
					t.Errorf("state after rollback: %+v", st)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestStore_viewIsReadOnly(t *testing.T) {
	for _, sf := range stores() {
		t.Run(sf.name, func(t *testing.T) {
			s := sf.open(t)
			err := s.View(ctx, func(tx auditledger.Tx) error {
				return tx.PutState(ctx, auditledger.State{Initialized: true})
			})
			if err == nil {
				t.Error("expected write inside View to fail")
			}
		})
	}
}

func TestNew_keepsPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := auditledger.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	l, err := auditledger.New(ctx, s, admin, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	mustCreate(t, l, clinician, "r1", hashA, patient)
	if _, err := l.Pause(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := auditledger.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	l2, err := auditledger.New(ctx, s2, "someone-else", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if a, _ := l2.Administrator(ctx); a != admin {
		t.Errorf("Administrator: got %q, want persisted %q", a, admin)
	}
	if p, _ := l2.Paused(ctx); !p {
		t.Error("pause state lost across reopen")
	}
	if n := count(t, l2); n != 1 {
		t.Errorf("RecordCount: got %d, want 1", n)
	}
	if err := l2.Verify(ctx); err != nil {
		t.Errorf("Verify() after reopen: %v", err)
	}
}

func TestSetObserver_seesOutcomes(t *testing.T) {
	l, err := auditledger.New(ctx, auditledger.NewMemoryStore(), admin, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	l.SetObserver(func(op string, err error) {
		got = append(got, fmt.Sprintf("%s:%v", op, auditledger.CodeOf(err)))
	})

	mustCreate(t, l, clinician, "r1", hashA, patient)
	_, _ = l.CreateRecord(ctx, clinician, "r1", hashA, patient)

	want := []string{"create_record:", "create_record:RecordAlreadyExists"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("observed: got %v, want %v", got, want)
	}
}
