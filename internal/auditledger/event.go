package auditledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the PrevHash of the first event in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEvent is one immutable fact in the ledger's history. Seq is the
// 1-based, gap-free position in the global serialisation order.
type AuditEvent struct {
	Seq        uint64    `json:"seq"`
	ID         uuid.UUID `json:"id"`
	Kind       EventKind `json:"kind"`
	RecordID   RecordID  `json:"record_id"`
	ResourceID string    `json:"resource_id"`
	Actor      Identity  `json:"actor"`
	Owner      Identity  `json:"owner,omitempty"`
	Subject    Identity  `json:"subject,omitempty"` // recipient, revoked user, or new administrator
	DataHash   Digest    `json:"data_hash"`
	Timestamp  time.Time `json:"timestamp"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// hashEvent computes the chain hash over every field except Hash itself.
func hashEvent(e *AuditEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%q|%q|%q|%q|%s|%s|%s",
		e.Seq, e.ID, e.Kind, hex.EncodeToString(e.RecordID[:]),
		e.ResourceID, e.Actor, e.Owner, e.Subject,
		hex.EncodeToString(e.DataHash[:]),
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// chainVerifier checks events one at a time in Seq order.
type chainVerifier struct {
	prevHash string
	nextSeq  uint64
}

func newChainVerifier() *chainVerifier {
	return &chainVerifier{prevHash: GenesisHash, nextSeq: 1}
}

func (v *chainVerifier) check(e *AuditEvent) error {
	if e.Seq != v.nextSeq {
		return fmt.Errorf("event sequence gap: got %d, want %d", e.Seq, v.nextSeq)
	}
	if e.PrevHash != v.prevHash {
		return fmt.Errorf("hash chain broken at seq %d", e.Seq)
	}
	if e.Hash != hashEvent(e) {
		return fmt.Errorf("event %d has invalid hash", e.Seq)
	}
	v.prevHash = e.Hash
	v.nextSeq++
	return nil
}
