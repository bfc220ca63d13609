// Package auditledger implements the access-controlled audit ledger: records
// are filed by (resource ID, owner), carry only a fixed-width fingerprint of
// the off-ledger resource, and every mutation is journalled as an immutable,
// hash-chained AuditEvent committed atomically with the state change.
package auditledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Identity is an opaque principal handle (account id, address, subject).
// No format is assumed. The empty string is the zero identity.
type Identity string

// ZeroIdentity is the null principal. It can never own, receive, or administer.
const ZeroIdentity Identity = ""

// IsZero reports whether id is the null principal.
func (id Identity) IsZero() bool { return id == ZeroIdentity }

func (id Identity) String() string { return string(id) }

// DigestSize is the width of a fingerprint in bytes.
const DigestSize = 32

// Digest is a fixed-width opaque fingerprint. The ledger never hashes
// payloads itself; callers supply an already-computed digest.
type Digest [DigestSize]byte

// DigestFromBytes packs b into a Digest by left-justified copy. Input longer
// than DigestSize is truncated and shorter input is zero padded.
func DigestFromBytes(b []byte) Digest {
	var d Digest
	copy(d[:], b)
	return d
}

// DigestFromString packs the raw bytes of s with the same rules as DigestFromBytes.
func DigestFromString(s string) Digest {
	return DigestFromBytes([]byte(s))
}

// ParseDigest decodes a 64-character hex string, with or without a 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", DigestSize*2, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	return d, nil
}

// IsZero reports whether every byte of d is zero, i.e. the empty value.
func (d Digest) IsZero() bool { return d == Digest{} }

// Hex returns the 0x-prefixed lowercase hex encoding.
func (d Digest) Hex() string { return "0x" + hex.EncodeToString(d[:]) }

func (d Digest) String() string { return d.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(b []byte) error {
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RecordID is the deterministic correlation handle of a record key.
type RecordID = Digest

// RecordIDOf derives the record ID for (resourceID, owner). Each field is
// length-prefixed before hashing so that distinct pairs never share an encoding.
func RecordIDOf(resourceID string, owner Identity) RecordID {
	h := sha256.New()
	writeField(h, resourceID)
	writeField(h, string(owner))
	var id RecordID
	copy(id[:], h.Sum(nil))
	return id
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}

// Record is the audit state of one resource under one owner.
type Record struct {
	RecordID     RecordID  `json:"record_id"`
	ResourceID   string    `json:"resource_id"`
	Owner        Identity  `json:"owner"`
	Creator      Identity  `json:"creator"`
	DataHash     Digest    `json:"data_hash"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// EventKind names the transition an AuditEvent records.
type EventKind string

const (
	EventCreated                  EventKind = "created"
	EventAccessed                 EventKind = "accessed"
	EventUpdated                  EventKind = "updated"
	EventShared                   EventKind = "shared"
	EventRevokedAccess            EventKind = "revoked_access"
	EventDeleted                  EventKind = "deleted"
	EventPaused                   EventKind = "paused"
	EventUnpaused                 EventKind = "unpaused"
	EventAdministratorTransferred EventKind = "administrator_transferred"
)

var eventKinds = map[EventKind]struct{}{
	EventCreated: {}, EventAccessed: {}, EventUpdated: {}, EventShared: {},
	EventRevokedAccess: {}, EventDeleted: {}, EventPaused: {}, EventUnpaused: {},
	EventAdministratorTransferred: {},
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	_, ok := eventKinds[k]
	return ok
}
