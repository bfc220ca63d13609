// Package fingerprint produces the fixed-width digests the ledger records in
// place of clinical payloads. Hash locally; send only the digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Size is the digest width in bytes.
const Size = sha256.Size

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) [Size]byte {
	return sha256.Sum256(data)
}

// SumReader hashes everything read from r.
func SumReader(r io.Reader) ([Size]byte, error) {
	var out [Size]byte
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return out, fmt.Errorf("hash stream: %w", err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SumFile hashes the contents of the file at path.
func SumFile(path string) ([Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [Size]byte{}, err
	}
	defer f.Close()
	return SumReader(f)
}

// SumJSON hashes the canonical JSON encoding of v. Objects are re-encoded
// with sorted keys, so semantically equal documents hash the same.
func SumJSON(v any) ([Size]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("marshal: %w", err)
	}
	// Round-trip through a generic value: encoding/json sorts map keys.
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return [Size]byte{}, fmt.Errorf("normalise: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("marshal canonical: %w", err)
	}
	return Sum(canonical), nil
}

// Hex formats a digest the way the ledger API expects ("0x" + 64 hex digits).
func Hex(d [Size]byte) string {
	return "0x" + hex.EncodeToString(d[:])
}

// Parse decodes a "0x"-prefixed or bare 64-digit hex digest.
func Parse(s string) ([Size]byte, error) {
	var out [Size]byte
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*Size {
		return out, fmt.Errorf("digest must be %d hex digits, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, fmt.Errorf("decode digest: %w", err)
	}
	return out, nil
}
