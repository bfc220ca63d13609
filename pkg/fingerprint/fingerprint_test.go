package fingerprint_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/TriageLedger/pkg/fingerprint"
)

func TestSum_knownVector(t *testing.T) {
	got := fingerprint.Hex(fingerprint.Sum([]byte("abc")))
	want := "0xba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	data := strings.Repeat("observation ", 1000)
	r, err := fingerprint.SumReader(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if r != fingerprint.Sum([]byte(data)) {
		t.Error("SumReader differs from Sum")
	}
}

func TestSumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(`{"resourceType":"Patient"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := fingerprint.SumFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != fingerprint.Sum([]byte(`{"resourceType":"Patient"}`)) {
		t.Error("SumFile differs from Sum")
	}
	if _, err := fingerprint.SumFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSumJSON_keyOrderIndependent(t *testing.T) {
	a, err := fingerprint.SumJSON(map[string]any{"id": "1", "resourceType": "Patient"})
	if err != nil {
		t.Fatal(err)
	}
	type patient struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	b, err := fingerprint.SumJSON(patient{ResourceType: "Patient", ID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("equal documents hashed differently")
	}

	c, _ := fingerprint.SumJSON(map[string]any{"id": "2", "resourceType": "Patient"})
	if a == c {
		t.Error("different documents hashed the same")
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := fingerprint.Sum([]byte("x"))
	for _, s := range []string{fingerprint.Hex(d), strings.TrimPrefix(fingerprint.Hex(d), "0x")} {
		got, err := fingerprint.Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got != d {
			t.Errorf("Parse(%q) mismatch", s)
		}
	}
	if _, err := fingerprint.Parse("0x1234"); err == nil {
		t.Error("expected error for short digest")
	}
	if _, err := fingerprint.Parse("0x" + strings.Repeat("zz", 32)); err == nil {
		t.Error("expected error for non-hex digest")
	}
}
