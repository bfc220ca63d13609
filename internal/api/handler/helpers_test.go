package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmerrifield20/TriageLedger/internal/api/handler"
	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
	"github.com/jmerrifield20/TriageLedger/internal/identity"
)

const (
	adminID     = "admin"
	clinicianID = "clinician-c"
	patientID   = "patient-o"
	adminSecret = "bootstrap-secret"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey

	hashOnce   sync.Once
	secretHash string
)

type testServer struct {
	router *gin.Engine
	ledger *auditledger.Ledger
	tokens *identity.CallerTokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testKey = k
	})
	hashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		secretHash = string(h)
	})

	ledger, err := auditledger.New(context.Background(), auditledger.NewMemoryStore(), adminID, zap.NewNop())
	if err != nil {
		t.Fatalf("auditledger.New: %v", err)
	}
	tokens := identity.NewCallerTokenIssuer(testKey, "https://ledger.test", time.Hour)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewRecordHandler(ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(ledger, zap.NewNop()).Register(v1)
	handler.NewAdminHandler(ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewTokenHandler(tokens, secretHash, zap.NewNop()).Register(v1)

	return &testServer{router: r, ledger: ledger, tokens: tokens}
}

func (s *testServer) token(t *testing.T, id string) string {
	t.Helper()
	tok, err := s.tokens.Issue(auditledger.Identity(id))
	if err != nil {
		t.Fatalf("Issue(%q): %v", id, err)
	}
	return tok
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(s *testServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// do sends a JSON request as caller (no Authorization header when caller is empty).
func (s *testServer) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, caller))
	}
	return serve(s, req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return resp
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode(t, w)["code"]; got != code {
		t.Errorf("code: got %v, want %q", got, code)
	}
}

func hashHex(s string) string {
	return auditledger.DigestFromString(s).Hex()
}

func createBody(resourceID, hash, owner string) map[string]string {
	return map[string]string{"resource_id": resourceID, "data_hash": hash, "owner": owner}
}
