package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// CallerClaims are the JWT claims of a caller token. The subject is the
// ledger identity every request bearing the token is attributed to.
type CallerClaims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity"`
}

// Caller returns the attributed ledger identity.
func (c *CallerClaims) Caller() auditledger.Identity {
	return auditledger.Identity(c.Identity)
}

// CallerTokenIssuer issues and verifies caller tokens signed with RS256.
type CallerTokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewCallerTokenIssuer creates a CallerTokenIssuer.
//
//	issuerURL: The "iss" claim value; typically the ledger's base URL.
//	ttl:       Token lifetime (default: 1 hour).
func NewCallerTokenIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration) *CallerTokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &CallerTokenIssuer{
		key:    key,
		pub:    &key.PublicKey,
		issuer: issuerURL,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a signed caller token for id.
func (t *CallerTokenIssuer) Issue(id auditledger.Identity) (string, error) {
	if strings.TrimSpace(string(id)) == "" {
		return "", fmt.Errorf("identity is required")
	}
	now := t.now().UTC()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Identity: string(id),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKeyID
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a caller token, returning its claims on success.
func (t *CallerTokenIssuer) Verify(tokenStr string) (*CallerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&CallerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Identity == "" || claims.Identity != claims.Subject {
		return nil, fmt.Errorf("token identity does not match subject")
	}
	return claims, nil
}

// PublicKey returns the RSA public key used to verify tokens.
func (t *CallerTokenIssuer) PublicKey() *rsa.PublicKey { return t.pub }

// PublicKeyPEM returns the RSA public key in PKIX PEM format.
func (t *CallerTokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(t.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// SetClock replaces the issuing and validation clock. Intended for tests.
func (t *CallerTokenIssuer) SetClock(now func() time.Time) { t.now = now }

// TTL returns the configured token lifetime.
func (t *CallerTokenIssuer) TTL() time.Duration { return t.ttl }
