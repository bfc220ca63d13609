package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"

	"github.com/gin-gonic/gin"
)

const signingKeyID = "ledger-signing-key-1"

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSProvider publishes the caller-token verification key so audit
// consumers can check the attribution of relayed events independently.
type JWKSProvider struct {
	tokens *CallerTokenIssuer
}

// NewJWKSProvider creates a JWKSProvider.
func NewJWKSProvider(tokens *CallerTokenIssuer) *JWKSProvider {
	return &JWKSProvider{tokens: tokens}
}

// RegisterWellKnown attaches the JWKS route to the engine.
func (p *JWKSProvider) RegisterWellKnown(engine *gin.Engine) {
	engine.GET("/.well-known/jwks.json", p.jwksHandler)
}

func (p *JWKSProvider) jwksHandler(c *gin.Context) {
	c.JSON(http.StatusOK, JWKSet{Keys: []JWK{rsaPublicKeyToJWK(p.tokens.PublicKey(), signingKeyID)}})
}

// rsaPublicKeyToJWK encodes an RSA public key as a JWK (RFC 7518 §6.3).
func rsaPublicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())

	// Exponent as minimal-length big-endian bytes.
	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(pub.E))
	i := 0
	for i < len(eBuf)-1 && eBuf[i] == 0 {
		i++
	}
	e := base64.RawURLEncoding.EncodeToString(eBuf[i:])

	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: "RS256", N: n, E: e}
}
