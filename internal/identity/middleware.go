package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

const (
	ctxCallerClaims = "ledger_caller_claims"

	// AdminSecretHeader carries the plaintext bootstrap secret for token minting.
	AdminSecretHeader = "X-Admin-Secret"
)

// RequireCaller returns a Gin middleware that enforces a valid Bearer caller
// token and attributes the request to the token's identity.
func RequireCaller(tokens *CallerTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer caller token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxCallerClaims, claims)
		c.Next()
	}
}

// OptionalCaller attributes the request when a valid Bearer token is present.
// It never aborts.
func OptionalCaller(tokens *CallerTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			if claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
				c.Set(ctxCallerClaims, claims)
			}
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the caller claims injected by RequireCaller.
func ClaimsFromCtx(c *gin.Context) *CallerClaims {
	v, _ := c.Get(ctxCallerClaims)
	claims, _ := v.(*CallerClaims)
	return claims
}

// CallerFromCtx returns the attributed identity, ZeroIdentity if none.
func CallerFromCtx(c *gin.Context) auditledger.Identity {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.Caller()
	}
	return auditledger.ZeroIdentity
}

// RequireAdminSecret guards a route with a shared secret compared against a
// bcrypt hash. An empty hash disables the route entirely.
func RequireAdminSecret(bcryptHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bcryptHash == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "token minting is disabled"})
			return
		}
		secret := c.GetHeader(AdminSecretHeader)
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": AdminSecretHeader + " header required"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(bcryptHash), []byte(secret)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
			return
		}
		c.Next()
	}
}
