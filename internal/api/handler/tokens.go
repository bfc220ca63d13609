package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
	"github.com/jmerrifield20/TriageLedger/internal/identity"
)

// TokenHandler mints caller tokens for operators holding the admin secret.
type TokenHandler struct {
	tokens     *identity.CallerTokenIssuer
	secretHash string
	logger     *zap.Logger
}

// NewTokenHandler creates a TokenHandler. An empty secretHash disables minting.
func NewTokenHandler(tokens *identity.CallerTokenIssuer, secretHash string, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, secretHash: secretHash, logger: logger}
}

// Register mounts POST /tokens on the given router group.
func (h *TokenHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/tokens", identity.RequireAdminSecret(h.secretHash), h.Mint)
}

type mintRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// Mint handles POST /tokens.
func (h *TokenHandler) Mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := auditledger.Identity(strings.TrimSpace(req.Identity))

	token, err := h.tokens.Issue(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("caller token issued", zap.String("identity", id.String()))

	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"identity":   id,
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}
