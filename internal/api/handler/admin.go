package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
	"github.com/jmerrifield20/TriageLedger/internal/identity"
)

// AdminHandler exposes the administrative state machine. Authorization is
// decided by the ledger against the caller token's identity.
type AdminHandler struct {
	ledger *auditledger.Ledger
	tokens *identity.CallerTokenIssuer
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ledger *auditledger.Ledger, tokens *identity.CallerTokenIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/admin", identity.RequireCaller(h.tokens))
	{
		a.POST("/pause", h.simple("pause", h.ledger.Pause))
		a.POST("/unpause", h.simple("unpause", h.ledger.Unpause))
		a.POST("/transfer", h.Transfer)
		a.POST("/renounce", h.simple("renounce administrator", h.ledger.RenounceAdministrator))
	}
}

type transferRequest struct {
	Administrator string `json:"administrator"`
}

func (h *AdminHandler) simple(op string, fn func(context.Context, auditledger.Identity) (*auditledger.AuditEvent, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, err := fn(c.Request.Context(), identity.CallerFromCtx(c))
		if err != nil {
			respondLedgerError(c, h.logger, op, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"event": ev})
	}
}

// Transfer handles POST /admin/transfer.
func (h *AdminHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.ledger.TransferAdministrator(c.Request.Context(), identity.CallerFromCtx(c),
		auditledger.Identity(req.Administrator))
	if err != nil {
		respondLedgerError(c, h.logger, "transfer administrator", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}
