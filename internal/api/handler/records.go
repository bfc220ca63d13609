package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
	"github.com/jmerrifield20/TriageLedger/internal/identity"
)

// RecordHandler exposes record lifecycle, access auditing and record lookups.
// Mutating routes attribute the call to the bearer token's identity.
type RecordHandler struct {
	ledger *auditledger.Ledger
	tokens *identity.CallerTokenIssuer
	logger *zap.Logger
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(ledger *auditledger.Ledger, tokens *identity.CallerTokenIssuer, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the record routes on the given router group.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	caller := identity.RequireCaller(h.tokens)

	r := rg.Group("/records")
	{
		r.POST("", caller, h.CreateRecord)
		r.PUT("", caller, h.UpdateRecord)
		r.DELETE("", caller, h.DeleteRecord)
		r.POST("/force-delete", caller, h.ForceDeleteRecord)
		r.POST("/access", caller, h.LogAccess)
		r.POST("/share", caller, h.LogShareAccess)
		r.POST("/revoke", caller, h.LogRevokeAccess)

		r.GET("", h.GetRecord)
		r.GET("/exists", h.RecordExists)
		r.GET("/id", h.RecordID)
	}
}

type createRecordRequest struct {
	ResourceID string `json:"resource_id"`
	DataHash   string `json:"data_hash"`
	Owner      string `json:"owner"`
}

type updateRecordRequest struct {
	ResourceID string `json:"resource_id"`
	DataHash   string `json:"data_hash"`
}

type recordKeyRequest struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
}

type shareRequest struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
	Recipient  string `json:"recipient"`
}

type revokeRequest struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
	User       string `json:"user"`
}

// parseDigest treats an absent hash as the empty value so the ledger can
// reject it with its own error.
func parseDigest(s string) (auditledger.Digest, error) {
	if s == "" {
		return auditledger.Digest{}, nil
	}
	return auditledger.ParseDigest(s)
}

func (h *RecordHandler) emitted(c *gin.Context, status int, op string, ev *auditledger.AuditEvent, err error) {
	if err != nil {
		respondLedgerError(c, h.logger, op, err)
		return
	}
	c.JSON(status, gin.H{"event": ev})
}

// CreateRecord handles POST /records.
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, err := parseDigest(req.DataHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data_hash: " + err.Error()})
		return
	}

	ev, err := h.ledger.CreateRecord(c.Request.Context(), identity.CallerFromCtx(c),
		req.ResourceID, hash, auditledger.Identity(req.Owner))
	h.emitted(c, http.StatusCreated, "create record", ev, err)
}

// UpdateRecord handles PUT /records. The caller is the owner key.
func (h *RecordHandler) UpdateRecord(c *gin.Context) {
	var req updateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, err := parseDigest(req.DataHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data_hash: " + err.Error()})
		return
	}

	ev, err := h.ledger.UpdateRecord(c.Request.Context(), identity.CallerFromCtx(c), req.ResourceID, hash)
	h.emitted(c, http.StatusOK, "update record", ev, err)
}

// DeleteRecord handles DELETE /records?resource_id=.
func (h *RecordHandler) DeleteRecord(c *gin.Context) {
	resourceID, ok := c.GetQuery("resource_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id query parameter is required"})
		return
	}
	ev, err := h.ledger.DeleteRecord(c.Request.Context(), identity.CallerFromCtx(c), resourceID)
	h.emitted(c, http.StatusOK, "delete record", ev, err)
}

// ForceDeleteRecord handles POST /records/force-delete.
func (h *RecordHandler) ForceDeleteRecord(c *gin.Context) {
	var req recordKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.ledger.ForceDeleteRecord(c.Request.Context(), identity.CallerFromCtx(c),
		req.ResourceID, auditledger.Identity(req.Owner))
	h.emitted(c, http.StatusOK, "force delete record", ev, err)
}

// LogAccess handles POST /records/access.
func (h *RecordHandler) LogAccess(c *gin.Context) {
	var req recordKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.ledger.LogAccess(c.Request.Context(), identity.CallerFromCtx(c),
		req.ResourceID, auditledger.Identity(req.Owner))
	h.emitted(c, http.StatusOK, "log access", ev, err)
}

// LogShareAccess handles POST /records/share.
func (h *RecordHandler) LogShareAccess(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.ledger.LogShareAccess(c.Request.Context(), identity.CallerFromCtx(c),
		req.ResourceID, auditledger.Identity(req.Owner), auditledger.Identity(req.Recipient))
	h.emitted(c, http.StatusOK, "log share", ev, err)
}

// LogRevokeAccess handles POST /records/revoke.
func (h *RecordHandler) LogRevokeAccess(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.ledger.LogRevokeAccess(c.Request.Context(), identity.CallerFromCtx(c),
		req.ResourceID, auditledger.Identity(req.Owner), auditledger.Identity(req.User))
	h.emitted(c, http.StatusOK, "log revoke", ev, err)
}

func recordKeyFromQuery(c *gin.Context) (string, auditledger.Identity) {
	return c.Query("resource_id"), auditledger.Identity(c.Query("owner"))
}

// GetRecord handles GET /records?resource_id=&owner=.
func (h *RecordHandler) GetRecord(c *gin.Context) {
	resourceID, owner := recordKeyFromQuery(c)
	rec, err := h.ledger.GetRecord(c.Request.Context(), resourceID, owner)
	if err != nil {
		respondLedgerError(c, h.logger, "get record", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RecordExists handles GET /records/exists?resource_id=&owner=.
func (h *RecordHandler) RecordExists(c *gin.Context) {
	resourceID, owner := recordKeyFromQuery(c)
	ok, err := h.ledger.RecordExists(c.Request.Context(), resourceID, owner)
	if err != nil {
		respondLedgerError(c, h.logger, "record exists", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

// RecordID handles GET /records/id?resource_id=&owner=.
func (h *RecordHandler) RecordID(c *gin.Context) {
	resourceID, owner := recordKeyFromQuery(c)
	c.JSON(http.StatusOK, gin.H{"record_id": h.ledger.GetRecordID(resourceID, owner)})
}
