package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// LedgerHandler exposes read-only HTTP endpoints for the audit event log.
type LedgerHandler struct {
	ledger *auditledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger *auditledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/events", h.Events)
	}
}

// Overview handles GET /ledger and returns the bookkeeping state and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	st, err := h.ledger.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root := st.Head
	if root == "" {
		root = auditledger.GenesisHash
	}
	c.JSON(http.StatusOK, gin.H{
		"record_count":  st.RecordCount,
		"paused":        st.Paused,
		"administrator": st.Administrator,
		"events":        st.Seq,
		"root":          root,
	})
}

// Verify handles GET /ledger/verify. It walks the full chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Events handles GET /ledger/events. It replays events in sequence order.
//
// Query parameters: record_id, resource_id, actor, kind, after, limit.
func (h *LedgerHandler) Events(c *gin.Context) {
	var f auditledger.EventFilter

	if v := c.Query("record_id"); v != "" {
		id, err := auditledger.ParseDigest(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id: " + err.Error()})
			return
		}
		f.RecordID = &id
	}
	if v, ok := c.GetQuery("resource_id"); ok {
		f.ResourceID = &v
	}
	f.Actor = auditledger.Identity(c.Query("actor"))
	if v := c.Query("kind"); v != "" {
		k := auditledger.EventKind(v)
		if !k.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind " + strconv.Quote(v)})
			return
		}
		f.Kind = k
	}
	if v := c.Query("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}
		f.AfterSeq = after
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = limit
	}

	events, err := h.ledger.Events(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("ledger events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
		return
	}
	if events == nil {
		events = []*auditledger.AuditEvent{}
	}

	var next uint64
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	} else {
		next = f.AfterSeq
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
		"next":   next,
	})
}
