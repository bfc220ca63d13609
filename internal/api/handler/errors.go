package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind auditledger.Kind) int {
	switch kind {
	case auditledger.KindAlreadyExists, auditledger.KindInvalidState:
		return http.StatusConflict
	case auditledger.KindNotFound:
		return http.StatusNotFound
	case auditledger.KindEmptyValue, auditledger.KindInvalidIdentity, auditledger.KindSelfReferenceNotAllowed:
		return http.StatusUnprocessableEntity
	case auditledger.KindUnauthorized, auditledger.KindNotAdministrator:
		return http.StatusForbidden
	case auditledger.KindSuspended:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondLedgerError writes err as {"error", "code", "kind"}. Storage failures
// are logged and reported without detail.
func respondLedgerError(c *gin.Context, logger *zap.Logger, op string, err error) {
	kind := auditledger.KindOf(err)
	if kind == auditledger.KindInternal {
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(statusFor(kind), gin.H{
		"error": err.Error(),
		"code":  auditledger.CodeOf(err),
		"kind":  string(kind),
	})
}
