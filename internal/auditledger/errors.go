package auditledger

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain qualifies error codes in gRPC ErrorInfo details.
const ErrorDomain = "triageledger.auditledger"

// Kind is the caller-visible error taxonomy. Several codes share a kind.
type Kind string

const (
	KindAlreadyExists           Kind = "ALREADY_EXISTS"
	KindNotFound                Kind = "NOT_FOUND"
	KindEmptyValue              Kind = "EMPTY_VALUE"
	KindUnauthorized            Kind = "UNAUTHORIZED"
	KindInvalidIdentity         Kind = "INVALID_IDENTITY"
	KindSelfReferenceNotAllowed Kind = "SELF_REFERENCE_NOT_ALLOWED"
	KindSuspended               Kind = "SUSPENDED"
	KindNotAdministrator        Kind = "NOT_ADMINISTRATOR"
	KindInvalidState            Kind = "INVALID_STATE"
	KindInternal                Kind = "INTERNAL"
)

// GRPCCode maps the kind to a gRPC status code.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindAlreadyExists:
		return codes.AlreadyExists
	case KindNotFound:
		return codes.NotFound
	case KindEmptyValue, KindInvalidIdentity, KindSelfReferenceNotAllowed:
		return codes.InvalidArgument
	case KindUnauthorized, KindNotAdministrator:
		return codes.PermissionDenied
	case KindSuspended:
		return codes.Unavailable
	case KindInvalidState:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// Error is a ledger rule violation. Two errors are equal under errors.Is
// when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// GRPCStatus lets status.FromError convert the error without a lookup table.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Kind.GRPCCode(), e.Message)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: e.Code, Domain: ErrorDomain})
	if err != nil {
		return st
	}
	return detailed
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrRecordAlreadyExists  = newError(KindAlreadyExists, "RecordAlreadyExists", "record already exists")
	ErrRecordDoesNotExist   = newError(KindNotFound, "RecordDoesNotExist", "record does not exist")
	ErrEmptyHash            = newError(KindEmptyValue, "EmptyHashNotAllowed", "empty data hash not allowed")
	ErrNotAuthorized        = newError(KindUnauthorized, "NotAuthorized", "caller is not authorized")
	ErrRecipientZero        = newError(KindInvalidIdentity, "RecipientAddressCannotBeZero", "recipient cannot be the zero identity")
	ErrUserZero             = newError(KindInvalidIdentity, "UserAddressCannotBeZero", "user cannot be the zero identity")
	ErrShareToSelf          = newError(KindSelfReferenceNotAllowed, "CannotLogSharingToSelf", "cannot log sharing to the record owner")
	ErrRevokeFromSelf       = newError(KindSelfReferenceNotAllowed, "CannotLogRevocationFromSelf", "cannot log revocation from the record owner")
	ErrLedgerPaused         = newError(KindSuspended, "EnforcedPause", "ledger is paused")
	ErrNotAdministrator     = newError(KindNotAdministrator, "CallerNotAdministrator", "caller is not the administrator")
	ErrLedgerNotPaused      = newError(KindInvalidState, "ExpectedPause", "ledger is not paused")
	ErrInvalidAdministrator = newError(KindInvalidIdentity, "InvalidAdministrator", "administrator cannot be the zero identity")
	ErrCallerRequired       = newError(KindInvalidIdentity, "CallerRequired", "caller identity is required")
)

// KindOf returns the taxonomy kind of err, or KindInternal when err is not a
// ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the specific error code of err, or "" when err is not a
// ledger error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
