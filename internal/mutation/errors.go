package mutation

import "fmt"

// Kind classifies a failed mutation for the transport layer.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindNotFound
	KindStorage
	// KindAuditGap means the record changed but its audit entry was not written.
	KindAuditGap
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindAuditGap:
		return "audit_gap"
	default:
		return "unknown"
	}
}

// Stable message keys.
const (
	CodeMissingHeaders   = "MISSING_HEADERS"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidField     = "INVALID_FIELD"
	CodeRecordNotFound   = "RECORD_NOT_FOUND"
	CodeUpdateError      = "UPDATE_ERROR"
	CodeDeleteError      = "DELETE_ERROR"
	CodeAuditError       = "AUDIT_ERROR"
	CodeAuditReadError   = "AUDIT_READ_ERROR"
	CodeSessionStoreDown = "SESSION_ERROR"
)

// Error is returned by every Service operation that does not complete.
// Err carries internal detail that is logged and never shown to callers.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}
