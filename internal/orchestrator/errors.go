package orchestrator

import (
	"net/http"
	"strings"
)

// Kind classifies an orchestrator-facing error so handlers can map it to
// an HTTP status without inspecting message text, per the typed
// taxonomy; string matching (statusFromMessage) is kept only as a
// compatibility shim for errors that cross a boundary without a Kind.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindThrottled  Kind = "throttled"
	KindTimeout    Kind = "timeout"
	KindGone       Kind = "gone"
	KindInternal   Kind = "internal"
)

// Error is a typed orchestrator failure carrying enough information for
// an HTTP handler to respond correctly without re-deriving a status
// code from a generic error chain.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// StatusCode maps an error to its HTTP status, preferring a typed *Error
// and falling back to string matching per the compatibility shim.
func StatusCode(err error) int {
	if oe, ok := err.(*Error); ok {
		switch oe.Kind {
		case KindValidation:
			return http.StatusBadRequest
		case KindNotFound:
			return http.StatusNotFound
		case KindPermission:
			return http.StatusForbidden
		case KindThrottled:
			return http.StatusTooManyRequests
		case KindTimeout:
			return http.StatusRequestTimeout
		case KindGone:
			return http.StatusGone
		default:
			return http.StatusInternalServerError
		}
	}
	return statusFromMessage(err.Error())
}

func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found"), strings.Contains(lower, "missing"):
		return http.StatusNotFound
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "unsupported"):
		return http.StatusBadRequest
	case strings.Contains(lower, "quota"), strings.Contains(lower, "limit"), strings.Contains(lower, "throttl"):
		return http.StatusTooManyRequests
	case strings.Contains(lower, "timeout"):
		return http.StatusRequestTimeout
	case strings.Contains(lower, "permission"), strings.Contains(lower, "access denied"):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
