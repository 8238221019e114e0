package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindResourceExhausted
	KindUnauthorized
)

// Sentinels so callers can errors.Is without caring about the message.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Machine-readable codes used by the engine.
const (
	CodeEmptyCart          = "EMPTY_CART"
	CodeEmptyGroup         = "EMPTY_GROUP"
	CodeInvalidDistance    = "INVALID_DISTANCE"
	CodeUnknownItem        = "UNKNOWN_ITEM"
	CodeInvalidOptions     = "INVALID_OPTIONS"
	CodeUnknownStatus      = "UNKNOWN_STATUS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadySubmitted   = "ALREADY_SUBMITTED"
	CodeTerminalState      = "TERMINAL_STATE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeInsufficientPoints = "INSUFFICIENT_POINTS"
	CodeCodeExhausted      = "CODE_ALLOCATION_FAILED"
	CodeUnauthorized       = "UNAUTHORIZED"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindValidation:
		return target == ErrValidation
	case KindNotFound:
		return target == ErrNotFound
	case KindConflict:
		return target == ErrConflict
	case KindResourceExhausted:
		return target == ErrResourceExhausted
	case KindUnauthorized:
		return target == ErrUnauthorized
	}
	return false
}

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func ResourceExhausted(code, message string, err error) *Error {
	return &Error{Kind: KindResourceExhausted, Code: code, Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: message}
}

// HasCode reports whether err wraps an *Error carrying code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps err to a response status; unclassified errors are 500.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the code and message safe to show a client.
func Public(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Code, e.Message
	}
	return "INTERNAL_ERROR", "an internal error occurred"
}
