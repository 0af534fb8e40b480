package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the application error: a stable machine code, a human message and
// the HTTP status it maps to. Err optionally carries the underlying cause,
// which is logged but never serialised.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches two application errors by code, so a Clone with an overridden
// message still satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New builds a sentinel error.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap builds an application error around a cause.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Clone copies err, optionally overriding the message. Sentinels stay
// immutable; handlers and services customise the copy.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	out := *err
	if message != "" {
		out.Message = message
	}
	return &out
}

// FromError normalises err for the HTTP layer. Anything that is not an
// application error is reported as an opaque internal error, keeping driver
// and infrastructure details out of responses.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Sentinels shared across services and handlers.
var (
	ErrInvalidCredentials     = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount        = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound               = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden              = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized           = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict               = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed     = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation             = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal               = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrSessionClosed          = New("SESSION_CLOSED", http.StatusConflict, "session is no longer active")
	ErrAlreadyMarked          = New("ALREADY_MARKED", http.StatusConflict, "attendance already recorded")
	ErrNotEnrolled            = New("NOT_ENROLLED", http.StatusForbidden, "student is not enrolled in this module")
	ErrStudentExcluded        = New("STUDENT_EXCLUDED", http.StatusForbidden, "student is excluded from this module")
	ErrDuplicateJustification = New("DUPLICATE_JUSTIFICATION", http.StatusConflict, "absence already has a justification")
	ErrCacheMiss              = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)
