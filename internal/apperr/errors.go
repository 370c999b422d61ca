// Package apperr is the error taxonomy shared by services, the websocket
// dispatcher and the HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown                 Code = "UNKNOWN"
	CodeAuthenticationRequired  Code = "AUTHENTICATION_REQUIRED"
	CodeAccessDenied            Code = "ACCESS_DENIED"
	CodeValidationFailed        Code = "VALIDATION_FAILED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeConflict                Code = "CONFLICT"
	CodeTransientGatewayFailure Code = "TRANSIENT_GATEWAY_FAILURE"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on code so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func AuthenticationRequired(msg string) error { return New(CodeAuthenticationRequired, msg) }
func AccessDenied(msg string) error           { return New(CodeAccessDenied, msg) }
func Validation(msg string) error             { return New(CodeValidationFailed, msg) }
func NotFound(msg string) error               { return New(CodeNotFound, msg) }
func Conflict(msg string) error               { return New(CodeConflict, msg) }

// Transient wraps a persistence failure. The message is generic; the cause
// is only for server-side logs.
func Transient(cause error) error {
	return Wrap(CodeTransientGatewayFailure, "temporarily unavailable, please retry", cause)
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthenticationRequired = &AppError{Code: CodeAuthenticationRequired}
	ErrAccessDenied           = &AppError{Code: CodeAccessDenied}
	ErrValidationFailed       = &AppError{Code: CodeValidationFailed}
	ErrNotFound               = &AppError{Code: CodeNotFound}
	ErrConflict               = &AppError{Code: CodeConflict}
	ErrTransient              = &AppError{Code: CodeTransientGatewayFailure}
)

// CodeOf returns the code of the first AppError in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// PublicMessage is what may be shown to the initiating user. Unknown errors
// never leak their text.
func PublicMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "something went wrong"
}
