package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration failures
type ErrorKind string

// ErrorKind constants
const (
	KindInvalidCombination ErrorKind = "invalid_combination"
	KindEngine             ErrorKind = "engine_error"
	KindFileMissing        ErrorKind = "file_missing"
	KindPrecondition       ErrorKind = "precondition_violation"
	KindValidation         ErrorKind = "validation"
)

// Error is the structured (kind, code, message) error surfaced to callers
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message"`
	// Phase names the step that failed, e.g. "start" or "stop" for recordings.
	Phase string `json:"phase,omitempty"`
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s [%s] code=%d: %s", e.Kind, e.Phase, e.Code, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s code=%d: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrEngine) works
// regardless of code and message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// Sentinels for errors.Is
var (
	ErrInvalidCombination = &Error{Kind: KindInvalidCombination}
	ErrEngine             = &Error{Kind: KindEngine}
	ErrFileMissing        = &Error{Kind: KindFileMissing}
	ErrPrecondition       = &Error{Kind: KindPrecondition}
	ErrValidation         = &Error{Kind: KindValidation}
)

// EngineError builds an engine failure
func EngineError(code int, message string) *Error {
	return &Error{Kind: KindEngine, Code: code, Message: message}
}

// Precondition builds a precondition violation
func Precondition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error, wrapping unknown errors as engine failures
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindEngine, Code: -1, Message: err.Error()}
}

// WithPhase returns a copy of err tagged with phase
func WithPhase(err error, phase string) *Error {
	e := *AsError(err)
	e.Phase = phase
	return &e
}
