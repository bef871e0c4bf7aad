package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure so callers can react to the
// category without parsing messages.
type ErrorKind string

const (
	ErrKindAuth               ErrorKind = "auth"
	ErrKindNotFound           ErrorKind = "not_found"
	ErrKindTransient          ErrorKind = "transient"
	ErrKindValidation         ErrorKind = "validation"
	ErrKindConflict           ErrorKind = "conflict"
	ErrKindTunerTimeout       ErrorKind = "tuner_timeout"
	ErrKindTunerExecution     ErrorKind = "tuner_execution"
	ErrKindTunerOutputMissing ErrorKind = "tuner_output_missing"
	ErrKindTunerOutputInvalid ErrorKind = "tuner_output_invalid"
	ErrKindMergeValidation    ErrorKind = "merge_validation"
	ErrKindCancelled          ErrorKind = "cancelled"
)

// Error is a classified error carried between pipeline stages.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a classification and message.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the classification of err, or empty string when err
// carries no classification.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
