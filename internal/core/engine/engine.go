package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
)

// Converter is the conversion engine capability consumed by the scheduler.
// Implementations translate a pipeline kind plus options into one engine
// invocation and normalize every failure into a *ConvertError.
type Converter interface {
	Name() string
	Convert(ctx context.Context, localPath string, kind pipeline.Kind, opts job.Options) (string, error)
}

// ErrorKind classifies conversion failures. Callers above the adapter never
// see engine-native error shapes.
type ErrorKind string

const (
	KindBackend           ErrorKind = "backend_error"
	KindTimeout           ErrorKind = "timeout"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindCancelled         ErrorKind = "cancelled"
)

// ConvertError is the normalized conversion failure.
type ConvertError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ConvertError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConvertError) Unwrap() error { return e.Cause }

// NewError builds a ConvertError.
func NewError(kind ErrorKind, message string, cause error) *ConvertError {
	return &ConvertError{Kind: kind, Message: message, Cause: cause}
}

// Classify normalizes an arbitrary error into a ConvertError. Context
// expiry maps to timeout/cancelled; everything else is a backend error.
func Classify(err error, message string) *ConvertError {
	var ce *ConvertError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, message, err)
	case errors.Is(err, context.Canceled):
		return NewError(KindCancelled, message, err)
	default:
		return NewError(KindBackend, message, err)
	}
}
