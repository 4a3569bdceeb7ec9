package errors

import (
	"context"
	stderrors "errors"
	"net"
	"syscall"

	"github.com/go-playground/validator/v10"
)

// Kind classifies a failure by its cause so retry and circuit-breaking
// policy can be decided without inspecting provider-specific types.
type Kind string

// Failure kinds.
const (
	// KindRateLimited indicates the dependency refused the request because
	// of its own rate limits.
	KindRateLimited Kind = "rate_limited"
	// KindConnectionReset indicates the connection was dropped mid-flight.
	KindConnectionReset Kind = "connection_reset"
	// KindTimeout indicates the attempt exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindValidation indicates the request itself was malformed.
	KindValidation Kind = "validation"
	// KindUnknown covers every failure that could not be classified.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth retrying.
// Validation failures are deterministic and never retried.
func (k Kind) Retryable() bool {
	return k != KindValidation
}

// Tag attaches a failure kind to an error at the boundary where type
// information still exists. AppErrors keep their code and gain the kind;
// other errors are wrapped.
func Tag(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		appErr.Kind = kind
		appErr.Retryable = kind.Retryable()
		return appErr
	}
	return &AppError{
		Code: ErrCodeOperationFailed, Kind: kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
		Cause:     err,
	}
}

// Classify derives the failure kind of an error using typed checks only.
// Message contents are never inspected. Errors already tagged with a kind
// keep it; untagged errors fall back to standard library and platform types.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if appErr, ok := AsAppError(err); ok && appErr.Kind != "" {
		return appErr.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNABORTED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, net.ErrClosed) {
		return KindConnectionReset
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		return KindValidation
	}
	return KindUnknown
}
