package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Deadline errors (retryable)
const (
	// ErrCodeTimeout indicates the operation timed out, either waiting for
	// admission or waiting for completion.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Availability errors (retryable after cooldown)
const (
	// ErrCodeBreakerOpen indicates the circuit for the dependency is open.
	ErrCodeBreakerOpen ErrorCode = "BREAKER_OPEN"
)

// Operation errors
const (
	// ErrCodeOperationFailed indicates the wrapped operation failed after
	// all permitted attempts.
	ErrCodeOperationFailed ErrorCode = "OPERATION_FAILED"
)

// Configuration errors
const (
	// ErrCodeConfiguration indicates an invalid or unknown configuration.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:         true,
	ErrCodeBreakerOpen:     true,
	ErrCodeOperationFailed: false,
	ErrCodeConfiguration:   false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
// OPERATION_FAILED errors decide retryability per instance from their
// failure kind.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
