// Package errors provides unified error handling for resource governance.
// It implements structured error types with error codes, failure-kind
// classification, and retryable detection.
package errors
