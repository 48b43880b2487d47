// Package errors provides foundational, type-safe error primitives used across SiteBuilder.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (validation, not_found, external_service, timeout, build, ...)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior used by the generation job queue
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - HTTP and CLI adapters for error presentation
//
// Example usage:
//
//	err := errors.ExternalServiceError("content service returned 503").
//		WithContext("endpoint", url).
//		WithContext("status_code", 503).
//		WithCause(originalErr).
//		Build()
package errors
