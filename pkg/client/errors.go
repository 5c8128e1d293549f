package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrConfiguration is returned when the caller supplied an invalid or
	// incomplete request. Configuration errors are never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrAuthExpired indicates the access token was rejected by the ODS.
	// It is recovered internally by a forced re-authentication and only
	// escalates when re-authentication itself fails.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of HTTP outcomes.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (other than 401/429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassAuth represents 401 authentication-expiry errors.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a single ODS HTTP outcome with additional context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ODS %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("ODS %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus categorizes an HTTP status code for retry handling and
// observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassAuth
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an outcome should be retried based on its class.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// Plain 4xx errors are the caller's problem; retrying wastes budget.
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	case ErrorClassAuth:
		// Retried after a forced re-authentication, not as a plain resend.
		return true
	default:
		return false
	}
}

// statusMessage maps well-known ODS status codes to actionable messages.
// Unknown codes fall back to the raw HTTP status text.
func statusMessage(status int, fallback string) string {
	switch status {
	case 400:
		return "Bad request. Check your params. Is 'limit' set too high?"
	case 401:
		return "Unauthenticated for URL. The connection may need to be reset."
	case 403:
		return "Resource not authorized."
	case 404:
		return "Resource not found."
	case 429:
		return "Too many requests. The ODS is overwhelmed."
	case 500:
		return "Internal server error."
	case 504:
		return "Gateway time-out for URL. The connection may need to be reset."
	default:
		return fallback
	}
}
