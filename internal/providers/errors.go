package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httpclient"
)

// ErrorCategory defines the normalized failure taxonomy
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the provider rejected or returned malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the provider is unavailable
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorNotFound indicates the remote job or resource doesn't exist
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps provider failures with normalized categorization
type ProviderError struct {
	Category   ErrorCategory
	Engine     string
	Message    string
	StatusCode int
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("engine %s [%s]: %s: %v", e.Engine, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("engine %s [%s]: %s", e.Engine, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a normalized provider error. Timeouts, outages and
// rate limits are retryable.
func NewProviderError(category ErrorCategory, engine, message string, underlying error) *ProviderError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &ProviderError{
		Category:   category,
		Engine:     engine,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// FromStatus classifies a non-2xx provider response. The body is kept as the
// message, truncated.
func FromStatus(engine string, code int, body []byte) *ProviderError {
	var category ErrorCategory
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusRequestEntityTooLarge:
		category = ErrorBadData
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusPaymentRequired:
		category = ErrorAuthentication
	case code == http.StatusNotFound:
		category = ErrorNotFound
	case code == http.StatusTooManyRequests:
		category = ErrorRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		category = ErrorTimeout
	case code >= 500:
		category = ErrorProviderOutage
	default:
		category = ErrorInternal
	}
	pe := NewProviderError(category, engine, fmt.Sprintf("status %d: %s", code, truncate(body, 256)), nil)
	pe.StatusCode = code
	return pe
}

// FromTransport classifies an error returned before any response arrived.
func FromTransport(engine string, err error) *ProviderError {
	var netErr net.Error
	switch {
	case errors.Is(err, httpclient.ErrBodyTooLarge):
		return NewProviderError(ErrorBadData, engine, "response too large", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ErrorTimeout, engine, "request timed out", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewProviderError(ErrorTimeout, engine, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ErrorInternal, engine, "request canceled", err)
	default:
		return NewProviderError(ErrorProviderOutage, engine, "engine unreachable", err)
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// ToDomainError maps a provider failure to the client-facing error code.
// Credential problems are ours, not the caller's, so they surface as 502.
func ToDomainError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "engine call failed")
	}
	switch pe.Category {
	case ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "engine timed out")
	case ErrorBadData:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "engine rejected the request")
	case ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "engine job not found")
	case ErrorRateLimited:
		return dErrors.Wrap(err, dErrors.CodeRateLimited, "engine rate limited")
	case ErrorAuthentication, ErrorProviderOutage:
		return dErrors.Wrap(err, dErrors.CodeBadGateway, "engine unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "engine call failed")
	}
}

// Sentinel errors for common cases
var (
	ErrEngineNotFound      = errors.New("engine not found")
	ErrEngineAlreadyExists = errors.New("engine already registered")
)

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
