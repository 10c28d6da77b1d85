// Package errors defines unified error types for gateway operations.
// Rate-limit, quota, and provider failures are all mapped to these standard
// kinds so callers can implement backoff without parsing prose messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GatewayError represents a standardized error from the gateway core.
// It contains everything needed for error handling, logging, and the
// client-facing error envelope.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`

	// RetryAfter is set for rate-limit rejections: how long until the
	// current window resets.
	RetryAfter time.Duration `json:"-"`
	// TokensRemaining is set for quota rejections so clients can size
	// their next request without another round trip.
	TokensRemaining int64 `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Kind, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the HTTP status code for the error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error kinds as constants for consistency.
const (
	KindRateLimited         = "rate_limited"
	KindQuotaExceeded       = "quota_exceeded"
	KindModelUnavailable    = "model_unavailable"
	KindProviderTimeout     = "provider_timeout"
	KindProviderError       = "provider_error"
	KindReservationResolved = "reservation_already_resolved"
	KindInvalidRequest      = "invalid_request"
	KindAuthentication      = "authentication_error"
	KindNotFound            = "not_found"
	KindConfig              = "config_error"
	KindInternal            = "internal_error"
)

// NewRateLimitError creates a rate-limit rejection (429) with a retry hint.
func NewRateLimitError(model string, retryAfter time.Duration) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		Model:      model,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// NewQuotaExceededError creates an insufficient-balance rejection (402).
func NewQuotaExceededError(model string, remaining int64) *GatewayError {
	return &GatewayError{
		StatusCode:      http.StatusPaymentRequired,
		Kind:            KindQuotaExceeded,
		Message:         "token quota exceeded",
		Model:           model,
		Retryable:       false,
		TokensRemaining: remaining,
	}
}

// NewModelUnavailableError creates a routing failure (503): the model is
// unknown or every candidate provider is unhealthy.
func NewModelUnavailableError(model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Kind:       KindModelUnavailable,
		Message:    message,
		Model:      model,
		Retryable:  true,
	}
}

// NewProviderTimeoutError creates an upstream timeout error (502).
func NewProviderTimeoutError(provider, model string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Kind:       KindProviderTimeout,
		Message:    "provider call timed out",
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewProviderError creates an upstream failure error (502).
func NewProviderError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Kind:       KindProviderError,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewReservationResolvedError signals a reservation settled twice. This is an
// internal invariant violation (500) and should never surface in correct
// operation.
func NewReservationResolvedError(principalID string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindReservationResolved,
		Message:    fmt.Sprintf("reservation for principal %s already resolved", principalID),
		Retryable:  false,
	}
}

// NewInvalidRequestError creates a client error (400).
func NewInvalidRequestError(model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Kind:       KindInvalidRequest,
		Message:    message,
		Model:      model,
		Retryable:  false,
	}
}

// NewAuthenticationError creates an upstream credential error (401).
func NewAuthenticationError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusUnauthorized,
		Kind:       KindAuthentication,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewNotFoundError creates a not-found error (404).
func NewNotFoundError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusNotFound,
		Kind:       KindNotFound,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewConfigError creates a configuration error (500). Used when the gateway
// cannot proceed safely, e.g. no reservation ceiling is configured.
func NewConfigError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindConfig,
		Message:    message,
		Retryable:  false,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindInternal,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// IsKind reports whether err is a GatewayError of the given kind.
func IsKind(err error, kind string) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// IsRetryable reports whether err may be retried against the same or
// another provider. Non-gateway errors (transport failures) are treated
// as retryable, except context errors: a caller that cancelled or timed
// out is terminal, not a provider fault.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// AsGatewayError extracts a GatewayError, wrapping unknown errors as internal.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewInternalError("", "", err.Error())
}
