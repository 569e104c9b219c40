package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailReason categorizes why a provider request failed, driving the
// retry-or-surface decision in the adapters and the orchestrator.
type FailReason string

const (
	FailAuth          FailReason = "auth"
	FailBilling       FailReason = "billing"
	FailRateLimit     FailReason = "rate_limit"
	FailTimeout       FailReason = "timeout"
	FailServerError   FailReason = "server_error"
	FailBadRequest    FailReason = "bad_request"
	FailContentFilter FailReason = "content_filter"
	FailUnknown       FailReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case FailRateLimit, FailTimeout, FailServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a normalized vendor failure.
type ProviderError struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason), e.Provider}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps a vendor failure, classifying it from the status
// code when present and from the message otherwise.
func NewProviderError(provider, model string, status int, cause error) *ProviderError {
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Cause:    cause,
		Reason:   FailUnknown,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	if status != 0 {
		e.Reason = classifyStatus(status)
	} else {
		e.Reason = classifyMessage(cause)
	}
	return e
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the error warrants another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return classifyMessage(err).IsRetryable()
}

func classifyStatus(status int) FailReason {
	switch {
	case status == 401 || status == 403:
		return FailAuth
	case status == 402:
		return FailBilling
	case status == 429:
		return FailRateLimit
	case status == 400 || status == 404 || status == 422:
		return FailBadRequest
	case status >= 500:
		return FailServerError
	default:
		return FailUnknown
	}
}

func classifyMessage(err error) FailReason {
	if err == nil {
		return FailUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return FailRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid x-api-key") || strings.Contains(msg, "401"):
		return FailAuth
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing") ||
		strings.Contains(msg, "insufficient"):
		return FailBilling
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "blocked"):
		return FailContentFilter
	case strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "529"):
		return FailServerError
	default:
		return FailUnknown
	}
}
