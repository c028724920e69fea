package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// The failure vocabulary is a closed set. Every error crossing the provider
// boundary or leaving the router is one of the typed values below; errors.Is
// against the package sentinels and errors.As against the concrete types both
// work on wrapped chains.

var (
	ErrHTTP                  = errors.New("transport error")
	ErrAPI                   = errors.New("provider api error")
	ErrAuth                  = errors.New("authentication failed")
	ErrRateLimited           = errors.New("rate limited")
	ErrInvalidResponse       = errors.New("invalid provider response")
	ErrNotConfigured         = errors.New("provider not configured")
	ErrEmbeddingNotSupported = errors.New("embeddings not supported")
	ErrStreamingNotSupported = errors.New("streaming not supported")
	ErrTimeout               = errors.New("request timed out")
	ErrAllProvidersFailed    = errors.New("all providers failed")
	ErrNoProvidersAvailable  = errors.New("no providers available")
	ErrBudgetExceeded        = errors.New("budget exceeded")
)

// HTTPError is a transport-level failure (connection refused, DNS, TLS)
// before any well-formed provider response was received.
type HTTPError struct {
	Provider string
	Err      error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider %s: transport error: %v", e.Provider, e.Err)
}

func (e *HTTPError) Is(target error) bool { return target == ErrHTTP }

func (e *HTTPError) Unwrap() error { return e.Err }

// APIError is a well-formed error response from the provider's API.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s: api error: status %d: %s", e.Provider, e.Status, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s: authentication failed: %s", e.Provider, e.Message)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// RateLimitedError reports a 429 from the provider. RetryAfterSecs is zero
// when the provider did not send a Retry-After hint. The router fails over
// immediately instead of sleeping; honoring the hint is the caller's or the
// adapter's business.
type RateLimitedError struct {
	Provider       string
	RetryAfterSecs int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfterSecs > 0 {
		return fmt.Sprintf("provider %s: rate limited, retry after %ds", e.Provider, e.RetryAfterSecs)
	}
	return fmt.Sprintf("provider %s: rate limited", e.Provider)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

type InvalidResponseError struct {
	Provider string
	Message  string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("provider %s: invalid response: %s", e.Provider, e.Message)
}

func (e *InvalidResponseError) Is(target error) bool { return target == ErrInvalidResponse }

type NotConfiguredError struct {
	Provider string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("provider %s is not configured", e.Provider)
}

func (e *NotConfiguredError) Is(target error) bool { return target == ErrNotConfigured }

// EmbeddingNotSupportedError reports a provider without embedding support,
// or, with an empty Provider, a request no registered provider could serve.
type EmbeddingNotSupportedError struct {
	Provider string
}

func (e *EmbeddingNotSupportedError) Error() string {
	if e.Provider == "" {
		return "no registered provider supports embeddings"
	}
	return fmt.Sprintf("provider %s does not support embeddings", e.Provider)
}

func (e *EmbeddingNotSupportedError) Is(target error) bool { return target == ErrEmbeddingNotSupported }

// StreamingNotSupportedError mirrors EmbeddingNotSupportedError for streams.
type StreamingNotSupportedError struct {
	Provider string
}

func (e *StreamingNotSupportedError) Error() string {
	if e.Provider == "" {
		return "no registered provider supports streaming"
	}
	return fmt.Sprintf("provider %s does not support streaming", e.Provider)
}

func (e *StreamingNotSupportedError) Is(target error) bool { return target == ErrStreamingNotSupported }

type TimeoutError struct {
	Provider string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: request timed out after %s", e.Provider, e.Elapsed)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProviderAttempt records one failed attempt inside an exhausted fallback
// chain, in attempt order.
type ProviderAttempt struct {
	Provider string
	Err      error
}

// AllProvidersFailedError aggregates every failure from an exhausted fallback
// chain. Attempts holds exactly one entry per provider actually attempted.
type AllProvidersFailedError struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all providers failed after %d attempts: [%s]", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

// Unwrap exposes the per-attempt errors so errors.Is/As can reach them.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

type NoProvidersAvailableError struct {
	Reason string
}

func (e *NoProvidersAvailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no providers available: %s", e.Reason)
	}
	return "no providers available"
}

func (e *NoProvidersAvailableError) Is(target error) bool { return target == ErrNoProvidersAvailable }

// BudgetExceededError is returned pre-flight once cumulative spend has
// reached the configured ceiling. No provider is contacted.
type BudgetExceededError struct {
	Spent  float64
	Budget float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.6f of $%.6f", e.Spent, e.Budget)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }
