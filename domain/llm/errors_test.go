package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"http", &HTTPError{Provider: "a", Err: errors.New("refused")}, ErrHTTP},
		{"api", &APIError{Provider: "a", Status: 500, Message: "boom"}, ErrAPI},
		{"auth", &AuthError{Provider: "a", Message: "bad key"}, ErrAuth},
		{"rate limited", &RateLimitedError{Provider: "a"}, ErrRateLimited},
		{"invalid response", &InvalidResponseError{Provider: "a", Message: "no choices"}, ErrInvalidResponse},
		{"not configured", &NotConfiguredError{Provider: "a"}, ErrNotConfigured},
		{"embedding unsupported", &EmbeddingNotSupportedError{Provider: "a"}, ErrEmbeddingNotSupported},
		{"streaming unsupported", &StreamingNotSupportedError{Provider: "a"}, ErrStreamingNotSupported},
		{"timeout", &TimeoutError{Provider: "a"}, ErrTimeout},
		{"all failed", &AllProvidersFailedError{}, ErrAllProvidersFailed},
		{"none available", &NoProvidersAvailableError{}, ErrNoProvidersAvailable},
		{"budget", &BudgetExceededError{Spent: 1, Budget: 1}, ErrBudgetExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			// Wrapping must not break sentinel matching.
			wrapped := fmt.Errorf("attempt 1: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
		})
	}
}

func TestErrorsAs_ExtractsTypedError(t *testing.T) {
	var wrapped error = fmt.Errorf("chat failed: %w", &APIError{
		Provider: "openai-main",
		Status:   503,
		Message:  "overloaded",
	})

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, "openai-main", apiErr.Provider)
	assert.Equal(t, 503, apiErr.Status)

	var rlErr *RateLimitedError
	assert.False(t, errors.As(wrapped, &rlErr))
}

func TestRateLimitedError_Message(t *testing.T) {
	withHint := &RateLimitedError{Provider: "a", RetryAfterSecs: 30}
	assert.Contains(t, withHint.Error(), "retry after 30s")

	noHint := &RateLimitedError{Provider: "a"}
	assert.NotContains(t, noHint.Error(), "retry after")
}

func TestAllProvidersFailedError(t *testing.T) {
	err := &AllProvidersFailedError{
		Attempts: []ProviderAttempt{
			{Provider: "alpha", Err: &TimeoutError{Provider: "alpha", Elapsed: 0}},
			{Provider: "beta", Err: &RateLimitedError{Provider: "beta"}},
			{Provider: "gamma", Err: &APIError{Provider: "gamma", Status: 500, Message: "boom"}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "3 attempts")
	assert.Contains(t, msg, "alpha")
	assert.Contains(t, msg, "beta")
	assert.Contains(t, msg, "gamma")

	// Unwrap exposes the per-attempt chain.
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, errors.Is(err, ErrAPI))
	assert.False(t, errors.Is(err, ErrAuth))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "gamma", apiErr.Provider)
}

func TestBudgetExceededError_Message(t *testing.T) {
	err := &BudgetExceededError{Spent: 10.5, Budget: 10.0}
	assert.Contains(t, err.Error(), "10.5")
	assert.Contains(t, err.Error(), "10.0")
}
