// Package providers holds decorators shared by the vendor adapters.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"llm-relay/domain/llm"
)

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"`
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		MaxRequests:      3,
		Timeout:          30 * time.Second,
	}
}

// breakerProvider wraps a provider so that a run of failures short-circuits
// further calls for the open window. An open breaker surfaces as an HTTPError,
// which the router already knows how to fail over from, so breaker state and
// router health policy compose without knowing about each other.
type breakerProvider struct {
	llm.Provider
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker decorates p with a circuit breaker. Health probes bypass the
// breaker so recovery stays observable while the circuit is open.
func WithBreaker(p llm.Provider, cfg BreakerConfig) llm.Provider {
	if !cfg.Enabled {
		return p
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = DefaultBreakerConfig().MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerConfig().Timeout
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("provider-%s", p.ID()),
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Caller-side aborts say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &breakerProvider{
		Provider: p,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *breakerProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.Provider.Chat(ctx, req)
	})
	if err != nil {
		return nil, b.mapBreakerErr(err)
	}
	return result.(*llm.ChatResponse), nil
}

func (b *breakerProvider) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.Provider.StreamChat(ctx, req, onChunk)
	})
	if err != nil {
		return b.mapBreakerErr(err)
	}
	return nil
}

func (b *breakerProvider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.Provider.Embeddings(ctx, text)
	})
	if err != nil {
		return nil, b.mapBreakerErr(err)
	}
	return result.([]float32), nil
}

func (b *breakerProvider) mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &llm.HTTPError{Provider: b.ID(), Err: err}
	}
	return err
}
