package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
	"llm-relay/infrastructure/costs"
	"llm-relay/infrastructure/health"
	infrarouting "llm-relay/infrastructure/routing"
)

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID attaches a caller-supplied request id used in logs and
// events. Without it the router generates one per request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Router fans one chat, stream or embeddings request out across the
// registered providers: rank candidates, try them in order under a
// per-attempt timeout, fail over on provider errors, and account every
// outcome. Safe for arbitrary concurrent callers.
type Router struct {
	providers []llm.Provider
	byID      map[string]llm.Provider
	engine    *infrarouting.Engine
	health    routing.HealthTracker
	spend     routing.CostTracker
	pricing   *costs.Calculator
	observers []routing.Observer
	checker   *health.Checker
	cfg       routing.Config
	tracer    trace.Tracer

	closeOnce sync.Once
}

// Chat routes a non-streaming request through the fallback chain and returns
// the first successful response.
func (r *Router) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Stream {
		return nil, fmt.Errorf("request has stream=true, use StreamChat")
	}
	if err := r.spend.CheckBudget(); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "router.chat")
	defer span.End()

	requestID := requestIDFrom(ctx)
	start := time.Now()

	candidates := r.engine.Candidates(r.providers)
	if len(candidates) == 0 {
		return nil, &llm.NoProvidersAvailableError{Reason: "no providers registered"}
	}
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("strategy", r.engine.StrategyName()),
		attribute.Int("candidates", len(candidates)),
	)

	maxAttempts := r.maxAttempts(len(candidates))
	var attempts []llm.ProviderAttempt

	for i, cand := range candidates {
		if i >= maxAttempts {
			break
		}

		resp, err := r.attemptChat(ctx, cand.Provider, req, requestID, i+1)
		if err == nil {
			r.notifyRequestCompleted(routing.RequestEvent{
				RequestID: requestID,
				Provider:  resp.Provider,
				Model:     resp.Model,
				Strategy:  r.engine.StrategyName(),
				Attempts:  i + 1,
				Usage:     resp.Usage,
				CostUSD:   resp.CostUSD,
				LatencyMs: time.Since(start).Milliseconds(),
				At:        time.Now(),
			})
			span.SetAttributes(
				attribute.String("provider", resp.Provider),
				attribute.Float64("cost_usd", resp.CostUSD),
				attribute.Int("attempts", i+1),
			)
			return resp, nil
		}
		if ctx.Err() != nil {
			// Caller cancellation is terminal, never a failover trigger.
			span.RecordError(err)
			return nil, err
		}
		attempts = append(attempts, llm.ProviderAttempt{Provider: cand.Provider.ID(), Err: err})
	}

	aggErr := &llm.AllProvidersFailedError{Attempts: attempts}
	r.notifyRequestCompleted(routing.RequestEvent{
		RequestID: requestID,
		Strategy:  r.engine.StrategyName(),
		Attempts:  len(attempts),
		LatencyMs: time.Since(start).Milliseconds(),
		Err:       aggErr,
		At:        time.Now(),
	})
	span.RecordError(aggErr)
	return nil, aggErr
}

// attemptChat runs one candidate under its own timeout and applies the
// outcome to health and cost state. A dead parent context comes back as the
// context's own error with no stats recorded.
func (r *Router) attemptChat(ctx context.Context, provider llm.Provider, req *llm.ChatRequest, requestID string, attemptNo int) (*llm.ChatResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerRequestTimeout)
	defer cancel()

	providerID := provider.ID()
	start := time.Now()
	resp, err := provider.Chat(attemptCtx, req)
	latency := time.Since(start)

	if err == nil && resp == nil {
		err = &llm.InvalidResponseError{Provider: providerID, Message: "adapter returned no response"}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = r.mapAttemptError(err, providerID, attemptCtx, latency)
		r.recordAttemptFailure(requestID, provider, attemptNo, latency, err)
		return nil, err
	}

	r.health.RecordSuccess(providerID, latency)
	cost := r.pricing.Cost(provider, resp.Usage)
	r.spend.Add(providerID, cost)

	resp.Provider = providerID
	if resp.Model == "" {
		resp.Model = provider.Model()
	}
	resp.CostUSD = cost
	resp.LatencyMs = latency.Milliseconds()
	return resp, nil
}

// mapAttemptError folds raw context timeouts into the error taxonomy so
// downstream consumers see one vocabulary.
func (r *Router) mapAttemptError(err error, providerID string, attemptCtx context.Context, latency time.Duration) error {
	if attemptCtx.Err() == context.DeadlineExceeded && !isTaxonomyTimeout(err) {
		return &llm.TimeoutError{Provider: providerID, Elapsed: latency}
	}
	return err
}

func isTaxonomyTimeout(err error) bool {
	var timeoutErr *llm.TimeoutError
	return errors.As(err, &timeoutErr)
}

func (r *Router) recordAttemptFailure(requestID string, provider llm.Provider, attemptNo int, latency time.Duration, err error) {
	providerID := provider.ID()
	r.health.RecordFailure(providerID)
	r.notifyAttemptFailed(routing.AttemptEvent{
		RequestID: requestID,
		Provider:  providerID,
		Model:     provider.Model(),
		Attempt:   attemptNo,
		LatencyMs: latency.Milliseconds(),
		Err:       err,
		At:        time.Now(),
	})
	logrus.WithError(err).WithFields(logrus.Fields{
		"request_id": requestID,
		"provider":   providerID,
		"attempt":    attemptNo,
		"latency_ms": latency.Milliseconds(),
	}).Warn("Provider attempt failed")
}

// Embeddings routes the text to the first capable provider, with the same
// ranking and fallback semantics as Chat.
func (r *Router) Embeddings(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embeddings text is empty")
	}
	if err := r.spend.CheckBudget(); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "router.embeddings")
	defer span.End()

	requestID := requestIDFrom(ctx)
	start := time.Now()

	candidates := r.engine.Candidates(r.providers)
	if len(candidates) == 0 {
		return nil, &llm.NoProvidersAvailableError{Reason: "no providers registered"}
	}
	capable := make([]routing.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Provider.SupportsEmbeddings() {
			capable = append(capable, cand)
		}
	}
	if len(capable) == 0 {
		return nil, &llm.EmbeddingNotSupportedError{}
	}

	maxAttempts := r.maxAttempts(len(capable))
	var attempts []llm.ProviderAttempt

	for i, cand := range capable {
		if i >= maxAttempts {
			break
		}
		provider := cand.Provider
		providerID := provider.ID()

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerRequestTimeout)
		attemptStart := time.Now()
		vec, err := provider.Embeddings(attemptCtx, text)
		latency := time.Since(attemptStart)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil && len(vec) == 0 {
			err = &llm.InvalidResponseError{Provider: providerID, Message: "empty embedding vector"}
		}
		if err != nil {
			if ctx.Err() != nil {
				span.RecordError(err)
				return nil, ctx.Err()
			}
			if timedOut && !isTaxonomyTimeout(err) {
				err = &llm.TimeoutError{Provider: providerID, Elapsed: latency}
			}
			r.recordAttemptFailure(requestID, provider, i+1, latency, err)
			attempts = append(attempts, llm.ProviderAttempt{Provider: providerID, Err: err})
			continue
		}

		r.health.RecordSuccess(providerID, latency)
		r.notifyEmbeddingCompleted(routing.EmbeddingEvent{
			RequestID:  requestID,
			Provider:   providerID,
			Model:      provider.Model(),
			TextLen:    len(text),
			Dimensions: len(vec),
			Vector:     vec,
			LatencyMs:  time.Since(start).Milliseconds(),
			At:         time.Now(),
		})
		span.SetAttributes(
			attribute.String("provider", providerID),
			attribute.Int("dimensions", len(vec)),
		)
		return vec, nil
	}

	aggErr := &llm.AllProvidersFailedError{Attempts: attempts}
	r.notifyEmbeddingCompleted(routing.EmbeddingEvent{
		RequestID: requestID,
		TextLen:   len(text),
		LatencyMs: time.Since(start).Milliseconds(),
		Err:       aggErr,
		At:        time.Now(),
	})
	span.RecordError(aggErr)
	return nil, aggErr
}

// maxAttempts resolves the configured fallback ceiling; zero means one
// attempt per candidate.
func (r *Router) maxAttempts(candidateCount int) int {
	if r.cfg.MaxFallbackAttempts <= 0 {
		return candidateCount
	}
	return r.cfg.MaxFallbackAttempts
}

// Stats returns a snapshot of per-provider stats.
func (r *Router) Stats() map[string]routing.ProviderStats {
	return r.health.Snapshot()
}

// ProviderStats returns one provider's stats snapshot.
func (r *Router) ProviderStats(providerID string) (routing.ProviderStats, bool) {
	return r.health.Stats(providerID)
}

// TotalCost returns cumulative spend across all providers.
func (r *Router) TotalCost() float64 {
	return r.spend.Total()
}

// CostByProvider returns cumulative spend per provider.
func (r *Router) CostByProvider() map[string]float64 {
	return r.spend.ByProvider()
}

// Health returns the current health flag per provider.
func (r *Router) Health() map[string]bool {
	snapshot := r.health.Snapshot()
	out := make(map[string]bool, len(snapshot))
	for id, stats := range snapshot {
		out[id] = stats.IsHealthy
	}
	return out
}

// Providers returns the registered provider ids in registration order.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.ID())
	}
	return out
}

// Provider looks a registered provider up by id.
func (r *Router) Provider(providerID string) (llm.Provider, bool) {
	p, ok := r.byID[providerID]
	return p, ok
}

// StrategyName reports the active routing strategy.
func (r *Router) StrategyName() string {
	return r.engine.StrategyName()
}

// Close stops the background health checker. Idempotent.
func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		if r.checker != nil {
			r.checker.Stop()
		}
	})
	return nil
}

func (r *Router) notifyRequestCompleted(ev routing.RequestEvent) {
	for _, o := range r.observers {
		o.RequestCompleted(ev)
	}
}

func (r *Router) notifyAttemptFailed(ev routing.AttemptEvent) {
	for _, o := range r.observers {
		o.AttemptFailed(ev)
	}
}

func (r *Router) notifyEmbeddingCompleted(ev routing.EmbeddingEvent) {
	for _, o := range r.observers {
		o.EmbeddingCompleted(ev)
	}
}
