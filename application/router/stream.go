package router

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
)

// StreamChat routes a streaming request. Chunks are forwarded to onChunk as
// they arrive, never buffered. When a provider's stream dies before its
// final chunk the whole conversation restarts against the next candidate;
// chunks already forwarded carry the old provider id and must be discarded
// by the caller. Usage from the final chunk feeds cost accounting exactly
// once.
func (r *Router) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if onChunk == nil {
		return fmt.Errorf("onChunk handler is nil")
	}
	if err := r.spend.CheckBudget(); err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "router.stream")
	defer span.End()

	requestID := requestIDFrom(ctx)
	start := time.Now()

	candidates := r.engine.Candidates(r.providers)
	if len(candidates) == 0 {
		return &llm.NoProvidersAvailableError{Reason: "no providers registered"}
	}
	capable := make([]routing.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Provider.SupportsStreaming() {
			capable = append(capable, cand)
		}
	}
	if len(capable) == 0 {
		return &llm.StreamingNotSupportedError{}
	}

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("strategy", r.engine.StrategyName()),
		attribute.Int("candidates", len(capable)),
	)

	maxAttempts := r.maxAttempts(len(capable))
	var attempts []llm.ProviderAttempt

	for i, cand := range capable {
		if i >= maxAttempts {
			break
		}
		outcome := r.attemptStream(ctx, cand.Provider, req, onChunk, requestID, i+1)
		if outcome.terminal {
			span.RecordError(outcome.err)
			return outcome.err
		}
		if outcome.err == nil {
			r.notifyRequestCompleted(routing.RequestEvent{
				RequestID: requestID,
				Provider:  cand.Provider.ID(),
				Model:     cand.Provider.Model(),
				Strategy:  r.engine.StrategyName(),
				Streaming: true,
				Attempts:  i + 1,
				Usage:     outcome.usage,
				CostUSD:   outcome.cost,
				LatencyMs: time.Since(start).Milliseconds(),
				At:        time.Now(),
			})
			span.SetAttributes(
				attribute.String("provider", cand.Provider.ID()),
				attribute.Float64("cost_usd", outcome.cost),
				attribute.Int("attempts", i+1),
			)
			return nil
		}
		attempts = append(attempts, llm.ProviderAttempt{Provider: cand.Provider.ID(), Err: outcome.err})
	}

	aggErr := &llm.AllProvidersFailedError{Attempts: attempts}
	r.notifyRequestCompleted(routing.RequestEvent{
		RequestID: requestID,
		Strategy:  r.engine.StrategyName(),
		Streaming: true,
		Attempts:  len(attempts),
		LatencyMs: time.Since(start).Milliseconds(),
		Err:       aggErr,
		At:        time.Now(),
	})
	span.RecordError(aggErr)
	return aggErr
}

type streamOutcome struct {
	usage llm.TokenUsage
	cost  float64
	err   error

	// terminal means the error must surface as-is: the caller aborted the
	// stream or their context died. No failover.
	terminal bool
}

func (r *Router) attemptStream(ctx context.Context, provider llm.Provider, req *llm.ChatRequest, onChunk llm.StreamHandler, requestID string, attemptNo int) streamOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerRequestTimeout)
	defer cancel()

	providerID := provider.ID()
	model := provider.Model()
	start := time.Now()

	var (
		sawFinal   bool
		finalUsage *llm.TokenUsage
		handlerErr error
	)
	wrapped := func(chunk llm.ChatChunk) error {
		chunk.Provider = providerID
		if chunk.Model == "" {
			chunk.Model = model
		}
		if chunk.IsFinal {
			sawFinal = true
			if chunk.Usage != nil {
				finalUsage = chunk.Usage
			}
		}
		if err := onChunk(chunk); err != nil {
			handlerErr = err
			return err
		}
		return nil
	}

	err := provider.StreamChat(attemptCtx, req, wrapped)
	latency := time.Since(start)

	if handlerErr != nil {
		return streamOutcome{err: handlerErr, terminal: true}
	}
	if err != nil && ctx.Err() != nil {
		return streamOutcome{err: ctx.Err(), terminal: true}
	}
	if err == nil && !sawFinal {
		err = &llm.InvalidResponseError{Provider: providerID, Message: "stream ended without a final chunk"}
	}
	if err != nil && !sawFinal {
		err = r.mapAttemptError(err, providerID, attemptCtx, latency)
		r.recordAttemptFailure(requestID, provider, attemptNo, latency, err)
		return streamOutcome{err: err}
	}
	if err != nil {
		// The final chunk already completed the response; nothing to retry.
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"provider":   providerID,
		}).Warn("Stream reported an error after its final chunk")
	}

	r.health.RecordSuccess(providerID, latency)
	var usage llm.TokenUsage
	if finalUsage != nil {
		usage = *finalUsage
	}
	cost := r.pricing.Cost(provider, usage)
	r.spend.Add(providerID, cost)
	return streamOutcome{usage: usage, cost: cost}
}
