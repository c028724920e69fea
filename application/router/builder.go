package router

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
	"llm-relay/infrastructure/costs"
	"llm-relay/infrastructure/health"
	infrarouting "llm-relay/infrastructure/routing"
)

// Builder assembles a Router. Zero configuration beyond the providers gives
// priority routing in registration order, one fallback attempt per provider,
// a 30s per-attempt timeout, background health checks every 60s, in-memory
// cost accounting and no budget.
type Builder struct {
	providers    []llm.Provider
	cfg          routing.Config
	store        costs.Store
	calculator   *costs.Calculator
	observers    []routing.Observer
	tracer       trace.Tracer
	healthChecks bool
}

func New() *Builder {
	return &Builder{healthChecks: true}
}

// WithProvider registers a provider. Registration order is the default
// routing order and the tie-break for every strategy.
func (b *Builder) WithProvider(p llm.Provider) *Builder {
	b.providers = append(b.providers, p)
	return b
}

func (b *Builder) WithProviders(ps ...llm.Provider) *Builder {
	b.providers = append(b.providers, ps...)
	return b
}

// WithConfig replaces the whole routing config at once. Individual With
// calls made afterwards still override single fields.
func (b *Builder) WithConfig(cfg routing.Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithStrategy(s routing.Strategy) *Builder {
	b.cfg.Strategy = s
	return b
}

// WithBudget sets the cumulative USD ceiling. Once total spend reaches it,
// every new request fails before any provider is contacted.
func (b *Builder) WithBudget(budgetUSD float64) *Builder {
	b.cfg.BudgetUSD = &budgetUSD
	return b
}

func (b *Builder) WithMaxFallbackAttempts(n int) *Builder {
	b.cfg.MaxFallbackAttempts = n
	return b
}

func (b *Builder) WithPerRequestTimeout(d time.Duration) *Builder {
	b.cfg.PerRequestTimeout = d
	return b
}

func (b *Builder) WithHealthCheckInterval(d time.Duration) *Builder {
	b.cfg.HealthCheckInterval = d
	return b
}

// WithoutHealthChecks disables the background prober. Health still updates
// from real traffic.
func (b *Builder) WithoutHealthChecks() *Builder {
	b.healthChecks = false
	return b
}

// WithCostStore swaps the spend accumulator, e.g. for the Redis-backed store
// shared across gateway instances.
func (b *Builder) WithCostStore(store costs.Store) *Builder {
	b.store = store
	return b
}

// WithCalculator injects a pricing calculator, usually one whose overrides a
// config watcher hot-reloads.
func (b *Builder) WithCalculator(c *costs.Calculator) *Builder {
	b.calculator = c
	return b
}

// WithPricingOverrides pins pricing per provider id, taking precedence over
// provider-published pricing.
func (b *Builder) WithPricingOverrides(overrides map[string]llm.ProviderPricing) *Builder {
	b.calculator = costs.NewCalculator(overrides)
	return b
}

// WithObserver subscribes an observer to routing outcomes. Observers run on
// the request path and must hand slow work to their own workers.
func (b *Builder) WithObserver(o routing.Observer) *Builder {
	b.observers = append(b.observers, o)
	return b
}

func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// Build wires the router and starts its health checker.
func (b *Builder) Build() (*Router, error) {
	if len(b.providers) == 0 {
		return nil, fmt.Errorf("router requires at least one provider")
	}
	byID := make(map[string]llm.Provider, len(b.providers))
	for i, p := range b.providers {
		if p == nil {
			return nil, fmt.Errorf("provider at position %d is nil", i)
		}
		if p.ID() == "" {
			return nil, fmt.Errorf("provider at position %d has an empty id", i)
		}
		if _, dup := byID[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID())
		}
		byID[p.ID()] = p
	}

	cfg := b.cfg
	if cfg.Strategy == nil {
		cfg.Strategy = infrarouting.NewPriorityStrategy()
	}
	if cfg.PerRequestTimeout <= 0 {
		cfg.PerRequestTimeout = routing.DefaultPerRequestTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = routing.DefaultHealthCheckInterval
	}

	tracker := health.NewTracker()
	for _, p := range b.providers {
		tracker.Register(p.ID())
	}

	store := b.store
	if store == nil {
		store = costs.NewMemoryStore()
	}
	calculator := b.calculator
	if calculator == nil {
		calculator = costs.NewCalculator(nil)
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer("llm-relay/router")
	}

	r := &Router{
		providers: b.providers,
		byID:      byID,
		engine:    infrarouting.NewEngine(cfg.Strategy, tracker),
		health:    tracker,
		spend:     costs.NewTracker(store, cfg.BudgetUSD),
		pricing:   calculator,
		observers: b.observers,
		cfg:       cfg,
		tracer:    tracer,
	}
	if b.healthChecks {
		r.checker = health.NewChecker(b.providers, tracker, cfg.HealthCheckInterval)
		r.checker.Start()
	}

	logrus.WithFields(logrus.Fields{
		"providers": len(b.providers),
		"strategy":  cfg.Strategy.Name(),
		"timeout":   cfg.PerRequestTimeout,
	}).Info("Router built")
	return r, nil
}
