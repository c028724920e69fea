package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"llm-relay/domain/routing"
)

// MetricsConfig controls metric naming and histogram resolution.
type MetricsConfig struct {
	Namespace       string    `yaml:"namespace" json:"namespace"`
	Subsystem       string    `yaml:"subsystem" json:"subsystem"`
	DurationBuckets []float64 `yaml:"duration_buckets" json:"duration_buckets"`
}

// Metrics exposes routing outcomes as Prometheus collectors. It implements
// the routing observer port, so the router feeds it asynchronously and a
// scrape never touches the request path.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	costTotal       *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	embeddingsTotal *prometheus.CounterVec
	providerHealth  *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors. A nil registry gets a
// fresh private one, keeping tests and embedders isolated from the global
// default registry.
func NewMetrics(cfg MetricsConfig, registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "llm"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "relay"
	}
	if len(cfg.DurationBuckets) == 0 {
		// LLM completions run far slower than typical RPC; reach to 60s.
		cfg.DurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	}

	m := &Metrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Routed requests by terminal status",
			},
			[]string{"provider", "model", "status"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "fallback_attempts_total",
				Help:      "Failed attempts that pushed a request to the next candidate",
			},
			[]string{"provider"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"provider"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cost_usd_total",
				Help:      "Accumulated request cost in USD",
			},
			[]string{"provider", "model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Tokens consumed, split by prompt and completion",
			},
			[]string{"provider", "model", "type"},
		),

		embeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "embeddings_total",
				Help:      "Embedding calls by terminal status",
			},
			[]string{"provider", "status"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_health",
				Help:      "Provider health from the background checker (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.fallbacksTotal,
		m.requestDuration,
		m.costTotal,
		m.tokensTotal,
		m.embeddingsTotal,
		m.providerHealth,
	)

	return m
}

// Registry returns the registry holding these collectors, for mounting a
// scrape handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RequestCompleted(ev routing.RequestEvent) {
	provider := orNone(ev.Provider)
	model := orNone(ev.Model)

	status := "completed"
	if ev.Err != nil {
		status = "failed"
	}

	m.requestsTotal.WithLabelValues(provider, model, status).Inc()
	m.requestDuration.WithLabelValues(provider).Observe(float64(ev.LatencyMs) / 1000.0)

	if ev.Err == nil {
		if ev.CostUSD > 0 {
			m.costTotal.WithLabelValues(provider, model).Add(ev.CostUSD)
		}
		if ev.Usage.PromptTokens > 0 {
			m.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(ev.Usage.PromptTokens))
		}
		if ev.Usage.CompletionTokens > 0 {
			m.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(ev.Usage.CompletionTokens))
		}
	}
}

func (m *Metrics) AttemptFailed(ev routing.AttemptEvent) {
	m.fallbacksTotal.WithLabelValues(orNone(ev.Provider)).Inc()
}

func (m *Metrics) EmbeddingCompleted(ev routing.EmbeddingEvent) {
	status := "completed"
	if ev.Err != nil {
		status = "failed"
	}
	m.embeddingsTotal.WithLabelValues(orNone(ev.Provider), status).Inc()
}

// SetProviderHealth reflects checker state into the health gauge.
func (m *Metrics) SetProviderHealth(providerID string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	m.providerHealth.WithLabelValues(providerID).Set(val)
}

// UpdateHealth mirrors a full health snapshot into the gauge.
func (m *Metrics) UpdateHealth(snapshot map[string]routing.ProviderStats) {
	for id, stats := range snapshot {
		m.SetProviderHealth(id, stats.IsHealthy)
	}
}

// A request that exhausted every candidate has no provider to attribute;
// "none" keeps the label set queryable.
func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
