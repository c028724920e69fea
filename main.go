// llm-relay routes chat, streaming, and embedding requests across multiple
// LLM providers with health-aware fallback, budget enforcement, and cost
// accounting. The relay exposes an OpenAI-compatible HTTP surface, so
// existing OpenAI clients only need a base URL change.
//
// Usage:
//
//	# Start the gateway with the default configuration
//	llm-relay serve
//
//	# Start with a custom configuration file
//	llm-relay serve --config /etc/llm-relay/config.yaml
//
//	# Check a configuration file without starting
//	llm-relay validate --config config.yaml
//
//	# Show version information
//	llm-relay version
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	approuter "llm-relay/application/router"
	"llm-relay/domain/llm"
	"llm-relay/infrastructure/auth"
	"llm-relay/infrastructure/costs"
	"llm-relay/infrastructure/embedding"
	infrapersistence "llm-relay/infrastructure/persistence"
	"llm-relay/infrastructure/providers"
	"llm-relay/infrastructure/providers/anthropic"
	"llm-relay/infrastructure/providers/openaicompat"
	infrarouting "llm-relay/infrastructure/routing"
	"llm-relay/infrastructure/telemetry"
	httpiface "llm-relay/interfaces/http"
	"llm-relay/internal/config"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "llm-relay",
	Short: "Multi-provider LLM relay with health-aware fallback routing",
	Long: `llm-relay is a request router for LLM APIs. It fronts several upstream
providers (OpenAI-compatible endpoints, Anthropic) behind one
OpenAI-compatible surface, orders them by a pluggable strategy, and fails
over automatically when a provider is down, rate limited, or over budget.

It provides:
  - Chat completions, SSE streaming, and embeddings
  - Priority, round-robin, cost- and latency-optimized routing
  - Circuit breakers and health tracking per provider
  - Cost accounting with budget ceilings (in-memory or Redis-shared)
  - Request/attempt/embedding logs in Postgres or SQLite
  - Prometheus metrics and OpenTelemetry traces`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay gateway",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("llm-relay %s\n", Version)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadYAML(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration valid: %d provider(s), strategy %q\n",
		len(cfg.Providers), cfg.Router.Strategy)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadYAML(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"providers":   len(cfg.Providers),
		"strategy":    cfg.Router.Strategy,
		"persistence": cfg.Database.Enabled,
		"metrics":     cfg.Telemetry.Metrics.Enabled,
		"tracing":     cfg.Telemetry.Tracing.Enabled,
	}).Info("Starting LLM Relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer("llm-relay", telemetry.TracingConfig{
		Enabled:  cfg.Telemetry.Tracing.Enabled,
		Exporter: cfg.Telemetry.Tracing.Exporter,
		Endpoint: cfg.Telemetry.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracer()

	provs, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	strategy, err := infrarouting.NewStrategy(cfg.Router.Strategy, cfg.Router.PriorityOrder...)
	if err != nil {
		return err
	}

	builder := approuter.New().
		WithProviders(provs...).
		WithStrategy(strategy).
		WithMaxFallbackAttempts(cfg.Router.MaxFallbackAttempts).
		WithPerRequestTimeout(time.Duration(cfg.Router.PerRequestTimeoutMs) * time.Millisecond).
		WithHealthCheckInterval(time.Duration(cfg.Router.HealthCheckIntervalSeconds) * time.Second)

	if cfg.Router.BudgetUSD > 0 {
		builder = builder.WithBudget(cfg.Router.BudgetUSD)
	}

	calculator := costs.NewCalculator(nil)
	builder = builder.WithCalculator(calculator)

	var pricingWatcher *config.PricingWatcher
	if cfg.Router.PricingOverridesFile != "" {
		pricingWatcher, err = config.NewPricingWatcher(cfg.Router.PricingOverridesFile, calculator.UpdateOverrides)
		if err != nil {
			return fmt.Errorf("pricing overrides: %w", err)
		}
		defer pricingWatcher.Stop()
		logrus.WithField("file", cfg.Router.PricingOverridesFile).Info("Pricing overrides hot reload enabled")
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer client.Close()

		builder = builder.WithCostStore(costs.NewRedisStore(client, cfg.Redis.KeyPrefix))
		logrus.WithField("addr", cfg.Redis.Addr).Info("Cost accounting shared via Redis")
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(telemetry.MetricsConfig{
			Namespace: cfg.Telemetry.Metrics.Namespace,
			Subsystem: cfg.Telemetry.Metrics.Subsystem,
		}, nil)
		builder = builder.WithObserver(metrics)
	}

	var (
		dbManager *infrapersistence.Manager
		processor *infrapersistence.Processor
	)
	if cfg.Database.Enabled {
		dbManager = infrapersistence.NewManager()
		if err := dbManager.Connect(ctx, cfg.Database.Driver, cfg.GetDatabaseDSN()); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if err := dbManager.Migrate(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		requests, attempts, embeddings := dbManager.Repositories()
		processor = infrapersistence.NewProcessor(requests, attempts, embeddings,
			cfg.Database.Workers, cfg.Database.BufferSize)
		if err := processor.Start(ctx); err != nil {
			return fmt.Errorf("start event processor: %w", err)
		}

		builder = builder.WithObserver(infrapersistence.NewRecorder(processor))
		logrus.Info("Persistence layer initialized")
	} else {
		logrus.Info("Running without persistence layer")
	}

	if cfg.Telemetry.Tracing.Enabled {
		builder = builder.WithTracer(otel.Tracer("llm-relay"))
	}

	relay, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	// Mirror tracker snapshots into the health gauge on a fixed cadence.
	if metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.UpdateHealth(relay.Stats())
				}
			}
		}()
	}

	costCron := cron.New()
	if _, err := costCron.AddFunc("0 * * * *", func() {
		logrus.WithFields(logrus.Fields{
			"total_cost_usd":   relay.TotalCost(),
			"cost_by_provider": relay.CostByProvider(),
		}).Info("Hourly cost summary")
	}); err != nil {
		return fmt.Errorf("schedule cost summary: %w", err)
	}
	costCron.Start()

	gateway := httpiface.NewRouter(relay, cfg.Server.CorsOrigins)
	if metrics != nil {
		gateway = gateway.WithMetrics(metrics)
	}
	if dbManager != nil {
		gateway = gateway.WithPersistence(dbManager, processor)
	}

	address := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           gateway.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE responses hold the connection open past any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		logrus.WithField("address", address).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-sigs
	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	} else {
		logrus.Info("Server shutdown complete")
	}

	<-costCron.Stop().Done()

	if err := relay.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close router")
	}

	if processor != nil {
		if err := processor.Stop(); err != nil {
			logrus.WithError(err).Error("Failed to stop event processor")
		}
	}
	if dbManager != nil {
		if err := dbManager.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close database")
		}
	}

	logrus.Info("Shutdown complete")
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.SetReportCaller(cfg.ReportCaller)
}

// buildProviders constructs one provider per config entry, wrapped with the
// circuit breaker and, for embedding-capable providers, the LRU cache. The
// cache sits outside the breaker so cached vectors keep serving while the
// upstream is open-circuited.
func buildProviders(cfg *config.Config) ([]llm.Provider, error) {
	breakerCfg := providers.BreakerConfig{
		Enabled:          cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Timeout:          time.Duration(cfg.CircuitBreaker.TimeoutSeconds) * time.Second,
	}

	built := make([]llm.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		tokens, err := tokenSource(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}

		var p llm.Provider
		switch pc.Type {
		case config.ProviderTypeOpenAI:
			p, err = openaicompat.New(openaicompat.Config{
				ID:             pc.ID,
				Name:           pc.Name,
				BaseURL:        pc.BaseURL,
				Model:          pc.Model,
				EmbeddingModel: pc.EmbeddingModel,
				Tokens:         tokens,
				Pricing:        toPricing(pc.Pricing),
				MaxRetries:     pc.MaxRetries,
				Timeout:        time.Duration(pc.TimeoutMs) * time.Millisecond,
				RefererURL:     cfg.Server.RefererURL,
				AppName:        cfg.Server.AppName,
			})
		case config.ProviderTypeAnthropic:
			p, err = anthropic.New(anthropic.Config{
				ID:         pc.ID,
				BaseURL:    pc.BaseURL,
				Model:      pc.Model,
				Tokens:     tokens,
				Pricing:    toPricing(pc.Pricing),
				MaxRetries: pc.MaxRetries,
				Timeout:    time.Duration(pc.TimeoutMs) * time.Millisecond,
			})
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", pc.ID, pc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}

		p = providers.WithBreaker(p, breakerCfg)

		if p.SupportsEmbeddings() && cfg.Embedding.CacheSize > 0 {
			p, err = embedding.WithCache(p, cfg.Embedding.CacheSize)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
		}

		built = append(built, p)
	}
	return built, nil
}

func tokenSource(pc config.ProviderConfig) (auth.TokenSource, error) {
	switch {
	case pc.APIKey != "":
		return auth.Static(pc.APIKey), nil
	case pc.APIKeyEnv != "":
		return auth.Env(pc.APIKeyEnv), nil
	case pc.TokenFile != "":
		return auth.NewFileStore(pc.TokenFile).Source(pc.ID), nil
	}
	return nil, fmt.Errorf("no credential source configured")
}

func toPricing(pc *config.PricingConfig) *llm.ProviderPricing {
	if pc == nil {
		return nil
	}
	return &llm.ProviderPricing{
		InputCostPer1K:  pc.InputCostPer1K,
		OutputCostPer1K: pc.OutputCostPer1K,
	}
}
