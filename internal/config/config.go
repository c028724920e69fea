package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"llm-relay/domain/routing"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Providers      []ProviderConfig     `yaml:"providers"`
	Router         RouterConfig         `yaml:"router"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        string   `yaml:"port"`
	AppName     string   `yaml:"app_name"`
	RefererURL  string   `yaml:"referer_url"`
	CorsOrigins []string `yaml:"cors_origins"`
}

// ProviderConfig describes one upstream endpoint. Exactly one credential
// source should be set: api_key (literal or ${VAR}, expanded at load),
// api_key_env (variable name, re-read on every call), or token_file.
type ProviderConfig struct {
	ID             string         `yaml:"id"`
	Type           string         `yaml:"type"`
	Name           string         `yaml:"name"`
	BaseURL        string         `yaml:"base_url"`
	Model          string         `yaml:"model"`
	EmbeddingModel string         `yaml:"embedding_model"`
	APIKey         string         `yaml:"api_key"`
	APIKeyEnv      string         `yaml:"api_key_env"`
	TokenFile      string         `yaml:"token_file"`
	MaxRetries     int            `yaml:"max_retries"`
	TimeoutMs      int            `yaml:"timeout_ms"`
	Pricing        *PricingConfig `yaml:"pricing"`
}

// Provider types accepted in ProviderConfig.Type.
const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
)

type PricingConfig struct {
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

type RouterConfig struct {
	Strategy                   string   `yaml:"strategy"`
	PriorityOrder              []string `yaml:"priority_order"`
	MaxFallbackAttempts        int      `yaml:"max_fallback_attempts"`
	PerRequestTimeoutMs        int      `yaml:"per_request_timeout_ms"`
	HealthCheckIntervalSeconds int      `yaml:"health_check_interval_seconds"`
	BudgetUSD                  float64  `yaml:"budget_usd"`
	PricingOverridesFile       string   `yaml:"pricing_overrides_file"`
}

type EmbeddingConfig struct {
	CacheSize int `yaml:"cache_size"`
}

type DatabaseConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SSLMode    string `yaml:"ssl_mode"`
	Workers    int    `yaml:"workers"`
	BufferSize int    `yaml:"buffer_size"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ReportCaller bool   `yaml:"report_caller"`
}

type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	MaxRequests      uint32 `yaml:"max_requests"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// LoadYAML loads configuration from YAML file with environment variable overrides
func LoadYAML(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "config.yaml"
	}

	config := getDefaultConfig()

	// Load YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in YAML content
		expandedYAML := os.ExpandEnv(string(yamlFile))

		if err := yaml.Unmarshal([]byte(expandedYAML), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		logrus.WithField("config_file", configPath).Info("Loaded configuration from YAML file")
	} else {
		logrus.WithField("config_file", configPath).Warn("Config file not found, using defaults and environment variables")
	}

	// Apply environment variable overrides
	config = applyEnvironmentOverrides(config)

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with sensible defaults
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			AppName:     "LLM Relay",
			RefererURL:  "https://llm-relay.dev",
			CorsOrigins: []string{"*"},
		},
		Providers: []ProviderConfig{
			{
				ID:             "openai",
				Type:           ProviderTypeOpenAI,
				BaseURL:        "https://api.openai.com/v1",
				Model:          "gpt-4o-mini",
				EmbeddingModel: "text-embedding-3-small",
				APIKeyEnv:      "OPENAI_API_KEY",
				Pricing: &PricingConfig{
					InputCostPer1K:  0.00015,
					OutputCostPer1K: 0.0006,
				},
			},
			{
				ID:        "anthropic",
				Type:      ProviderTypeAnthropic,
				Model:     "claude-3-5-haiku-latest",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Pricing: &PricingConfig{
					InputCostPer1K:  0.0008,
					OutputCostPer1K: 0.004,
				},
			},
		},
		Router: RouterConfig{
			Strategy:                   routing.KindPriority,
			PerRequestTimeoutMs:        30000,
			HealthCheckIntervalSeconds: 60,
		},
		Embedding: EmbeddingConfig{
			CacheSize: 1024,
		},
		Database: DatabaseConfig{
			Enabled:    false, // start without persistence for easier setup
			Driver:     "sqlite",
			Host:       "localhost",
			Port:       "5432",
			User:       "llm-relay",
			Name:       "llm-relay",
			SSLMode:    "disable",
			Workers:    5,
			BufferSize: 1000,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "llm-relay",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "llm",
				Subsystem: "relay",
			},
			Tracing: TracingConfig{
				Enabled:  false,
				Exporter: "stdout",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "auto",
			ReportCaller: false,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			MaxRequests:      3,
			TimeoutSeconds:   30,
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(config *Config) *Config {
	// Server overrides
	if val := os.Getenv("HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		config.Server.Port = val
	}
	if val := os.Getenv("APP_NAME"); val != "" {
		config.Server.AppName = val
	}
	if val := os.Getenv("REFERER_URL"); val != "" {
		config.Server.RefererURL = val
	}
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		config.Server.CorsOrigins = splitAndTrim(val)
	}

	// Router overrides
	if val := os.Getenv("ROUTER_STRATEGY"); val != "" {
		config.Router.Strategy = val
	}
	if val := os.Getenv("ROUTER_PRIORITY_ORDER"); val != "" {
		config.Router.PriorityOrder = splitAndTrim(val)
	}
	if val := os.Getenv("ROUTER_MAX_FALLBACK_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Router.MaxFallbackAttempts = i
		}
	}
	if val := os.Getenv("ROUTER_PER_REQUEST_TIMEOUT_MS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Router.PerRequestTimeoutMs = i
		}
	}
	if val := os.Getenv("ROUTER_HEALTH_CHECK_INTERVAL_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Router.HealthCheckIntervalSeconds = i
		}
	}
	if val := os.Getenv("ROUTER_BUDGET_USD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.Router.BudgetUSD = f
		}
	}
	if val := os.Getenv("PRICING_OVERRIDES_FILE"); val != "" {
		config.Router.PricingOverridesFile = val
	}

	// Embedding overrides
	if val := os.Getenv("EMBEDDING_CACHE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Embedding.CacheSize = i
		}
	}

	// Database overrides
	if val := os.Getenv("ENABLE_PERSISTENCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Database.Enabled = b
		}
	}
	if val := os.Getenv("DATABASE_DRIVER"); val != "" {
		config.Database.Driver = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Database.URL = val
	}
	if val := os.Getenv("DATABASE_HOST"); val != "" {
		config.Database.Host = val
	}
	if val := os.Getenv("DATABASE_PORT"); val != "" {
		config.Database.Port = val
	}
	if val := os.Getenv("DATABASE_USER"); val != "" {
		config.Database.User = val
	}
	if val := os.Getenv("DATABASE_PASSWORD"); val != "" {
		config.Database.Password = val
	}
	if val := os.Getenv("DATABASE_NAME"); val != "" {
		config.Database.Name = val
	}
	if val := os.Getenv("DATABASE_SSL_MODE"); val != "" {
		config.Database.SSLMode = val
	}
	if val := os.Getenv("DATABASE_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Database.Workers = i
		}
	}
	if val := os.Getenv("DATABASE_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Database.BufferSize = i
		}
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Redis.Enabled = b
		}
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		config.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		config.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Redis.DB = i
		}
	}
	if val := os.Getenv("REDIS_KEY_PREFIX"); val != "" {
		config.Redis.KeyPrefix = val
	}

	// Telemetry overrides
	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("TRACING_EXPORTER"); val != "" {
		config.Telemetry.Tracing.Exporter = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		config.Telemetry.Tracing.Endpoint = val
	}

	// Logging overrides
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_REPORT_CALLER"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Logging.ReportCaller = b
		}
	}

	// Circuit breaker overrides
	if val := os.Getenv("CIRCUIT_BREAKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.CircuitBreaker.Enabled = b
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.FailureThreshold = uint32(i)
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.MaxRequests = uint32(i)
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_TIMEOUT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.CircuitBreaker.TimeoutSeconds = i
		}
	}

	return config
}

var validStrategies = map[string]bool{
	routing.KindPriority:         true,
	routing.KindRoundRobin:       true,
	routing.KindCostOptimized:    true,
	routing.KindLatencyOptimized: true,
	routing.KindRandom:           true,
}

// validateConfig validates the configuration and returns errors for invalid values
func validateConfig(config *Config) error {
	var errors []string

	if len(config.Providers) == 0 {
		errors = append(errors, "at least one provider must be configured")
	}

	seen := map[string]bool{}
	for i, p := range config.Providers {
		label := p.ID
		if label == "" {
			label = fmt.Sprintf("providers[%d]", i)
			errors = append(errors, fmt.Sprintf("%s: id is required", label))
		}
		if seen[p.ID] && p.ID != "" {
			errors = append(errors, fmt.Sprintf("%s: duplicate provider id", label))
		}
		seen[p.ID] = true

		switch p.Type {
		case ProviderTypeOpenAI, ProviderTypeAnthropic:
		default:
			errors = append(errors, fmt.Sprintf("%s: unknown provider type %q (expected %q or %q)",
				label, p.Type, ProviderTypeOpenAI, ProviderTypeAnthropic))
		}

		if p.Model == "" {
			errors = append(errors, fmt.Sprintf("%s: model is required", label))
		}
		if p.Type == ProviderTypeOpenAI && p.BaseURL == "" {
			errors = append(errors, fmt.Sprintf("%s: base_url is required for openai-compatible providers", label))
		}
		if p.APIKey == "" && p.APIKeyEnv == "" && p.TokenFile == "" {
			errors = append(errors, fmt.Sprintf("%s: no credential configured (set api_key, api_key_env, or token_file)", label))
		}
		if p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) == "" {
			logrus.WithFields(logrus.Fields{
				"provider": label,
				"env_var":  p.APIKeyEnv,
			}).Warn("Credential environment variable is not set; calls will fail until it is")
		}
	}

	if !validStrategies[config.Router.Strategy] {
		errors = append(errors, fmt.Sprintf("unknown routing strategy %q", config.Router.Strategy))
	}
	if config.Router.BudgetUSD < 0 {
		errors = append(errors, fmt.Sprintf("budget_usd must not be negative (current: %.2f)", config.Router.BudgetUSD))
	}
	if config.Router.Strategy == routing.KindPriority {
		for _, id := range config.Router.PriorityOrder {
			if !seen[id] {
				logrus.WithField("provider", id).Warn("priority_order names a provider that is not configured")
			}
		}
	}

	if config.Database.Enabled {
		switch config.Database.Driver {
		case "postgres", "sqlite":
		default:
			errors = append(errors, fmt.Sprintf("unsupported database driver %q (expected postgres or sqlite)", config.Database.Driver))
		}
		if config.Database.Driver == "postgres" && config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			errors = append(errors, "postgres requires url or host and name")
		}
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		errors = append(errors, "redis.addr is required when redis is enabled")
	}

	if config.Telemetry.Tracing.Enabled {
		switch config.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errors = append(errors, fmt.Sprintf("unknown tracing exporter %q (expected stdout or otlp)", config.Telemetry.Tracing.Exporter))
		}
		if config.Telemetry.Tracing.Exporter == "otlp" && config.Telemetry.Tracing.Endpoint == "" {
			errors = append(errors, "tracing.endpoint is required for the otlp exporter")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// GetDatabaseDSN constructs the database connection string
func (c *Config) GetDatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	if c.Database.Driver == "sqlite" {
		return "llm-relay.db"
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Backward compatibility function
func Load() (*Config, error) {
	return LoadYAML("")
}
