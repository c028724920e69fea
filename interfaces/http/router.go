package httpiface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
	"llm-relay/domain/persistence"
	"llm-relay/domain/routing"
	"llm-relay/infrastructure/telemetry"
)

// RelayService is the slice of the relay router the gateway consumes.
type RelayService interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error
	Embeddings(ctx context.Context, text string) ([]float32, error)
	Stats() map[string]routing.ProviderStats
	TotalCost() float64
	CostByProvider() map[string]float64
	Health() map[string]bool
	Providers() []string
	StrategyName() string
}

type Router struct {
	relay       RelayService
	corsOrigins []string

	metrics   *telemetry.Metrics
	dbManager persistence.DatabaseManager
	processor persistence.EventProcessor
}

func NewRouter(relay RelayService, corsOrigins []string) *Router {
	return &Router{
		relay:       relay,
		corsOrigins: corsOrigins,
	}
}

// WithMetrics mounts /metrics for the given collectors.
func (r *Router) WithMetrics(m *telemetry.Metrics) *Router {
	r.metrics = m
	return r
}

// WithPersistence adds the database and processor to the health checks.
func (r *Router) WithPersistence(db persistence.DatabaseManager, processor persistence.EventProcessor) *Router {
	r.dbManager = db
	r.processor = processor
	return r
}

func (r *Router) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(r.corsMiddleware())

	// Health endpoints - no request ID required for monitoring tools
	router.GET("/live", r.liveness)
	router.GET("/ready", r.readiness)
	router.GET("/health", r.healthCheck)

	if r.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			r.metrics.Registry(),
			promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError},
		)))
	}

	api := router.Group("/v1")
	api.Use(r.requestIDMiddleware())
	api.POST("/chat/completions", r.chatCompletions)
	api.POST("/embeddings", r.embeddings)
	api.GET("/router/stats", r.routerStats)
	api.GET("/router/providers", r.routerProviders)

	return router
}

func (r *Router) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqOrigin := c.GetHeader("Origin")
		if reqOrigin == "" {
			c.Header("Access-Control-Allow-Origin", strings.Join(r.corsOrigins, ", "))
		} else {
			allowOrigin := ""
			if len(r.corsOrigins) == 1 && r.corsOrigins[0] == "*" {
				allowOrigin = "*"
			} else {
				for _, allowed := range r.corsOrigins {
					if allowed == reqOrigin {
						allowOrigin = reqOrigin
						break
					}
				}
			}
			if allowOrigin != "" {
				c.Header("Access-Control-Allow-Origin", allowOrigin)
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware honors a client-supplied X-Request-ID and mints one
// otherwise. The id is echoed on the response and tagged onto completion ids.
func (r *Router) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func (r *Router) chatCompletions(c *gin.Context) {
	var wireReq chatCompletionRequest
	if err := c.ShouldBindJSON(&wireReq); err != nil {
		logrus.WithError(err).Error("Failed to bind request")
		writeError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request format")
		return
	}

	req, err := toDomainRequest(&wireReq)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	completionID := "chatcmpl-" + c.GetString("request_id")

	if wireReq.Stream {
		r.streamCompletion(c, completionID, req)
		return
	}

	resp, err := r.relay.Chat(c.Request.Context(), req)
	if err != nil {
		r.writeRelayError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"request_id":       c.GetString("request_id"),
		"provider":         resp.Provider,
		"usage_total":      resp.Usage.TotalTokens,
		"usage_prompt":     resp.Usage.PromptTokens,
		"usage_completion": resp.Usage.CompletionTokens,
		"streaming":        false,
	}).Info("Chat usage")

	c.JSON(http.StatusOK, toWireResponse(completionID, resp))
}

// streamCompletion relays chunks as OpenAI-style SSE frames. A provider
// switch mid-stream restarts the delivery, so the client may observe the
// same content again under a new provider label; relay semantics guarantee
// the previous partial is abandoned.
func (r *Router) streamCompletion(c *gin.Context, completionID string, req *llm.ChatRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "server_error", "Streaming not supported by server")
		return
	}

	// SSE headers go out with the first chunk so a relay failure before any
	// delivery still gets a plain JSON error response.
	wroteChunk := false
	var finalUsage *llm.TokenUsage

	err := r.relay.StreamChat(c.Request.Context(), req, func(chunk llm.ChatChunk) error {
		if !wroteChunk {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Status(http.StatusOK)
		}
		if chunk.Usage != nil {
			finalUsage = chunk.Usage
		}

		data, err := json.Marshal(toWireChunk(completionID, chunk))
		if err != nil {
			return err
		}
		if _, err := c.Writer.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := c.Writer.Write(data); err != nil {
			return err
		}
		if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		wroteChunk = true
		return nil
	})
	if err != nil {
		// Nothing delivered yet: a clean JSON error is still possible.
		if !wroteChunk {
			r.writeRelayError(c, err)
			return
		}
		logrus.WithError(err).Error("Streaming failed mid-delivery")
		return
	}

	c.Writer.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	if finalUsage != nil {
		logrus.WithFields(logrus.Fields{
			"request_id":       c.GetString("request_id"),
			"usage_total":      finalUsage.TotalTokens,
			"usage_prompt":     finalUsage.PromptTokens,
			"usage_completion": finalUsage.CompletionTokens,
			"streaming":        true,
		}).Info("Chat usage")
	} else {
		logrus.WithField("request_id", c.GetString("request_id")).
			Warn("No usage reported on stream end")
	}
}

func (r *Router) embeddings(c *gin.Context) {
	var wireReq embeddingsRequest
	if err := c.ShouldBindJSON(&wireReq); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request format")
		return
	}

	inputs, err := parseEmbeddingsInput(wireReq.Input)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	resp := embeddingsResponse{Object: "list", Model: wireReq.Model}
	for i, text := range inputs {
		vec, err := r.relay.Embeddings(c.Request.Context(), text)
		if err != nil {
			r.writeRelayError(c, err)
			return
		}
		resp.Data = append(resp.Data, embeddingData{
			Object:    "embedding",
			Index:     i,
			Embedding: vec,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (r *Router) routerStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategy":         r.relay.StrategyName(),
		"total_cost_usd":   r.relay.TotalCost(),
		"cost_by_provider": r.relay.CostByProvider(),
		"providers":        r.relay.Stats(),
	})
}

func (r *Router) routerProviders(c *gin.Context) {
	stats := r.relay.Stats()
	health := r.relay.Health()

	providers := make([]gin.H, 0, len(stats))
	for _, id := range r.relay.Providers() {
		entry := gin.H{
			"id":      id,
			"healthy": health[id],
		}
		if s, ok := stats[id]; ok {
			entry["stats"] = s
		}
		providers = append(providers, entry)
	}

	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

func (r *Router) healthCheck(c *gin.Context) {
	checks := gin.H{
		"api": "ok",
	}
	overallOK := true

	healthy := 0
	health := r.relay.Health()
	for _, ok := range health {
		if ok {
			healthy++
		}
	}
	checks["providers"] = gin.H{"healthy": healthy, "total": len(health)}
	if len(health) > 0 && healthy == 0 {
		overallOK = false
	}

	if r.dbManager != nil {
		if err := r.dbManager.Health(c.Request.Context()); err != nil {
			checks["db"] = gin.H{"ok": false, "error": err.Error()}
			overallOK = false
		} else {
			checks["db"] = gin.H{"ok": true}
		}
	}

	if r.processor != nil {
		ph := r.processor.Health()
		checks["processor"] = ph
		if !ph.IsRunning {
			overallOK = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "llm-relay",
		"checks":    checks,
	})
}

// liveness probe: process is up and serving HTTP
func (r *Router) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// readiness probe: at least one provider can take traffic
func (r *Router) readiness(c *gin.Context) {
	checks := gin.H{}
	ready := true

	healthy := 0
	health := r.relay.Health()
	for _, ok := range health {
		if ok {
			healthy++
		}
	}
	checks["providers"] = gin.H{"healthy": healthy, "total": len(health)}
	if len(health) > 0 && healthy == 0 {
		ready = false
	}

	if r.dbManager != nil {
		if err := r.dbManager.Health(c.Request.Context()); err != nil {
			checks["db"] = gin.H{"ok": false, "error": err.Error()}
			ready = false
		} else {
			checks["db"] = gin.H{"ok": true}
		}
	}

	if r.processor != nil {
		ph := r.processor.Health()
		checks["processor"] = ph
		if !ph.IsRunning {
			ready = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// writeRelayError converts relay failures into OpenAI-style error bodies.
func (r *Router) writeRelayError(c *gin.Context, err error) {
	logrus.WithError(err).WithField("request_id", c.GetString("request_id")).
		Error("Relay request failed")

	var rateLimited *llm.RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfterSecs > 0 {
		c.Header("Retry-After", strconv.Itoa(rateLimited.RetryAfterSecs))
	}

	switch {
	case errors.Is(err, context.Canceled):
		// Client went away; 499 in the nginx tradition.
		c.Status(499)
		c.Abort()
	case errors.Is(err, llm.ErrBudgetExceeded):
		writeError(c, http.StatusTooManyRequests, "insufficient_quota", err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "timeout_error", err.Error())
	case errors.Is(err, llm.ErrEmbeddingNotSupported),
		errors.Is(err, llm.ErrStreamingNotSupported):
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, llm.ErrNoProvidersAvailable), errors.Is(err, llm.ErrNotConfigured):
		writeError(c, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	case errors.Is(err, llm.ErrAllProvidersFailed):
		writeError(c, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "server_error", "Failed to process request")
	}
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, errorResponse{Error: errorBody{
		Message: message,
		Type:    errType,
	}})
}
