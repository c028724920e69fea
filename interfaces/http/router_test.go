package httpiface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
	"llm-relay/infrastructure/telemetry"
)

// MockRelayService mocks the relay calls and serves fixed snapshots for the
// read-only accessors.
type MockRelayService struct {
	mock.Mock

	stats     map[string]routing.ProviderStats
	health    map[string]bool
	providers []string
	totalCost float64
	costs     map[string]float64
	strategy  string
}

func newMockRelay() *MockRelayService {
	return &MockRelayService{
		stats: map[string]routing.ProviderStats{
			"openai": {ProviderID: "openai", TotalRequests: 5, Successes: 4, Failures: 1, IsHealthy: true},
		},
		health:    map[string]bool{"openai": true},
		providers: []string{"openai"},
		totalCost: 0.0125,
		costs:     map[string]float64{"openai": 0.0125},
		strategy:  "priority",
	}
}

func (m *MockRelayService) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.ChatResponse), args.Error(1)
}

func (m *MockRelayService) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	args := m.Called(req, onChunk)
	return args.Error(0)
}

func (m *MockRelayService) Embeddings(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockRelayService) Stats() map[string]routing.ProviderStats { return m.stats }
func (m *MockRelayService) TotalCost() float64                      { return m.totalCost }
func (m *MockRelayService) CostByProvider() map[string]float64      { return m.costs }
func (m *MockRelayService) Health() map[string]bool                 { return m.health }
func (m *MockRelayService) Providers() []string                     { return m.providers }
func (m *MockRelayService) StrategyName() string                    { return m.strategy }

func postJSON(engine http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestNewRouter(t *testing.T) {
	relay := newMockRelay()
	corsOrigins := []string{"https://example.com", "https://test.com"}

	router := NewRouter(relay, corsOrigins)

	assert.NotNil(t, router)
	assert.Equal(t, corsOrigins, router.corsOrigins)
}

func TestRouter_SetupRoutes(t *testing.T) {
	router := NewRouter(newMockRelay(), []string{"*"})
	engine := router.SetupRoutes()

	routes := engine.Routes()
	routePaths := make([]string, len(routes))
	for i, route := range routes {
		routePaths[i] = route.Path
	}

	assert.Contains(t, routePaths, "/live")
	assert.Contains(t, routePaths, "/ready")
	assert.Contains(t, routePaths, "/health")
	assert.Contains(t, routePaths, "/v1/chat/completions")
	assert.Contains(t, routePaths, "/v1/embeddings")
	assert.Contains(t, routePaths, "/v1/router/stats")
	assert.Contains(t, routePaths, "/v1/router/providers")
	assert.NotContains(t, routePaths, "/metrics")
}

func TestRouter_SetupRoutes_WithMetrics(t *testing.T) {
	m := telemetry.NewMetrics(telemetry.MetricsConfig{}, nil)
	m.SetProviderHealth("openai", true)
	router := NewRouter(newMockRelay(), []string{"*"}).WithMetrics(m)
	engine := router.SetupRoutes()

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "llm_relay_provider_health")
}

func TestRouter_chatCompletions_Success(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).Return(&llm.ChatResponse{
		Content:  "Hello there!",
		Model:    "gpt-4o-mini",
		Provider: "openai",
		Usage:    llm.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		CostUSD:  0.000123,
	}, nil)

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}]}`,
		map[string]string{"X-Request-ID": "550e8400-e29b-41d4-a716-446655440000"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "chatcmpl-550e8400-e29b-41d4-a716-446655440000", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, "openai", resp.Provider)
	assert.NotZero(t, resp.Created)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "Hello there!", resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Choices[0].FinishReason)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.000123, resp.CostUSD, 1e-9)

	relay.AssertExpectations(t)
}

func TestRouter_chatCompletions_PassesParameters(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	var captured *llm.ChatRequest
	relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(0).(*llm.ChatRequest)
		}).
		Return(&llm.ChatResponse{Content: "ok", Model: "m", Provider: "p"}, nil)

	w := postJSON(engine, "/v1/chat/completions", `{
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "Hello"}
		],
		"temperature": 0.2,
		"max_tokens": 64
	}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, llm.RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "Be terse.", captured.Messages[0].Content)
	assert.Equal(t, "Hello", captured.Messages[1].Content)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.2, *captured.Temperature, 1e-9)
	require.NotNil(t, captured.MaxTokens)
	assert.Equal(t, 64, *captured.MaxTokens)
}

func TestRouter_chatCompletions_InvalidJSON(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	w := postJSON(engine, "/v1/chat/completions", "invalid json", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
	assert.Equal(t, "Invalid request format", resp.Error.Message)
}

func TestRouter_chatCompletions_EmptyMessages(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	w := postJSON(engine, "/v1/chat/completions", `{"messages":[]}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "at least one message")
}

func TestRouter_chatCompletions_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "budget exceeded",
			err:        &llm.BudgetExceededError{Spent: 10.5, Budget: 10},
			wantStatus: http.StatusTooManyRequests,
			wantType:   "insufficient_quota",
		},
		{
			name:       "rate limited",
			err:        &llm.RateLimitedError{Provider: "openai", RetryAfterSecs: 30},
			wantStatus: http.StatusTooManyRequests,
			wantType:   "rate_limit_exceeded",
		},
		{
			name:       "timeout",
			err:        &llm.TimeoutError{Provider: "openai"},
			wantStatus: http.StatusGatewayTimeout,
			wantType:   "timeout_error",
		},
		{
			name:       "all providers failed",
			err:        &llm.AllProvidersFailedError{},
			wantStatus: http.StatusBadGateway,
			wantType:   "upstream_error",
		},
		{
			name:       "no providers available",
			err:        &llm.NoProvidersAvailableError{},
			wantStatus: http.StatusServiceUnavailable,
			wantType:   "service_unavailable",
		},
		{
			name:       "unexpected error",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantType:   "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newMockRelay()
			engine := NewRouter(relay, []string{"*"}).SetupRoutes()
			relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).Return(nil, tt.err)

			w := postJSON(engine, "/v1/chat/completions",
				`{"messages":[{"role":"user","content":"Hello"}]}`, nil)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Error.Type)

			relay.AssertExpectations(t)
		})
	}
}

func TestRouter_chatCompletions_RateLimitRetryAfterHeader(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()
	relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).
		Return(nil, &llm.RateLimitedError{Provider: "openai", RetryAfterSecs: 42})

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}]}`, nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestRouter_chatCompletions_Streaming(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("StreamChat", mock.AnythingOfType("*llm.ChatRequest"), mock.Anything).
		Run(func(args mock.Arguments) {
			handler := args.Get(1).(llm.StreamHandler)
			handler(llm.ChatChunk{DeltaContent: "Hello", Provider: "openai", Model: "gpt-4o-mini"})
			handler(llm.ChatChunk{DeltaContent: " there!", Provider: "openai", Model: "gpt-4o-mini"})
			handler(llm.ChatChunk{
				IsFinal:  true,
				Provider: "openai",
				Model:    "gpt-4o-mini",
				Usage:    &llm.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
			})
		}).
		Return(nil)

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}],"stream":true}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))

	body := w.Body.String()
	frames := parseSSEFrames(t, body)
	require.Len(t, frames, 3)

	assert.Equal(t, "chat.completion.chunk", frames[0].Object)
	require.Len(t, frames[0].Choices, 1)
	require.NotNil(t, frames[0].Choices[0].Delta)
	assert.Equal(t, "Hello", frames[0].Choices[0].Delta.Content)
	assert.Nil(t, frames[0].Choices[0].FinishReason)

	final := frames[2]
	require.Len(t, final.Choices, 1)
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "stop", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 20, final.Usage.TotalTokens)

	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	relay.AssertExpectations(t)
}

func TestRouter_chatCompletions_StreamingErrorBeforeFirstChunk(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("StreamChat", mock.AnythingOfType("*llm.ChatRequest"), mock.Anything).
		Return(&llm.AllProvidersFailedError{})

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}],"stream":true}`, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "upstream_error", resp.Error.Type)
}

// parseSSEFrames decodes every data: frame except the terminal [DONE].
func parseSSEFrames(t *testing.T, body string) []chatCompletionResponse {
	t.Helper()

	var frames []chatCompletionResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, "[DONE]") {
			continue
		}
		var frame chatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestRouter_embeddings_SingleString(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("Embeddings", "hello world").Return([]float32{0.1, 0.2, 0.3}, nil)

	w := postJSON(engine, "/v1/embeddings",
		`{"model":"text-embedding-3-small","input":"hello world"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp embeddingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	assert.Equal(t, "text-embedding-3-small", resp.Model)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "embedding", resp.Data[0].Object)
	assert.Equal(t, 0, resp.Data[0].Index)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, resp.Data[0].Embedding)

	relay.AssertExpectations(t)
}

func TestRouter_embeddings_ArrayInput(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("Embeddings", "first").Return([]float32{0.1}, nil)
	relay.On("Embeddings", "second").Return([]float32{0.2}, nil)

	w := postJSON(engine, "/v1/embeddings", `{"input":["first","second"]}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp embeddingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 0, resp.Data[0].Index)
	assert.Equal(t, 1, resp.Data[1].Index)
	assert.Equal(t, []float32{0.2}, resp.Data[1].Embedding)

	relay.AssertExpectations(t)
}

func TestRouter_embeddings_InvalidInput(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	tests := []struct {
		name string
		body string
	}{
		{"empty string", `{"input":""}`},
		{"empty array", `{"input":[]}`},
		{"wrong type", `{"input":42}`},
		{"missing", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(engine, "/v1/embeddings", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRouter_embeddings_NotSupported(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	relay.On("Embeddings", "hello").
		Return(nil, &llm.EmbeddingNotSupportedError{Provider: "anthropic"})

	w := postJSON(engine, "/v1/embeddings", `{"input":"hello"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
}

func TestRouter_routerStats(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/v1/router/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "priority", resp["strategy"])
	assert.InDelta(t, 0.0125, resp["total_cost_usd"].(float64), 1e-9)

	providers, ok := resp["providers"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, providers, "openai")
}

func TestRouter_routerProviders(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/v1/router/providers", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []struct {
			ID      string `json:"id"`
			Healthy bool   `json:"healthy"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "openai", resp.Providers[0].ID)
	assert.True(t, resp.Providers[0].Healthy)
}

func TestRouter_healthCheck(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "llm-relay", resp["service"])
	assert.NotEmpty(t, resp["timestamp"])

	checks, ok := resp["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", checks["api"])
}

func TestRouter_healthCheck_AllProvidersDown(t *testing.T) {
	relay := newMockRelay()
	relay.health = map[string]bool{"openai": false, "anthropic": false}
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

func TestRouter_liveness(t *testing.T) {
	engine := NewRouter(newMockRelay(), []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}

func TestRouter_readiness(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["status"])
}

func TestRouter_readiness_NoHealthyProviders(t *testing.T) {
	relay := newMockRelay()
	relay.health = map[string]bool{"openai": false}
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp["status"])
}

func TestRouter_corsMiddleware(t *testing.T) {
	corsOrigins := []string{"https://example.com", "https://test.com"}
	engine := NewRouter(newMockRelay(), corsOrigins).SetupRoutes()

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "https://example.com, https://test.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, X-Request-ID", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestRouter_corsMiddleware_OriginMatch(t *testing.T) {
	corsOrigins := []string{"https://example.com", "https://test.com"}
	engine := NewRouter(newMockRelay(), corsOrigins).SetupRoutes()

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin echoed", "https://example.com", "https://example.com"},
		{"unknown origin omitted", "https://evil.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRouter_corsMiddleware_OPTIONS(t *testing.T) {
	engine := NewRouter(newMockRelay(), []string{"*"}).SetupRoutes()

	req, _ := http.NewRequest("OPTIONS", "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_requestIDMiddleware_Generated(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()
	relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).
		Return(&llm.ChatResponse{Content: "ok", Model: "m", Provider: "p"}, nil)

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}]}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	requestID := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, requestID)
	_, err := uuid.Parse(requestID)
	assert.NoError(t, err)

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-"+requestID, resp.ID)
}

func TestRouter_requestIDMiddleware_Echoed(t *testing.T) {
	relay := newMockRelay()
	engine := NewRouter(relay, []string{"*"}).SetupRoutes()
	relay.On("Chat", mock.AnythingOfType("*llm.ChatRequest")).
		Return(&llm.ChatResponse{Content: "ok", Model: "m", Provider: "p"}, nil)

	w := postJSON(engine, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hello"}]}`,
		map[string]string{"X-Request-ID": "my-custom-id"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "my-custom-id", w.Header().Get("X-Request-ID"))
}
