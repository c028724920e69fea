package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-relay/domain/llm"
	"llm-relay/infrastructure/auth"
)

func testConfig(baseURL string) Config {
	return Config{
		ID:      "anthropic-sonnet",
		BaseURL: baseURL,
		Model:   "claude-sonnet-4-0",
		Tokens:  auth.Static("test-api-key"),
	}
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "Hello"}},
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(Config{ID: "a", Model: "claude-sonnet-4-0", Tokens: auth.Static("k")})
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, p.cfg.BaseURL)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsStreaming())
	assert.False(t, p.SupportsEmbeddings())

	_, err = New(Config{Model: "m", Tokens: auth.Static("k")})
	assert.Error(t, err, "missing id")

	_, err = New(Config{ID: "a", Tokens: auth.Static("k")})
	assert.Error(t, err, "missing model")

	_, err = New(Config{ID: "a", Model: "m"})
	assert.Error(t, err, "missing token source")
}

func TestProvider_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var apiReq msgRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		assert.Equal(t, "claude-sonnet-4-0", apiReq.Model)
		assert.Equal(t, defaultMaxTokens, apiReq.MaxTokens)
		assert.Equal(t, "Be terse.\n\nAnswer in French.", apiReq.System, "system prompt and system messages fold together")
		require.Len(t, apiReq.Messages, 1, "system messages never reach the messages array")
		assert.Equal(t, "user", apiReq.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"model": "claude-sonnet-4-0",
			"content": [{"type": "text", "text": "Bonjour!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 25, "output_tokens": 10}
		}`))
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	req := &llm.ChatRequest{
		SystemPrompt: "Be terse.",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "Answer in French."},
			{Role: llm.RoleUser, Content: "Hello"},
		},
	}

	resp, err := provider.Chat(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Bonjour!", resp.Content)
	assert.Equal(t, "claude-sonnet-4-0", resp.Model)
	assert.Equal(t, 25, resp.Usage.PromptTokens)
	assert.Equal(t, 10, resp.Usage.CompletionTokens)
	assert.Equal(t, 35, resp.Usage.TotalTokens, "total derived from input plus output")
}

func TestProvider_Chat_ClampsTemperature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var apiReq msgRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		require.NotNil(t, apiReq.Temperature)
		assert.InDelta(t, 1.0, *apiReq.Temperature, 1e-9)

		w.Write([]byte(`{"model": "claude-sonnet-4-0", "content": [{"type": "text", "text": "ok"}], "usage": {"input_tokens": 1, "output_tokens": 1}}`))
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	temp := 1.7
	req := chatRequest()
	req.Temperature = &temp

	_, err = provider.Chat(context.Background(), req)
	require.NoError(t, err)
}

func TestProvider_Chat_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var apiReq msgRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		require.Len(t, apiReq.Tools, 1)
		assert.Equal(t, "get_weather", apiReq.Tools[0].Name)
		assert.NotEmpty(t, apiReq.Tools[0].InputSchema)

		w.Write([]byte(`{
			"model": "claude-sonnet-4-0",
			"content": [
				{"type": "text", "text": "Checking the weather."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Oslo"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 30, "output_tokens": 12}
		}`))
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	req := chatRequest()
	req.Tools = []llm.ToolDefinition{{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object"}`),
	}}

	resp, err := provider.Chat(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Checking the weather.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(resp.ToolCalls[0].Arguments))
}

func TestProvider_Chat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantsIs error
		wantMsg string
	}{
		{
			name:    "401 parses the structured error message",
			status:  http.StatusUnauthorized,
			body:    `{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`,
			wantsIs: llm.ErrAuth,
			wantMsg: "invalid x-api-key",
		},
		{
			name:    "429 is rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"type": "error", "error": {"type": "rate_limit_error", "message": "too fast"}}`,
			wantsIs: llm.ErrRateLimited,
		},
		{
			name:    "400 is an api error",
			status:  http.StatusBadRequest,
			body:    `{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens required"}}`,
			wantsIs: llm.ErrAPI,
			wantMsg: "max_tokens required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider, err := New(testConfig(server.URL))
			require.NoError(t, err)

			_, err = provider.Chat(context.Background(), chatRequest())

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantsIs))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestProvider_StreamChat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var apiReq msgRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		assert.True(t, apiReq.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frames := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"model":"claude-sonnet-4-0","usage":{"input_tokens":25,"output_tokens":1}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there!"}}`,
			``,
			`event: message_delta`,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":15}}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, f := range frames {
			w.Write([]byte(f + "\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	var chunks []llm.ChatChunk
	err = provider.StreamChat(context.Background(), chatRequest(), func(chunk llm.ChatChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].DeltaContent)
	assert.Equal(t, " there!", chunks[1].DeltaContent)
	assert.True(t, chunks[2].IsFinal)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 25, chunks[2].Usage.PromptTokens)
	assert.Equal(t, 15, chunks[2].Usage.CompletionTokens)
	assert.Equal(t, 40, chunks[2].Usage.TotalTokens)
}

func TestProvider_StreamChat_TruncatedStreamOmitsFinalChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}` + "\n"))
		// Connection drops before message_stop.
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	var sawFinal bool
	err = provider.StreamChat(context.Background(), chatRequest(), func(chunk llm.ChatChunk) error {
		if chunk.IsFinal {
			sawFinal = true
		}
		return nil
	})

	require.NoError(t, err)
	assert.False(t, sawFinal)
}

func TestProvider_StreamChat_HandlerAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}` + "\n"))
		w.Write([]byte(`data: {"type":"message_stop"}` + "\n"))
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	abort := errors.New("caller gave up")
	err = provider.StreamChat(context.Background(), chatRequest(), func(chunk llm.ChatChunk) error {
		return abort
	})

	assert.ErrorIs(t, err, abort)
}

func TestProvider_Embeddings_Unsupported(t *testing.T) {
	provider, err := New(testConfig("http://localhost:1"))
	require.NoError(t, err)

	_, err = provider.Embeddings(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmbeddingNotSupported))

	var notSupported *llm.EmbeddingNotSupportedError
	require.True(t, errors.As(err, &notSupported))
	assert.Equal(t, "anthropic-sonnet", notSupported.Provider)
}

func TestProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	provider, err := New(testConfig(server.URL))
	require.NoError(t, err)

	assert.True(t, provider.HealthCheck(context.Background()))
}
