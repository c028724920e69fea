package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-relay/domain/llm"
)

type stubProvider struct {
	id        string
	chatErr   error
	streamErr error
	embedErr  error
	calls     atomic.Int64
}

func (s *stubProvider) ID() string                           { return s.id }
func (s *stubProvider) Name() string                         { return "stub" }
func (s *stubProvider) Model() string                        { return "stub-model" }
func (s *stubProvider) HealthCheck(ctx context.Context) bool { return true }
func (s *stubProvider) Pricing() *llm.ProviderPricing        { return nil }
func (s *stubProvider) SupportsStreaming() bool              { return true }
func (s *stubProvider) SupportsEmbeddings() bool             { return true }

func (s *stubProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.calls.Add(1)
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (s *stubProvider) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	s.calls.Add(1)
	if s.streamErr != nil {
		return s.streamErr
	}
	return onChunk(llm.ChatChunk{DeltaContent: "ok", IsFinal: true})
}

func (s *stubProvider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return []float32{0.1}, nil
}

func chatReq() *llm.ChatRequest {
	return &llm.ChatRequest{Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}}}
}

func TestWithBreaker_DisabledIsPassthrough(t *testing.T) {
	stub := &stubProvider{id: "a"}
	wrapped := WithBreaker(stub, BreakerConfig{Enabled: false})
	assert.Same(t, stub, wrapped)
}

func TestWithBreaker_PreservesIdentity(t *testing.T) {
	wrapped := WithBreaker(&stubProvider{id: "a"}, DefaultBreakerConfig())
	assert.Equal(t, "a", wrapped.ID())
	assert.Equal(t, "stub", wrapped.Name())
	assert.Equal(t, "stub-model", wrapped.Model())
	assert.True(t, wrapped.SupportsStreaming())
	assert.True(t, wrapped.SupportsEmbeddings())
	assert.True(t, wrapped.HealthCheck(context.Background()))
}

func TestWithBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	boom := &llm.APIError{Provider: "a", Status: 500, Message: "boom"}
	stub := &stubProvider{id: "a", chatErr: boom}
	wrapped := WithBreaker(stub, BreakerConfig{Enabled: true, FailureThreshold: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := wrapped.Chat(context.Background(), chatReq())
		require.Error(t, err)
		assert.True(t, errors.Is(err, llm.ErrAPI), "closed breaker passes the provider error through")
	}
	assert.Equal(t, int64(3), stub.calls.Load())

	// Circuit is open now: calls fail fast without reaching the provider.
	_, err := wrapped.Chat(context.Background(), chatReq())
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrHTTP), "open breaker surfaces as a transport failure")
	assert.Equal(t, int64(3), stub.calls.Load())

	// Streams and embeddings share the same circuit.
	err = wrapped.StreamChat(context.Background(), chatReq(), func(llm.ChatChunk) error { return nil })
	assert.True(t, errors.Is(err, llm.ErrHTTP))
	_, err = wrapped.Embeddings(context.Background(), "hi")
	assert.True(t, errors.Is(err, llm.ErrHTTP))
	assert.Equal(t, int64(3), stub.calls.Load())
}

func TestWithBreaker_RecoversAfterTimeout(t *testing.T) {
	boom := &llm.APIError{Provider: "a", Status: 500, Message: "boom"}
	stub := &stubProvider{id: "a", chatErr: boom}
	wrapped := WithBreaker(stub, BreakerConfig{Enabled: true, FailureThreshold: 2, MaxRequests: 1, Timeout: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_, err := wrapped.Chat(context.Background(), chatReq())
		require.Error(t, err)
	}
	_, err := wrapped.Chat(context.Background(), chatReq())
	assert.True(t, errors.Is(err, llm.ErrHTTP), "circuit open")

	stub.chatErr = nil
	time.Sleep(80 * time.Millisecond)

	// Half-open lets one probe through; its success closes the circuit.
	resp, err := wrapped.Chat(context.Background(), chatReq())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	resp, err = wrapped.Chat(context.Background(), chatReq())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestWithBreaker_CallerAbortsDoNotTrip(t *testing.T) {
	stub := &stubProvider{id: "a", chatErr: context.Canceled}
	wrapped := WithBreaker(stub, BreakerConfig{Enabled: true, FailureThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, err := wrapped.Chat(context.Background(), chatReq())
		require.ErrorIs(t, err, context.Canceled)
	}

	// All five reached the provider: cancellations never open the circuit.
	assert.Equal(t, int64(5), stub.calls.Load())

	stub.chatErr = nil
	resp, err := wrapped.Chat(context.Background(), chatReq())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestWithBreaker_SuccessfulStreamPassesChunks(t *testing.T) {
	stub := &stubProvider{id: "a"}
	wrapped := WithBreaker(stub, DefaultBreakerConfig())

	var got []llm.ChatChunk
	err := wrapped.StreamChat(context.Background(), chatReq(), func(c llm.ChatChunk) error {
		got = append(got, c)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsFinal)
}
