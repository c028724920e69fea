package llm

import "context"

// StreamHandler is the callback invoked for every streamed chunk. Returning a
// non-nil error aborts the stream; the abort is caller-initiated and is never
// retried against another provider.
type StreamHandler func(chunk ChatChunk) error

// Provider is the contract every vendor adapter implements to participate in
// routing. Implementations must be safe for concurrent callers.
type Provider interface {
	// ID is the unique registry key for this provider instance.
	ID() string

	// Name is the human-readable vendor name (e.g. "openai", "anthropic").
	Name() string

	// Model is the model identifier this instance serves.
	Model() string

	// HealthCheck is a best-effort liveness probe. It never panics and
	// returns false on any failure.
	HealthCheck(ctx context.Context) bool

	// Pricing returns published per-1k-token pricing, or nil when the
	// provider has none. Unpriced providers are never excluded from routing.
	Pricing() *ProviderPricing

	// Chat performs a single blocking round trip.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChat delivers the response incrementally through onChunk,
	// terminated by a final chunk or an error.
	StreamChat(ctx context.Context, req *ChatRequest, onChunk StreamHandler) error

	// Embeddings returns an embedding vector for the text, or
	// EmbeddingNotSupportedError.
	Embeddings(ctx context.Context, text string) ([]float32, error)

	// Capability flags, consulted before dispatch so unsupported operations
	// are never called.
	SupportsStreaming() bool
	SupportsEmbeddings() bool
}
