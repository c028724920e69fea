package llm

import (
	"encoding/json"
	"fmt"
)

// Core chat entities independent of frameworks and vendors

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImageURL ContentPartType = "image_url"
)

// ContentPart is one element of a multimodal message body. The router never
// interprets parts; adapters flatten or map them to their vendor format.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

type ChatMessage struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Name    string        `json:"name,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the message body as plain text, flattening multimodal parts.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == ContentPartText {
			out += p.Text
		}
	}
	if out == "" {
		return m.Content
	}
	return out
}

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ChatRequest struct {
	Messages     []ChatMessage    `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
	MaxTokens    *int             `json:"max_tokens,omitempty"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// Validate checks the request invariants. Temperature clamping to a vendor's
// supported range happens at the adapter boundary, not here.
func (r *ChatRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("chat request is nil")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("chat request must contain at least one message")
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d has invalid role %q", i, msg.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return fmt.Errorf("temperature %.2f out of range [0.0, 2.0]", *r.Temperature)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", *r.MaxTokens)
	}
	return nil
}

// Clone returns a deep enough copy that an adapter can mutate (inject a system
// prompt, rewrite messages) without touching the caller's request.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = append([]ChatMessage(nil), r.Messages...)
	out.Tools = append([]ToolDefinition(nil), r.Tools...)
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	if r.MaxTokens != nil {
		m := *r.MaxTokens
		out.MaxTokens = &m
	}
	return &out
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	Model     string     `json:"model"`
	Provider  string     `json:"provider"`
	Usage     TokenUsage `json:"usage"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CostUSD   float64    `json:"cost_usd"`
	LatencyMs int64      `json:"latency_ms"`
}

// ChatChunk is one increment of a streamed response. Consumers concatenate
// DeltaContent in arrival order. Provider and Model identify the producing
// provider; a change of Provider mid-stream marks a failover restart and all
// previously forwarded content must be discarded by the caller.
type ChatChunk struct {
	DeltaContent string      `json:"delta_content"`
	IsFinal      bool        `json:"is_final"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	Provider     string      `json:"provider,omitempty"`
	Model        string      `json:"model,omitempty"`
}

// ProviderPricing is published per-1k-token pricing. Providers without
// published pricing report nil and contribute zero to cost accounting.
type ProviderPricing struct {
	InputCostPer1K  float64 `json:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k"`
}

// TotalPer1K is the combined per-1k rate used for cost-based ordering.
func (p ProviderPricing) TotalPer1K() float64 {
	return p.InputCostPer1K + p.OutputCostPer1K
}

// Cost computes the USD cost of a completed request under this pricing.
func (p ProviderPricing) Cost(usage TokenUsage) float64 {
	return float64(usage.PromptTokens)/1000.0*p.InputCostPer1K +
		float64(usage.CompletionTokens)/1000.0*p.OutputCostPer1K
}
