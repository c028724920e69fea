package openaicompat

import (
	"encoding/json"

	"llm-relay/domain/llm"
)

// Wire types for the OpenAI chat-completions surface. Kept separate from the
// domain entities so vendor quirks never leak past this package.

type wireImageURL struct {
	URL string `json:"url"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type apiChatRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Tools         []wireTool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type apiChatResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []apiChatChoice `json:"choices"`
	Usage   *apiUsage       `json:"usage"`
}

type apiStreamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type apiStreamChunk struct {
	Model   string            `json:"model"`
	Choices []apiStreamChoice `json:"choices"`
	Usage   *apiUsage         `json:"usage"`
}

type apiEmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// buildMessages converts domain messages to wire form, hoisting the request's
// system prompt into a leading system message when one is present.
func buildMessages(req *llm.ChatRequest) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, wireMessage{Role: string(llm.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out = append(out, toWireMessage(m))
	}
	return out
}

func toWireMessage(m llm.ChatMessage) wireMessage {
	w := wireMessage{Role: string(m.Role), Name: m.Name}
	if len(m.Parts) == 0 {
		w.Content = m.Content
		return w
	}
	parts := make([]wireContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case llm.ContentPartImageURL:
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL}})
		default:
			parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
		}
	}
	w.Content = parts
	return w
}

func buildTools(defs []llm.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func toToolCalls(calls []wireToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, llm.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
		})
	}
	return out
}

func toUsage(u *apiUsage) llm.TokenUsage {
	if u == nil {
		return llm.TokenUsage{}
	}
	return llm.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
