package httpiface

import (
	"encoding/json"
	"fmt"
	"time"

	"llm-relay/domain/llm"
)

// OpenAI-compatible wire surface. The relay decides which provider and model
// serve a request, so the inbound model field is advisory; responses carry
// the model that actually answered plus relay extensions (provider,
// cost_usd).

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider,omitempty"`
	Choices  []wireChoice `json:"choices"`
	Usage    *wireUsage   `json:"usage,omitempty"`
	CostUSD  float64      `json:"cost_usd,omitempty"`
}

type wireChoice struct {
	Index        int              `json:"index"`
	Message      *wireRespMessage `json:"message,omitempty"`
	Delta        *wireDelta       `json:"delta,omitempty"`
	FinishReason *string          `json:"finish_reason"`
}

type wireRespMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type embeddingsResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// toDomainRequest maps the OpenAI wire request onto the relay's chat request.
// String content stays a plain message; array content becomes parts.
func toDomainRequest(req *chatCompletionRequest) (*llm.ChatRequest, error) {
	out := &llm.ChatRequest{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	for i, m := range req.Messages {
		msg := llm.ChatMessage{Role: llm.Role(m.Role), Name: m.Name}

		if len(m.Content) > 0 {
			var text string
			if err := json.Unmarshal(m.Content, &text); err == nil {
				msg.Content = text
			} else {
				var parts []wireContentPart
				if err := json.Unmarshal(m.Content, &parts); err != nil {
					return nil, fmt.Errorf("message %d has unsupported content shape", i)
				}
				for _, p := range parts {
					part := llm.ContentPart{Type: llm.ContentPartType(p.Type), Text: p.Text}
					if p.ImageURL != nil {
						part.ImageURL = p.ImageURL.URL
					}
					msg.Parts = append(msg.Parts, part)
				}
			}
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, llm.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	return out, nil
}

func toWireResponse(id string, resp *llm.ChatResponse) chatCompletionResponse {
	finish := "stop"
	if len(resp.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	msg := &wireRespMessage{
		Role:    "assistant",
		Content: resp.Content,
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireToolCallFunc{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}

	return chatCompletionResponse{
		ID:       id,
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    resp.Model,
		Provider: resp.Provider,
		Choices: []wireChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: &finish,
		}},
		Usage: &wireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CostUSD: resp.CostUSD,
	}
}

func toWireChunk(id string, chunk llm.ChatChunk) chatCompletionResponse {
	out := chatCompletionResponse{
		ID:       id,
		Object:   "chat.completion.chunk",
		Created:  time.Now().Unix(),
		Model:    chunk.Model,
		Provider: chunk.Provider,
	}

	choice := wireChoice{Index: 0, Delta: &wireDelta{Content: chunk.DeltaContent}}
	if chunk.IsFinal {
		finish := "stop"
		choice.FinishReason = &finish
		choice.Delta = &wireDelta{}
		if chunk.Usage != nil {
			out.Usage = &wireUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	out.Choices = []wireChoice{choice}
	return out
}

// parseEmbeddingsInput accepts both the single-string and string-array forms.
func parseEmbeddingsInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("input is required")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, fmt.Errorf("input must not be empty")
		}
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("input must be a string or an array of strings")
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("input must not be empty")
	}
	return many, nil
}
