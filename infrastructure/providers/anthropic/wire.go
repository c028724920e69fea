package anthropic

import (
	"encoding/json"
	"strings"

	"llm-relay/domain/llm"
)

// Wire types for the Anthropic Messages API.

type msgImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type msgContentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *msgImageSource `json:"source,omitempty"`

	// tool_use fields, present on responses only.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type msgMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type msgTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type msgRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Messages    []msgMessage `json:"messages"`
	System      string       `json:"system,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []msgTool    `json:"tools,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type msgUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type msgResponse struct {
	ID         string            `json:"id"`
	Model      string            `json:"model"`
	Content    []msgContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      msgUsage          `json:"usage"`
}

type msgErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream events. Every SSE payload carries its own "type" discriminator, so
// the parser switches on the payload instead of tracking "event:" lines.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string   `json:"model"`
		Usage msgUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *msgUsage `json:"usage,omitempty"`
}

// splitSystem separates system instruction from the conversation. Anthropic
// takes the system prompt as a top-level field, so the request's SystemPrompt
// and any leading system messages are folded into one string.
func splitSystem(req *llm.ChatRequest) (string, []msgMessage) {
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	msgs := make([]msgMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		msgs = append(msgs, toMsgMessage(m))
	}
	return strings.Join(system, "\n\n"), msgs
}

func toMsgMessage(m llm.ChatMessage) msgMessage {
	w := msgMessage{Role: string(m.Role)}
	if len(m.Parts) == 0 {
		w.Content = m.Content
		return w
	}
	blocks := make([]msgContentBlock, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case llm.ContentPartImageURL:
			blocks = append(blocks, msgContentBlock{Type: "image", Source: &msgImageSource{Type: "url", URL: p.ImageURL}})
		default:
			blocks = append(blocks, msgContentBlock{Type: "text", Text: p.Text})
		}
	}
	w.Content = blocks
	return w
}

func buildTools(defs []llm.ToolDefinition) []msgTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]msgTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, msgTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

// flattenContent joins the text blocks of a response and collects tool calls.
func flattenContent(blocks []msgContentBlock) (string, []llm.ToolCall) {
	var text strings.Builder
	var calls []llm.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			calls = append(calls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}
	return text.String(), calls
}

func toUsage(u msgUsage) llm.TokenUsage {
	return llm.TokenUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}
