// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// port. The API has no embeddings endpoint, so the adapter reports embeddings
// as unsupported.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
	"llm-relay/infrastructure/auth"
)

const (
	apiVersion = "2023-06-01"

	defaultBaseURL    = "https://api.anthropic.com/v1"
	defaultMaxTokens  = 4096
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
)

type Config struct {
	// ID is the registry key the router addresses this provider by.
	ID string
	// BaseURL defaults to the public Anthropic endpoint.
	BaseURL string
	// Model is the Claude model this instance serves.
	Model string
	// Tokens supplies the x-api-key credential per call.
	Tokens auth.TokenSource
	// Pricing is the published per-1k rate, nil when unknown.
	Pricing *llm.ProviderPricing
	// MaxRetries bounds in-adapter attempts for transport and 5xx
	// failures.
	MaxRetries int
	// Timeout caps a single HTTP exchange.
	Timeout time.Duration
}

type Provider struct {
	cfg        Config
	httpClient *http.Client
	rng        *rand.Rand
	rngMutex   sync.Mutex
}

func New(cfg Config) (*Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", cfg.ID)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("provider %s: token source is required", cfg.ID)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	transport := &http.Transport{
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (p *Provider) ID() string    { return p.cfg.ID }
func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Pricing() *llm.ProviderPricing {
	if p.cfg.Pricing == nil {
		return nil
	}
	pr := *p.cfg.Pricing
	return &pr
}

func (p *Provider) SupportsStreaming() bool  { return true }
func (p *Provider) SupportsEmbeddings() bool { return false }

func (p *Provider) HealthCheck(ctx context.Context) bool {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if err := p.setHeaders(ctx, hreq); err != nil {
		return false
	}

	resp, err := p.httpClient.Do(hreq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	jsonData, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := p.postJSON(ctx, jsonData)
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			lastErr = &llm.HTTPError{Provider: p.cfg.ID, Err: err}
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			resp.Body.Close()
			if isContextErr(err) {
				return nil, err
			}
			lastErr = &llm.HTTPError{Provider: p.cfg.ID, Err: err}
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = p.statusError(resp, raw)
			logrus.WithFields(logrus.Fields{
				"provider": p.cfg.ID,
				"status":   resp.StatusCode,
				"attempt":  attempt + 1,
			}).Warn("Retryable API error")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, p.statusError(resp, raw)
		}

		var out msgResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: fmt.Sprintf("decode response: %v", err)}
		}
		if len(out.Content) == 0 {
			return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: "response contains no content blocks"}
		}

		text, calls := flattenContent(out.Content)
		return &llm.ChatResponse{
			Content:   text,
			Model:     out.Model,
			Usage:     toUsage(out.Usage),
			ToolCalls: calls,
		}, nil
	}

	return nil, fmt.Errorf("api call failed after %d attempts: %w", p.cfg.MaxRetries, lastErr)
}

// StreamChat consumes the event-typed SSE stream. Text deltas are forwarded
// as they arrive; the final chunk fires on message_stop with usage
// accumulated from message_start (input) and message_delta (output).
func (p *Provider) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	jsonData, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	resp, err := p.postJSON(ctx, jsonData)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return &llm.HTTPError{Provider: p.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return p.statusError(resp, raw)
	}

	var usage llm.TokenUsage
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Ended without message_stop: no final chunk, the
				// router treats the attempt as incomplete.
				return nil
			}
			if isContextErr(err) {
				return err
			}
			return &llm.HTTPError{Provider: p.cfg.ID, Err: fmt.Errorf("stream read: %w", err)}
		}
		if len(line) < 6 || string(line[:6]) != "data: " {
			continue
		}
		payload := bytes.TrimSpace(line[6:])

		var ev streamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return &llm.InvalidResponseError{Provider: p.cfg.ID, Message: fmt.Sprintf("decode event: %v", err)}
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			if err := onChunk(llm.ChatChunk{DeltaContent: ev.Delta.Text}); err != nil {
				return err
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			u := usage
			return onChunk(llm.ChatChunk{IsFinal: true, Usage: &u})
		case "error":
			return &llm.APIError{Provider: p.cfg.ID, Status: http.StatusOK, Message: string(payload)}
		}
	}
}

func (p *Provider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, &llm.EmbeddingNotSupportedError{Provider: p.cfg.ID}
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) msgRequest {
	system, messages := splitSystem(req)

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	// The Messages API accepts temperature in [0, 1]; clamp rather than
	// reject values the domain allows.
	temperature := req.Temperature
	if temperature != nil && *temperature > 1.0 {
		clamped := 1.0
		temperature = &clamped
	}

	return msgRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      system,
		Temperature: temperature,
		Tools:       buildTools(req.Tools),
		Stream:      stream,
	}
}

func (p *Provider) postJSON(ctx context.Context, jsonData []byte) (*http.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if err := p.setHeaders(ctx, hreq); err != nil {
		return nil, err
	}
	return p.httpClient.Do(hreq)
}

func (p *Provider) setHeaders(ctx context.Context, hreq *http.Request) error {
	token, err := p.cfg.Tokens.Token(ctx)
	if err != nil {
		return &llm.AuthError{Provider: p.cfg.ID, Message: fmt.Sprintf("no credential available: %v", err)}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("x-api-key", token)
	hreq.Header.Set("anthropic-version", apiVersion)
	return nil
}

// statusError maps a non-2xx response into the provider error taxonomy,
// preferring the structured message the API nests under "error".
func (p *Provider) statusError(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var parsed msgErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &llm.AuthError{Provider: p.cfg.ID, Message: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = secs
			}
		}
		return &llm.RateLimitedError{Provider: p.cfg.ID, RetryAfterSecs: retryAfter}
	default:
		return &llm.APIError{Provider: p.cfg.ID, Status: resp.StatusCode, Message: msg}
	}
}

func (p *Provider) backoff(ctx context.Context, attempt int) error {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	p.rngMutex.Lock()
	jitter := time.Duration(p.rng.Intn(250)) * time.Millisecond
	p.rngMutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"provider": p.cfg.ID,
		"attempt":  attempt + 1,
		"backoff":  base + jitter,
	}).Info("Retrying API call after backoff")

	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
