// Package openaicompat adapts any OpenAI-compatible chat-completions endpoint
// (OpenAI itself, OpenRouter, Groq, Ollama, vLLM) to the llm.Provider port.
package openaicompat

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
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
)

// Config describes one OpenAI-compatible endpoint instance.
type Config struct {
	// ID is the registry key the router addresses this provider by.
	ID string
	// Name is the vendor label ("openai", "openrouter", "groq").
	Name string
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// Model is the chat model this instance serves.
	Model string
	// EmbeddingModel enables the embeddings endpoint when non-empty.
	EmbeddingModel string
	// Tokens supplies the bearer credential per call.
	Tokens auth.TokenSource
	// Pricing is the published per-1k rate, nil when unknown.
	Pricing *llm.ProviderPricing
	// MaxRetries bounds in-adapter attempts for transport and 5xx
	// failures. Rate limits and 4xx errors are never retried here.
	MaxRetries int
	// Timeout caps a single HTTP exchange. The router's per-attempt
	// deadline still applies on top through the request context.
	Timeout time.Duration
	// RefererURL and AppName populate OpenRouter attribution headers
	// when set.
	RefererURL string
	AppName    string
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
	if cfg.BaseURL == "" {
		return nil, &llm.NotConfiguredError{Provider: cfg.ID}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", cfg.ID)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("provider %s: token source is required", cfg.ID)
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
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
		DisableCompression:    false,
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
func (p *Provider) Name() string  { return p.cfg.Name }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Pricing() *llm.ProviderPricing {
	if p.cfg.Pricing == nil {
		return nil
	}
	pr := *p.cfg.Pricing
	return &pr
}

func (p *Provider) SupportsStreaming() bool  { return true }
func (p *Provider) SupportsEmbeddings() bool { return p.cfg.EmbeddingModel != "" }

// HealthCheck probes the models listing endpoint. Any response the vendor
// serves with a 2xx counts as healthy; everything else, including a missing
// credential, does not.
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
	body := apiChatRequest{
		Model:       p.cfg.Model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       buildTools(req.Tools),
		Stream:      false,
	}
	jsonData, err := json.Marshal(body)
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

		resp, err := p.postJSON(ctx, "/chat/completions", jsonData)
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

		var out apiChatResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: fmt.Sprintf("decode response: %v", err)}
		}
		if len(out.Choices) == 0 {
			return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: "response contains no choices"}
		}

		choice := out.Choices[0]
		return &llm.ChatResponse{
			Content:   choice.Message.Content,
			Model:     out.Model,
			Usage:     toUsage(out.Usage),
			ToolCalls: toToolCalls(choice.Message.ToolCalls),
		}, nil
	}

	return nil, fmt.Errorf("api call failed after %d attempts: %w", p.cfg.MaxRetries, lastErr)
}

// StreamChat performs a single streaming exchange. A delta chunk is forwarded
// per SSE frame; the final chunk carries usage when the vendor sends it. There
// is no in-adapter retry for streams, restarts belong to the router.
func (p *Provider) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamHandler) error {
	body := apiChatRequest{
		Model:         p.cfg.Model,
		Messages:      buildMessages(req),
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Tools:         buildTools(req.Tools),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	resp, err := p.postJSON(ctx, "/chat/completions", jsonData)
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

	var usage *llm.TokenUsage
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Stream ended without the [DONE] sentinel: no final
				// chunk is emitted and the router treats the attempt
				// as an incomplete response.
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
		if bytes.Equal(payload, []byte("[DONE]")) {
			return onChunk(llm.ChatChunk{IsFinal: true, Usage: usage})
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return &llm.InvalidResponseError{Provider: p.cfg.ID, Message: fmt.Sprintf("decode chunk: %v", err)}
		}
		if chunk.Usage != nil {
			u := toUsage(chunk.Usage)
			usage = &u
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(llm.ChatChunk{DeltaContent: chunk.Choices[0].Delta.Content}); err != nil {
			return err
		}
	}
}

func (p *Provider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	if p.cfg.EmbeddingModel == "" {
		return nil, &llm.EmbeddingNotSupportedError{Provider: p.cfg.ID}
	}

	jsonData, err := json.Marshal(apiEmbeddingsRequest{
		Model: p.cfg.EmbeddingModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := p.postJSON(ctx, "/embeddings", jsonData)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, &llm.HTTPError{Provider: p.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, &llm.HTTPError{Provider: p.cfg.ID, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp, raw)
	}

	var out apiEmbeddingsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, &llm.InvalidResponseError{Provider: p.cfg.ID, Message: "response contains no embedding"}
	}
	return out.Data[0].Embedding, nil
}

// postJSON issues one POST. The caller owns the response body.
func (p *Provider) postJSON(ctx context.Context, path string, jsonData []byte) (*http.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(jsonData))
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
	hreq.Header.Set("Authorization", "Bearer "+token)
	if p.cfg.RefererURL != "" {
		hreq.Header.Set("HTTP-Referer", p.cfg.RefererURL)
	}
	if p.cfg.AppName != "" {
		hreq.Header.Set("X-Title", p.cfg.AppName)
	}
	return nil
}

// statusError maps a non-2xx response into the provider error taxonomy.
func (p *Provider) statusError(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
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

// backoff sleeps 1s, 2s, 4s... plus up to 250ms of jitter before a retry.
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
