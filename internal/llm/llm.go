// ABOUTME: LLM gateway: a single system+user prompt completion capability
// ABOUTME: Backed by any OpenAI-compatible chat completions endpoint; no retries of its own

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("llm not configured")

// ErrEmptyResponse is returned when the provider answers without any choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Completer generates text from a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Disabled fails every completion. Used when no API key is configured so the
// automation components degrade to no-ops.
type Disabled struct{}

// Complete returns ErrNotConfigured.
func (Disabled) Complete(ctx context.Context, system, user string) (string, error) {
	return "", ErrNotConfigured
}

// OpenAIClient completes prompts through the chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIClient creates a client from the llm config section.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Complete sends one system and one user message and returns the trimmed reply.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// RateLimited spaces calls to an upstream completer.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
func NewRateLimited(next Completer, perMinute int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}
	return r.next.Complete(ctx, system, user)
}

// Instrumented records metrics for each call under a component label.
type Instrumented struct {
	next      Completer
	component string
}

// WithMetrics wraps next so calls are counted and timed as component.
func WithMetrics(next Completer, component string) *Instrumented {
	return &Instrumented{next: next, component: component}
}

// Complete delegates and records the outcome.
func (i *Instrumented) Complete(ctx context.Context, system, user string) (string, error) {
	started := time.Now()
	out, err := i.next.Complete(ctx, system, user)
	metrics.RecordLLM(i.component, started, err)
	return out, err
}

// New builds the configured completer. Without an API key or base URL the
// result is Disabled.
func New(cfg config.LLMConfig, logger *slog.Logger) Completer {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		logger.Warn("llm api_key not set, automation disabled")
		return Disabled{}
	}
	var c Completer = NewOpenAIClient(cfg)
	if cfg.RequestsPerMinute > 0 {
		c = NewRateLimited(c, cfg.RequestsPerMinute)
	}
	logger.Info("llm configured", "model", cfg.Model, "base_url", cfg.BaseURL)
	return c
}
