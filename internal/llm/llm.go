// Package llm sends single-turn prompts to a hosted language model and
// returns the raw completion text with token usage. Providers are selected
// by configuration; callers only see Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrCompletionFailed = errors.New("completion failed")

type Request struct {
	Prompt          string
	Model           string
	MaxOutputTokens int
}

type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	Model        string `json:"model"`
}

type Response struct {
	Text  string
	Usage Usage
}

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// CompletionError wraps every provider-side failure. StatusCode is zero for
// transport and decoding errors.
type CompletionError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrCompletionFailed.Error(), e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

func (e *CompletionError) Is(target error) bool {
	return target == ErrCompletionFailed
}

func completionError(provider string, format string, args ...any) error {
	return &CompletionError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

func statusError(provider string, status int, body []byte) error {
	return &CompletionError{
		Provider:   provider,
		StatusCode: status,
		Err:        fmt.Errorf("status=%d body=%s", status, strings.TrimSpace(string(body))),
	}
}

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Temperature float64
	// Timeout bounds each HTTP call; zero leaves only the caller's context.
	Timeout    time.Duration
	HTTPClient *http.Client
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

func New(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func httpClientFor(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: cfg.Timeout}
}

func baseURLOrDefault(raw, fallback string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func validateRequest(provider string, req Request) error {
	if strings.TrimSpace(req.Model) == "" {
		return completionError(provider, "model is required")
	}
	if req.MaxOutputTokens <= 0 {
		return completionError(provider, "max output tokens must be > 0")
	}
	return nil
}
