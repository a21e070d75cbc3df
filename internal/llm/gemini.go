package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client      *genai.Client
	temperature float32
}

func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClientFor(cfg),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, temperature: float32(cfg.Temperature)}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(ProviderGemini, req); err != nil {
		return Response{}, err
	}

	result, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxOutputTokens),
		Temperature:     genai.Ptr(c.temperature),
	})
	if err != nil {
		return Response{}, completionError(ProviderGemini, "generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return Response{}, completionError(ProviderGemini, "empty generate content candidates")
	}

	usage := Usage{Model: req.Model}
	if meta := result.UsageMetadata; meta != nil {
		usage.InputTokens = int(meta.PromptTokenCount)
		usage.OutputTokens = int(meta.CandidatesTokenCount)
		usage.TotalTokens = int(meta.TotalTokenCount)
	}
	return Response{Text: result.Text(), Usage: usage}, nil
}
