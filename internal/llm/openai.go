package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	temperature float64
	client      *http.Client
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	return &OpenAIClient{
		baseURL:     baseURLOrDefault(cfg.BaseURL, defaultOpenAIBaseURL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		temperature: cfg.Temperature,
		client:      httpClientFor(cfg),
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(ProviderOpenAI, req); err != nil {
		return Response{}, err
	}

	body, err := json.Marshal(map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"max_completion_tokens": req.MaxOutputTokens,
		"temperature":           c.temperature,
	})
	if err != nil {
		return Response{}, completionError(ProviderOpenAI, "marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, completionError(ProviderOpenAI, "build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, completionError(ProviderOpenAI, "request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, completionError(ProviderOpenAI, "read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Response{}, statusError(ProviderOpenAI, resp.StatusCode, rawRespBody)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Response{}, completionError(ProviderOpenAI, "decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, completionError(ProviderOpenAI, "empty chat completion choices")
	}

	return Response{
		Text: parsed.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
			Model:        req.Model,
		},
	}, nil
}
