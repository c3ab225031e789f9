package llm

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/example/optimo/internal/config"
)

const defaultOpenAIBase = "https://api.openai.com"

// OpenAIEngine talks to any OpenAI-compatible Chat Completions endpoint. Structured
// requests use the json_schema response format.
type OpenAIEngine struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	http        *transport
}

func NewOpenAI(cfg config.EngineConfig, limiter *rate.Limiter) *OpenAIEngine {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBase
	}
	return &OpenAIEngine{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     base,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        newTransport("openai", cfg.Timeout, limiter, cfg.MaxRetries),
	}
}

func (c *OpenAIEngine) Name() string { return "openai:" + c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *OpenAIEngine) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}
	if !req.PlainText && len(req.Schemas) > 0 {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "answer",
				"schema": req.Schemas.Envelope().JSONSchema(),
			},
		}
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.http.postJSON(ctx, c.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmpty
	}
	return Structured(req, resp.Choices[0].Message.Content)
}
