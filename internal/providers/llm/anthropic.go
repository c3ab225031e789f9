package llm

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/example/optimo/internal/config"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion    = "2023-06-01"
)

// AnthropicEngine calls the Messages API. It has no schema-constrained decoding, so
// structured requests carry the output format in the system prompt and are parsed
// leniently.
type AnthropicEngine struct {
	apiKey      string
	model       string
	url         string
	temperature float64
	maxTokens   int
	http        *transport
}

func NewAnthropic(cfg config.EngineConfig, limiter *rate.Limiter) *AnthropicEngine {
	url := strings.TrimRight(cfg.BaseURL, "/")
	if url == "" {
		url = defaultAnthropicURL
	}
	return &AnthropicEngine{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		url:         url,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        newTransport("anthropic", cfg.Timeout, limiter, cfg.MaxRetries),
	}
}

func (c *AnthropicEngine) Name() string { return "anthropic:" + c.model }

func (c *AnthropicEngine) Generate(ctx context.Context, req Request) (*Response, error) {
	system := req.Instructions
	if !req.PlainText && len(req.Schemas) > 0 {
		system = strings.TrimSpace(system + "\n\n" + FormatHint(req.Schemas))
	}
	body := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
		"messages": []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": req.Prompt}},
		}},
	}
	if system != "" {
		body["system"] = system
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := c.http.postJSON(ctx, c.url, headers, body, &resp); err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Structured(req, text.String())
}
