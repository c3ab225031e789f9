// Package gemini implements llm.Engine on the Google generative AI SDK, constraining
// structured answers with a native response schema.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/schema"
)

// Engine is a Gemini-backed llm.Engine. It is safe for concurrent use; every call
// configures its own GenerativeModel handle.
type Engine struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	limiter     *rate.Limiter
}

func New(ctx context.Context, cfg config.EngineConfig, limiter *rate.Limiter) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Engine{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		limiter:     limiter,
	}, nil
}

func (e *Engine) Name() string { return "gemini:" + e.model }

func (e *Engine) Close() error { return e.client.Close() }

// callContext bounds one call, limiter wait included, by the configured timeout.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	m := e.client.GenerativeModel(e.model)
	m.SetTemperature(e.temperature)
	if e.maxTokens > 0 {
		m.SetMaxOutputTokens(e.maxTokens)
	}
	if req.Instructions != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.Instructions))
	}
	if !req.PlainText && len(req.Schemas) > 0 {
		m.ResponseMIMEType = "application/json"
		m.ResponseSchema = ToGenaiSchema(req.Schemas.Envelope())
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", llm.ErrTransient, err)
		}
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	return llm.Structured(req, responseText(resp))
}

// ToGenaiSchema converts a declared output schema into the SDK's schema type.
func ToGenaiSchema(s *schema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Nullable:    s.Nullable,
		Required:    s.Required,
	}
	if len(s.Enum) > 0 {
		out.Enum = s.Enum
		out.Format = "enum"
	}
	if s.Items != nil {
		out.Items = ToGenaiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = ToGenaiSchema(p)
		}
	}
	return out
}

func genaiType(t schema.Type) genai.Type {
	switch t {
	case schema.TypeObject:
		return genai.TypeObject
	case schema.TypeArray:
		return genai.TypeArray
	case schema.TypeNumber:
		return genai.TypeNumber
	case schema.TypeInteger:
		return genai.TypeInteger
	case schema.TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func responseText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// isTransient recognises quota and availability failures across the REST and gRPC
// error shapes the SDK can surface.
func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusServiceUnavailable
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429")
}
