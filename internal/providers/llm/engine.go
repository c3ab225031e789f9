// Package llm defines the reasoning-engine contract the pipeline stages call and the
// HTTP-backed engines that implement it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/optimo/internal/schema"
)

// Engine produces one answer per request.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Request is one engine call. Schemas declares up front the closed set of shapes an
// answer may take; it is ignored when PlainText is set.
type Request struct {
	Instructions string
	Prompt       string
	Schemas      schema.Set
	PlainText    bool
}

// Response carries the decoded variant for structured requests and the raw text always.
type Response struct {
	Variant string
	Data    json.RawMessage
	Text    string
}

var (
	// ErrTransient marks quota exhaustion or temporary unavailability (429, 503,
	// RESOURCE_EXHAUSTED). Callers may retry once in plain-text mode.
	ErrTransient = errors.New("reasoning engine temporarily unavailable")
	// ErrMalformed marks an answer that did not match any declared output shape.
	ErrMalformed = errors.New("engine answer does not match declared outputs")
	ErrEmpty     = errors.New("engine returned no content")
)

// StatusError is a non-2xx answer from an HTTP engine.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrTransient) match throttling and unavailability codes.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && (e.Code == 429 || e.Code == 503)
}

// Structured decodes text against the request's declared outputs. Plain-text requests
// are returned as-is.
func Structured(req Request, text string) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	if req.PlainText || len(req.Schemas) == 0 {
		return &Response{Text: text}, nil
	}
	variant, data, err := req.Schemas.DecodeText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &Response{Variant: variant, Data: data, Text: text}, nil
}

// FormatHint describes the declared outputs in prose plus JSON Schema, for engines and
// fallback calls that cannot constrain decoding natively.
func FormatHint(set schema.Set) string {
	if len(set) == 0 {
		return ""
	}
	doc, _ := json.MarshalIndent(set.Envelope().JSONSchema(), "", "  ")
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. Set \"kind\" to one of: ")
	b.WriteString(strings.Join(set.Names(), ", "))
	b.WriteString(", and put the payload under the property of the same name. JSON Schema:\n")
	b.Write(doc)
	return b.String()
}
