package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/example/optimo/internal/schema"
)

// Step is one scripted engine reply: either a raw answer text or an error.
type Step struct {
	Text string
	Err  error
}

// MockEngine replays scripted steps in order and records every request. With the
// script exhausted it falls back to a canned answer for the declared outputs, so it
// also serves offline runs.
type MockEngine struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
}

func NewMock(steps ...Step) *MockEngine {
	return &MockEngine{steps: steps}
}

func (m *MockEngine) Name() string { return "mock" }

// Push appends steps to the script.
func (m *MockEngine) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of every request seen so far.
func (m *MockEngine) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockEngine) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step Step
	scripted := len(m.steps) > 0
	if scripted {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	if !scripted {
		step = Step{Text: cannedAnswer(req)}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return Structured(req, step.Text)
}

const cannedModel = `import pyomo.environ as pyo

model = pyo.ConcreteModel()
model.x = pyo.Var(domain=pyo.NonNegativeReals)
model.y = pyo.Var(domain=pyo.NonNegativeReals)
model.profit = pyo.Objective(expr=4 * model.x + 3 * model.y, sense=pyo.maximize)
model.capacity = pyo.Constraint(expr=model.x + model.y <= 100)


def solve():
    pyo.SolverFactory("glpk").solve(model)
    print("x =", pyo.value(model.x), "y =", pyo.value(model.y))
`

func cannedAnswer(req Request) string {
	var names []string
	for _, v := range req.Schemas {
		names = append(names, v.Name)
	}
	pick := func(kind string, payload any) string {
		b, _ := json.Marshal(map[string]any{"kind": kind, kind: payload})
		return string(b)
	}
	switch {
	case contains(names, schema.VariantReformulation):
		return pick(schema.VariantReformulation, map[string]any{
			"reformulated_problem": "Restated problem: " + firstLine(req.Prompt),
			"problem_type":         "Linear Programming",
			"assumptions":          []string{"All quantities are non-negative."},
		})
	case contains(names, schema.VariantGeneratedCode):
		return pick(schema.VariantGeneratedCode, map[string]any{"code": cannedModel})
	case req.PlainText:
		return fmt.Sprintf("```python\n%s```", cannedModel)
	}
	return "ok"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
