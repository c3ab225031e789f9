// Package orchestrator sequences the pipeline stages for each run and owns the run
// state machine and the clarification loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/example/optimo/internal/logging"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/store"
	"github.com/example/optimo/internal/telemetry"
)

// Reformulator is the Expert stage.
type Reformulator interface {
	Reformulate(ctx context.Context, problem *models.ProblemStatement) (*models.ExpertOutput, error)
}

// CodeGenerator is the Integrator stage.
type CodeGenerator interface {
	Generate(ctx context.Context, r *models.Reformulation) (*models.Artifact, error)
}

// CodeValidator is the Validator stage.
type CodeValidator interface {
	Validate(ctx context.Context, art *models.Artifact) (*models.ExecutionReport, error)
}

// ArtifactSink persists accepted code and returns where it went.
type ArtifactSink interface {
	Save(runID, code string) (string, error)
}

type Stages struct {
	Expert     Reformulator
	Integrator CodeGenerator
	Validator  CodeValidator
}

// Options tune a Coordinator. Zero values are valid except MaxClarifications,
// which defaults to 3.
type Options struct {
	MaxClarifications int
	Ledger            store.Store
	Log               *logging.Logger
	Tracer            trace.Tracer
	Metrics           *telemetry.Metrics
	NewID             func() string
	Now               func() time.Time
}

// Outcome is where a Start or Clarify call left the run.
type Outcome struct {
	RunID         string                  `json:"run_id"`
	State         models.State            `json:"state"`
	Summary       string                  `json:"summary,omitempty"`
	Diagnostic    string                  `json:"diagnostic,omitempty"`
	Explanation   string                  `json:"explanation,omitempty"`
	Questions     []string                `json:"questions,omitempty"`
	Reformulation *models.Reformulation   `json:"reformulation,omitempty"`
	Report        *models.ExecutionReport `json:"report,omitempty"`
	ArtifactPath  string                  `json:"artifact_path,omitempty"`
}

// Err is nil for a validated run, a *ClarificationError for a suspended one and a
// *FailedError otherwise.
func (o *Outcome) Err() error {
	switch o.State {
	case models.StateValidated:
		return nil
	case models.StateClarificationNeeded:
		return &ClarificationError{RunID: o.RunID, Explanation: o.Explanation, Questions: o.Questions}
	default:
		return &FailedError{RunID: o.RunID, Diagnostic: o.Diagnostic}
	}
}

type run struct {
	busy sync.Mutex // held while the pipeline advances this run
	mu   sync.Mutex // guards rec
	rec  models.Run
}

func (r *run) snapshot() models.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRun(r.rec)
}

func cloneRun(in models.Run) models.Run {
	out := in
	out.Problem.Clarifications = append([]models.Clarification(nil), in.Problem.Clarifications...)
	out.Questions = append([]string(nil), in.Questions...)
	out.Transitions = append([]models.Transition(nil), in.Transitions...)
	return out
}

// Coordinator runs pipelines. Runs are independent; each is advanced by at most one
// goroutine at a time.
type Coordinator struct {
	stages    Stages
	artifacts ArtifactSink

	maxClarifications int
	ledger            store.Store
	log               *logging.Logger
	tracer            trace.Tracer
	metrics           *telemetry.Metrics
	newID             func() string
	now               func() time.Time

	runsMu sync.RWMutex
	runs   map[string]*run

	hub *Hub
	wg  sync.WaitGroup
}

func New(stages Stages, artifacts ArtifactSink, opts Options) *Coordinator {
	c := &Coordinator{
		stages:            stages,
		artifacts:         artifacts,
		maxClarifications: opts.MaxClarifications,
		ledger:            opts.Ledger,
		log:               opts.Log,
		tracer:            opts.Tracer,
		metrics:           opts.Metrics,
		newID:             opts.NewID,
		now:               opts.Now,
		runs:              map[string]*run{},
		hub:               NewHub(),
	}
	if c.maxClarifications <= 0 {
		c.maxClarifications = 3
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer(telemetry.InstrumentationName)
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// RunPipeline is the stateless entry point. text may carry earlier answers as
// "Clarifications: <answer>" blocks. It returns the summary of a validated run, the
// diagnostic of a failed one, or a *ClarificationError when the Expert needs answers;
// the caller re-invokes with the answer appended.
func (c *Coordinator) RunPipeline(ctx context.Context, text string) (string, error) {
	out := c.start(ctx, models.ParseProblemStatement(text))
	switch out.State {
	case models.StateClarificationNeeded:
		return "", out.Err()
	case models.StateValidated:
		return out.Summary, nil
	default:
		return out.Diagnostic, nil
	}
}

// Start creates a run for problem and advances it until it is validated, failed or
// waiting for an answer.
func (c *Coordinator) Start(ctx context.Context, problem string) *Outcome {
	return c.start(ctx, models.ProblemStatement{Text: problem})
}

func (c *Coordinator) start(ctx context.Context, ps models.ProblemStatement) *Outcome {
	r := c.create(ctx, ps)
	r.busy.Lock()
	defer r.busy.Unlock()
	c.drive(logging.WithRunID(ctx, r.rec.ID), r)
	return c.outcome(r)
}

// Submit is Start without waiting: it returns the new run's ID and advances the run
// in the background. Cancelling ctx does not stop the run.
func (c *Coordinator) Submit(ctx context.Context, problem string) string {
	r := c.create(ctx, models.ProblemStatement{Text: problem})
	r.busy.Lock()
	bg := logging.WithRunID(context.WithoutCancel(ctx), r.rec.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer r.busy.Unlock()
		c.drive(bg, r)
	}()
	return r.rec.ID
}

// Clarify answers the questions of a suspended run and advances it again.
func (c *Coordinator) Clarify(ctx context.Context, runID, answer string) (*Outcome, error) {
	r, err := c.answer(ctx, runID, answer)
	if err != nil {
		return nil, err
	}
	defer r.busy.Unlock()
	c.advance(logging.WithRunID(ctx, runID), r)
	return c.outcome(r), nil
}

// SubmitAnswer is Clarify without waiting for the pipeline to advance.
func (c *Coordinator) SubmitAnswer(ctx context.Context, runID, answer string) error {
	r, err := c.answer(ctx, runID, answer)
	if err != nil {
		return err
	}
	bg := logging.WithRunID(context.WithoutCancel(ctx), runID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer r.busy.Unlock()
		c.advance(bg, r)
	}()
	return nil
}

// Wait blocks until every background run started by Submit or SubmitAnswer has
// stopped advancing.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) create(ctx context.Context, ps models.ProblemStatement) *run {
	now := c.now()
	r := &run{rec: models.Run{
		ID:        c.newID(),
		State:     models.StateAwaitingReformulation,
		Problem:   ps,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	c.runsMu.Lock()
	c.runs[r.rec.ID] = r
	c.runsMu.Unlock()

	ctx = logging.WithRunID(ctx, r.rec.ID)
	c.log.Info(ctx, "run created", zap.Int("clarifications", ps.Rounds()))
	c.persist(ctx, r)
	return r
}

func (c *Coordinator) drive(ctx context.Context, r *run) {
	if strings.TrimSpace(r.rec.Problem.Text) == "" {
		c.fail(ctx, r, ErrEmptyProblem)
		return
	}
	c.advance(ctx, r)
}

// answer records an answer on a suspended run. On success the run's busy lock is
// held and the caller must release it.
func (c *Coordinator) answer(ctx context.Context, runID, answer string) (*run, error) {
	r, err := c.lookup(ctx, runID)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}

	r.busy.Lock()
	r.mu.Lock()
	if r.rec.State != models.StateClarificationNeeded {
		state := r.rec.State
		r.mu.Unlock()
		r.busy.Unlock()
		return nil, fmt.Errorf("%w: run %s is %s", ErrNotAwaitingAnswer, runID, state)
	}
	r.rec.Problem.Append(r.rec.Questions, answer)
	r.rec.Questions = nil
	r.rec.Explanation = ""
	r.mu.Unlock()

	c.transition(logging.WithRunID(ctx, runID), r, models.StateAwaitingReformulation, "clarification received")
	return r, nil
}

// Get returns a run from memory or, failing that, the ledger.
func (c *Coordinator) Get(ctx context.Context, runID string) (*models.Run, error) {
	c.runsMu.RLock()
	r, ok := c.runs[runID]
	c.runsMu.RUnlock()
	if ok {
		snap := r.snapshot()
		return &snap, nil
	}
	if c.ledger == nil {
		return nil, ErrRunNotFound
	}
	rec, err := c.ledger.Get(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return rec, err
}

// List returns every known run, newest first. Runs in memory win over their ledger
// copies.
func (c *Coordinator) List(ctx context.Context) ([]models.Run, error) {
	seen := map[string]bool{}
	var out []models.Run
	c.runsMu.RLock()
	for id, r := range c.runs {
		seen[id] = true
		out = append(out, r.snapshot())
	}
	c.runsMu.RUnlock()

	if c.ledger != nil {
		stored, err := c.ledger.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ledger: %w", err)
		}
		for _, rec := range stored {
			if !seen[rec.ID] {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Subscribe streams JSON-encoded events for runID until unsubscribe is called.
func (c *Coordinator) Subscribe(runID string) (<-chan []byte, func()) {
	return c.hub.Subscribe(runID)
}

// lookup finds a run in memory, reloading it from the ledger after a restart.
func (c *Coordinator) lookup(ctx context.Context, runID string) (*run, error) {
	c.runsMu.RLock()
	r, ok := c.runs[runID]
	c.runsMu.RUnlock()
	if ok {
		return r, nil
	}
	if c.ledger == nil {
		return nil, ErrRunNotFound
	}
	rec, err := c.ledger.Get(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	if r, ok := c.runs[runID]; ok {
		return r, nil
	}
	r = &run{rec: *rec}
	c.runs[runID] = r
	return r, nil
}

// advance drives r through the state machine until it reaches a state that needs
// the caller. Stage errors and panics end the run in FAILED.
func (c *Coordinator) advance(ctx context.Context, r *run) {
	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run.id", r.rec.ID)))
	defer func() {
		if p := recover(); p != nil {
			c.log.Error(ctx, "stage panicked", zap.Any("panic", p), zap.Stack("stack"))
			c.fail(ctx, r, fmt.Errorf("internal error: %v", p))
		}
		snap := r.snapshot()
		span.SetAttributes(attribute.String("run.state", string(snap.State)))
		if snap.State == models.StateFailed {
			span.SetStatus(codes.Error, snap.Diagnostic)
		}
		span.End()
	}()

	for {
		if err := ctx.Err(); err != nil {
			c.fail(ctx, r, fmt.Errorf("run cancelled: %w", err))
			return
		}
		snap := r.snapshot()
		switch snap.State {
		case models.StateAwaitingReformulation:
			out, err := c.stages.Expert.Reformulate(ctx, &snap.Problem)
			if err != nil {
				c.fail(ctx, r, err)
				return
			}
			if err := out.Validate(); err != nil {
				c.fail(ctx, r, err)
				return
			}
			switch out.Kind {
			case models.ExpertReformulation:
				r.mu.Lock()
				r.rec.Reformulation = out.Reformulation
				r.mu.Unlock()
				c.transition(ctx, r, models.StateReformulated, string(out.Reformulation.ProblemClass))
			case models.ExpertInquiry:
				c.suspend(ctx, r, out.Clarification)
				return
			}

		case models.StateReformulated:
			c.transition(ctx, r, models.StateAwaitingCode, "")

		case models.StateAwaitingCode:
			art, err := c.stages.Integrator.Generate(ctx, snap.Reformulation)
			if err != nil {
				c.fail(ctx, r, err)
				return
			}
			path, err := c.artifacts.Save(snap.ID, art.Code)
			if err != nil {
				c.fail(ctx, r, err)
				return
			}
			r.mu.Lock()
			r.rec.Artifact = art
			r.rec.ArtifactPath = path
			r.mu.Unlock()
			c.transition(ctx, r, models.StateCodeAccepted, fmt.Sprintf("%d attempt(s), saved to %s", art.Attempts, path))

		case models.StateCodeAccepted:
			report, err := c.stages.Validator.Validate(ctx, snap.Artifact)
			if err != nil {
				c.fail(ctx, r, err)
				return
			}
			summary := Summarize(report)
			r.mu.Lock()
			r.rec.Report = report
			r.rec.Summary = summary
			r.mu.Unlock()
			c.hub.Publish(Event{Event: EventReport, RunID: snap.ID, Payload: report})
			c.transition(ctx, r, models.StateValidated, fmt.Sprintf("success=%t", report.Success))
			return

		default:
			return
		}
	}
}

// suspend parks r until an answer arrives, or fails it once the answered rounds
// have reached the cap.
func (c *Coordinator) suspend(ctx context.Context, r *run, req *models.ClarificationRequest) {
	r.mu.Lock()
	rounds := r.rec.Problem.Rounds()
	r.mu.Unlock()
	if rounds >= c.maxClarifications {
		c.fail(ctx, r, fmt.Errorf("%w: %d round(s) answered, expert still asks: %s",
			ErrClarificationExhausted, rounds, strings.Join(req.Questions, "; ")))
		return
	}

	r.mu.Lock()
	r.rec.Questions = append([]string(nil), req.Questions...)
	r.rec.Explanation = req.Explanation
	r.mu.Unlock()

	c.hub.Publish(Event{Event: EventQuestions, RunID: r.rec.ID, Payload: map[string]any{
		"explanation": req.Explanation,
		"questions":   req.Questions,
	}})
	c.transition(ctx, r, models.StateClarificationNeeded, fmt.Sprintf("%d question(s)", len(req.Questions)))
}

func (c *Coordinator) fail(ctx context.Context, r *run, err error) {
	diag := "pipeline failed: " + err.Error()
	r.mu.Lock()
	r.rec.Diagnostic = diag
	r.mu.Unlock()
	c.log.Error(ctx, "run failed", zap.Error(err))
	c.transition(ctx, r, models.StateFailed, diag)
}

func (c *Coordinator) transition(ctx context.Context, r *run, to models.State, note string) {
	r.mu.Lock()
	from := r.rec.State
	now := c.now()
	r.rec.State = to
	r.rec.UpdatedAt = now
	r.rec.Transitions = append(r.rec.Transitions, models.Transition{From: from, To: to, At: now, Note: note})
	id := r.rec.ID
	r.mu.Unlock()

	c.log.Info(ctx, "run transition",
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("note", note))
	trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)), attribute.String("to", string(to))))
	c.hub.Publish(Event{Event: EventState, RunID: id, Payload: map[string]any{"from": from, "to": to, "note": note}})
	if to.Terminal() || to == models.StateClarificationNeeded {
		c.metrics.RunFinished(string(to))
	}
	c.persist(ctx, r)
}

// persist mirrors r to the ledger. Ledger errors are logged, never fatal to the run.
func (c *Coordinator) persist(ctx context.Context, r *run) {
	if c.ledger == nil {
		return
	}
	snap := r.snapshot()
	if err := c.ledger.Save(context.WithoutCancel(ctx), &snap); err != nil {
		c.log.Warn(ctx, "ledger save failed", zap.Error(err))
	}
}

func (c *Coordinator) outcome(r *run) *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Outcome{
		RunID:         r.rec.ID,
		State:         r.rec.State,
		Summary:       r.rec.Summary,
		Diagnostic:    r.rec.Diagnostic,
		Explanation:   r.rec.Explanation,
		Questions:     append([]string(nil), r.rec.Questions...),
		Reformulation: r.rec.Reformulation,
		Report:        r.rec.Report,
		ArtifactPath:  r.rec.ArtifactPath,
	}
}
