// Package api exposes the pipeline over HTTP: run submission, clarification answers,
// run inspection, a server-sent event stream per run and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/intake"
	"github.com/example/optimo/internal/logging"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/orchestrator"
)

const maxBodyBytes = 32 << 20

// Pipeline is the part of the coordinator the API drives.
type Pipeline interface {
	Start(ctx context.Context, problem string) *orchestrator.Outcome
	Submit(ctx context.Context, problem string) string
	Clarify(ctx context.Context, runID, answer string) (*orchestrator.Outcome, error)
	SubmitAnswer(ctx context.Context, runID, answer string) error
	Get(ctx context.Context, runID string) (*models.Run, error)
	List(ctx context.Context) ([]models.Run, error)
	Subscribe(runID string) (<-chan []byte, func())
}

type Server struct {
	pipeline  Pipeline
	metrics   http.Handler
	log       *logging.Logger
	limits    intake.Limits
	keepalive time.Duration
}

// NewServer builds the handler set. metrics may be nil to omit /metrics.
func NewServer(pipeline Pipeline, metrics http.Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		pipeline:  pipeline,
		metrics:   metrics,
		log:       log,
		limits:    intake.DefaultLimits,
		keepalive: 15 * time.Second,
	}
}

// Routes returns the API mux wrapped in CORS handling for local UIs.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("POST /runs", s.createRun)
	mux.HandleFunc("GET /runs/{id}", s.getRun)
	mux.HandleFunc("POST /runs/{id}/clarify", s.clarify)
	mux.HandleFunc("GET /runs/{id}/events", s.events)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return cors(mux)
}

type documentPayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64 or data: URL
}

type createRunRequest struct {
	Problem  string           `json:"problem"`
	Document *documentPayload `json:"document,omitempty"`
}

type clarifyRequest struct {
	Answer string `json:"answer"`
}

// createRun starts a pipeline. With ?wait=true it answers with the outcome,
// otherwise with 202 and the run id.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	problem := strings.TrimSpace(req.Problem)
	if req.Document != nil {
		doc, err := intake.DecodeBase64(req.Document.Name, req.Document.ContentType, req.Document.Data)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		text, err := intake.Extract(r.Context(), doc, s.limits)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, intake.ErrUnsupported) {
				status = http.StatusUnsupportedMediaType
			}
			respondError(w, status, err)
			return
		}
		problem = intake.Compose(problem, text)
	}
	if problem == "" {
		respondError(w, http.StatusBadRequest, orchestrator.ErrEmptyProblem)
		return
	}

	if wait(r) {
		respondJSON(w, http.StatusOK, s.pipeline.Start(r.Context(), problem))
		return
	}
	id := s.pipeline.Submit(r.Context(), problem)
	s.log.Info(r.Context(), "run submitted", zap.String("run.id", id))
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "state": string(models.StateAwaitingReformulation)})
}

func (s *Server) clarify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req clarifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if wait(r) {
		out, err := s.pipeline.Clarify(r.Context(), id, req.Answer)
		if err != nil {
			respondError(w, statusFor(err), err)
			return
		}
		respondJSON(w, http.StatusOK, out)
		return
	}
	if err := s.pipeline.SubmitAnswer(r.Context(), id, req.Answer); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "state": string(models.StateAwaitingReformulation)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipeline.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.pipeline.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// events streams a run's events as SSE. The first event is a snapshot of the run;
// the stream ends when the run stops advancing.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, unsubscribe := s.pipeline.Subscribe(id)
	defer unsubscribe()

	run, err := s.pipeline.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, _ := json.Marshal(orchestrator.Event{Event: "snapshot", RunID: id, Payload: run})
	writeSSE(w, "snapshot", snapshot)
	flusher.Flush()
	if stopped(run.State) {
		return
	}

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case b, ok := <-ch:
			if !ok {
				return
			}
			var ev struct {
				Event   string `json:"event"`
				Payload struct {
					To models.State `json:"to"`
				} `json:"payload"`
			}
			_ = json.Unmarshal(b, &ev)
			writeSSE(w, ev.Event, b)
			flusher.Flush()
			if ev.Event == orchestrator.EventState && stopped(ev.Payload.To) {
				return
			}
		}
	}
}

// stopped reports whether a run in state will not advance without a caller.
func stopped(state models.State) bool {
	return state.Terminal() || state == models.StateClarificationNeeded
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotAwaitingAnswer):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyAnswer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func wait(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("wait")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// cors allows browser UIs on other origins during local development.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
