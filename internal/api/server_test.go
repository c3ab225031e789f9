package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/agents"
	"github.com/example/optimo/internal/artifact"
	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/lint"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/orchestrator"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/telemetry"
)

type cleanOracle struct{}

func (cleanOracle) Lint(_ context.Context, source string) (*lint.Report, error) {
	return &lint.Report{Fixed: source}, nil
}

type okRunner struct{}

func (okRunner) Execute(context.Context, string) (*models.ExecutionReport, error) {
	v := 400.0
	return &models.ExecutionReport{Stdout: "x = 100\n", ObjectiveName: "profit", ObjectiveValue: &v}, nil
}

func inquiryStep() llm.Step {
	b, _ := json.Marshal(map[string]any{
		"kind": "inquiry",
		"inquiry": map[string]any{
			"explanation":             "Costs are missing.",
			"clarification_questions": []string{"What is the unit cost?"},
		},
	})
	return llm.Step{Text: string(b)}
}

func newTestServer(t *testing.T, steps ...llm.Step) (*httptest.Server, *orchestrator.Coordinator) {
	t.Helper()
	engine := llm.NewMock(steps...)
	expert, err := agents.NewExpert(engine, config.StageConfig{Retries: 2}, agents.Deps{})
	require.NoError(t, err)
	integrator, err := agents.NewIntegrator(engine, lint.NewGate(cleanOracle{}, config.Default().Lint), config.StageConfig{Retries: 2}, agents.Deps{})
	require.NoError(t, err)
	metrics := telemetry.NewMetrics()
	coord := orchestrator.New(
		orchestrator.Stages{Expert: expert, Integrator: integrator, Validator: agents.NewValidator(okRunner{}, agents.Deps{})},
		artifact.NewStore(config.ArtifactConfig{Path: filepath.Join(t.TempDir(), "generated_code.py")}),
		orchestrator.Options{Metrics: metrics},
	)
	srv := httptest.NewServer(NewServer(coord, metrics.Handler(), nil).Routes())
	t.Cleanup(srv.Close)
	return srv, coord
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(b)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCreateRun_WaitAndClarify(t *testing.T) {
	srv, _ := newTestServer(t, inquiryStep())

	resp := postJSON(t, srv.URL+"/runs?wait=true", map[string]any{"problem": "Minimize cost."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[orchestrator.Outcome](t, resp)
	require.Equal(t, models.StateClarificationNeeded, out.State)
	assert.Equal(t, []string{"What is the unit cost?"}, out.Questions)

	resp = postJSON(t, srv.URL+"/runs/"+out.RunID+"/clarify?wait=1", map[string]any{"answer": "unit cost is 5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = decode[orchestrator.Outcome](t, resp)
	assert.Equal(t, models.StateValidated, out.State)
	assert.True(t, strings.HasPrefix(out.Summary, "Success: true\nObjective Name: profit"))

	resp = postJSON(t, srv.URL+"/runs/"+out.RunID+"/clarify?wait=1", map[string]any{"answer": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/runs/" + out.RunID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	run := decode[models.Run](t, getResp)
	assert.Equal(t, models.StateValidated, run.State)
	assert.Len(t, run.Problem.Clarifications, 1)
}

func TestCreateRun_Async(t *testing.T) {
	srv, coord := newTestServer(t)

	resp := postJSON(t, srv.URL+"/runs", map[string]any{"problem": "Maximize profit."})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decode[map[string]string](t, resp)
	require.NotEmpty(t, accepted["run_id"])
	coord.Wait()

	listResp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer listResp.Body.Close()
	runs := decode[[]models.Run](t, listResp)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StateValidated, runs[0].State)
}

func TestCreateRun_Document(t *testing.T) {
	srv, coord := newTestServer(t)
	doc := base64.StdEncoding.EncodeToString([]byte("<html><body><p>Plant capacity is 100 units.</p></body></html>"))

	resp := postJSON(t, srv.URL+"/runs?wait=true", map[string]any{
		"problem":  "Maximize profit.",
		"document": map[string]any{"name": "data.html", "data": doc},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[orchestrator.Outcome](t, resp)

	run, err := coord.Get(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Maximize profit.\n\nAttached document:\nPlant capacity is 100 units.", run.Problem.Text)

	resp = postJSON(t, srv.URL+"/runs", map[string]any{
		"document": map[string]any{"name": "img.png", "data": base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestCreateRun_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/runs", map[string]any{"problem": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp = postJSON(t, srv.URL+"/runs/missing/clarify", map[string]any{"answer": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/runs/missing")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestEvents_StreamUntilSuspended(t *testing.T) {
	srv, coord := newTestServer(t, inquiryStep())
	out := coord.Start(context.Background(), "Minimize cost.")
	require.Equal(t, models.StateClarificationNeeded, out.State)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/runs/"+out.RunID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// A suspended run yields only its snapshot, then the stream closes.
	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"snapshot"}, events)

	require.NoError(t, coord.SubmitAnswer(context.Background(), out.RunID, "5"))
	coord.Wait()
}

func TestMetricsEndpoint(t *testing.T) {
	srv, coord := newTestServer(t)
	coord.Start(context.Background(), "Maximize profit.")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := new(strings.Builder)
	_, err = bufio.NewReader(resp.Body).WriteTo(body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `optimo_runs_total{state="VALIDATED"} 1`)
}
