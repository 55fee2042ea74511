//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/pipeline"
	"github.com/sells-group/qaforge/internal/store"
)

// gateRunner holds each run open until release is closed.
type gateRunner struct {
	store   store.Store
	release chan struct{}
	started chan struct{}
}

func newGateRunner(st store.Store) *gateRunner {
	return &gateRunner{store: st, release: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (g *gateRunner) NewRun(ctx context.Context, in pipeline.Input) (string, error) {
	r, err := g.store.CreateRun(ctx, model.RunInput{Sources: []string{"text:input"}, PairCount: in.PairCount})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (g *gateRunner) Run(ctx context.Context, in pipeline.Input, obs pipeline.Observer) (*model.Result, error) {
	obs.OnProgress(pipeline.Progress{RunID: in.RunID, Message: "Generating Q&A pairs", Percent: 67})
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := &model.Result{
		RunID: in.RunID,
		Pairs: []model.QAPair{{Question: "q", Answer: "a", IsCorrect: true, Confidence: 0.9, Provenance: model.ProvenanceOriginal}},
	}
	if err := g.store.SaveResult(ctx, in.RunID, res); err != nil {
		return nil, err
	}
	return res, nil
}

type testServer struct {
	handler http.Handler
	session *pipeline.Session
	runner  *gateRunner
	store   store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	runner := newGateRunner(st)
	session := pipeline.NewSession(runner)
	return &testServer{
		handler: newAPI(session, st).routes([]string{"https://app.example.com"}),
		session: session,
		runner:  runner,
		store:   st,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.session.Wait(ctx))
}

func validStart() startRequest {
	return startRequest{
		Sources:   []ingest.Source{ingest.TextSource("input", "Invoices are due in thirty days.")},
		PairCount: 10,
	}
}

func TestAPI_Health(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RunLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/runs", validStart())
	require.Equal(t, http.StatusAccepted, rr.Code)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	id := started["run_id"]
	require.NotEmpty(t, id)
	<-s.runner.started

	// A second run is rejected while the first is active.
	rr = s.do(t, http.MethodPost, "/runs", validStart())
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "RUN_IN_PROGRESS")

	rr = s.do(t, http.MethodGet, "/runs/current", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, id, snap.RunID)
	assert.Equal(t, model.RunStatusRunning, snap.Status)
	assert.Equal(t, 67, snap.Progress)
	assert.Equal(t, "Generating Q&A pairs", snap.CurrentStep)

	rr = s.do(t, http.MethodGet, "/runs/current/result", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	close(s.runner.release)
	s.wait(t)

	rr = s.do(t, http.MethodGet, "/runs/current", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, model.RunStatusComplete, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Nil(t, snap.Result)

	rr = s.do(t, http.MethodGet, "/runs/current/result", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res model.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Len(t, res.Pairs, 1)

	rr = s.do(t, http.MethodGet, "/runs/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusComplete, run.Status)

	rr = s.do(t, http.MethodGet, "/runs/"+id+"/pairs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"question":"q"`)

	rr = s.do(t, http.MethodGet, "/runs?status=complete&limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Nil(t, list.Runs[0].Result)

	rr = s.do(t, http.MethodGet, "/runs/stats?hours=24", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"runs_complete":1`)

	rr = s.do(t, http.MethodDelete, "/runs/current", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, pipeline.Snapshot{}, s.session.Snapshot())
}

func TestAPI_CancelActiveRun(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/runs", validStart())
	require.Equal(t, http.StatusAccepted, rr.Code)
	<-s.runner.started

	rr = s.do(t, http.MethodDelete, "/runs/current", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	s.wait(t)

	snap := s.session.Snapshot()
	assert.Equal(t, model.RunStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "generation was cancelled.", *snap.Error)
}

func TestAPI_StartValidation(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_BODY")

	rr = s.do(t, http.MethodPost, "/runs", startRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "NO_SOURCES")

	bad := validStart()
	bad.PairCount = -1
	rr = s.do(t, http.MethodPost, "/runs", bad)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_StartBodyTooLarge(t *testing.T) {
	st := store.NewMemory()
	session := pipeline.NewSession(newGateRunner(st))
	a := newAPI(session, st)
	a.maxBody = 1024
	handler := a.routes(nil)

	big := startRequest{
		Sources:   []ingest.Source{ingest.TextSource("big", strings.Repeat("Invoices are due. ", 200))},
		PairCount: 10,
	}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(big))
	req := httptest.NewRequest(http.MethodPost, "/runs", &buf)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "BODY_TOO_LARGE")
	assert.False(t, session.Snapshot().Active())
}

func TestAPI_NotFound(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_FOUND")

	rr = s.do(t, http.MethodGet, "/runs/missing/pairs", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_ListRunsBadQuery(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/runs?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = s.do(t, http.MethodGet, "/runs?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_CORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestQueryInt(t *testing.T) {
	n, err := queryInt("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = queryInt("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = queryInt("-3")
	assert.Error(t, err)
}
