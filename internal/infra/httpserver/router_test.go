package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalysis "github.com/bryanwahyu/designlens/internal/application/analysis"
	"github.com/bryanwahyu/designlens/internal/application/pipeline"
	domai "github.com/bryanwahyu/designlens/internal/domain/ai"
	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	dompipe "github.com/bryanwahyu/designlens/internal/domain/pipeline"
	"github.com/bryanwahyu/designlens/internal/domain/runerrors"
)

const runID = "6f1c2a4e-8d3b-4c1e-9a7f-2b5d8e9c0a11"

type fakeService struct {
	lastCmd appanalysis.RunAnalysisCommand
	waited  bool
	run     *domain.Run
	err     error
	errs    []*runerrors.RunError
}

func (f *fakeService) Start(_ context.Context, cmd appanalysis.RunAnalysisCommand) (*domain.Run, error) {
	f.lastCmd = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Run{ID: runID, TenantID: cmd.TenantID, Status: domain.StatusPending, Providers: cmd.Providers}, nil
}

func (f *fakeService) RunAnalysis(_ context.Context, cmd appanalysis.RunAnalysisCommand) (*domain.Run, error) {
	f.lastCmd = cmd
	f.waited = true
	return f.run, f.err
}

func (f *fakeService) Get(_ context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	if f.run == nil || f.run.TenantID != tenant || f.run.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeService) List(_ context.Context, tenant string, page, size int) (domain.PaginatedResult, error) {
	return domain.PaginatedResult{Data: []*domain.Run{}, Page: page, PageSize: size}, nil
}

func (f *fakeService) Errors(_ context.Context, _ string, _ domain.RunID, _ int) ([]*runerrors.RunError, error) {
	return f.errs, nil
}

type fakeSweeper struct {
	staleness, failure time.Duration
}

func (f *fakeSweeper) SweepStuckRuns(_ context.Context, staleness, failure time.Duration) (pipeline.SweepReport, error) {
	if failure <= staleness {
		return pipeline.SweepReport{}, domain.ErrInvalidInput
	}
	f.staleness, f.failure = staleness, failure
	return pipeline.SweepReport{Scanned: 1, Retriggered: 1}, nil
}

func newTestRouter(svc *fakeService, sw *fakeSweeper) http.Handler {
	return NewRouter(svc, sw, Options{
		APIKeys:   map[string]string{"acme": "k-acme", "globex": "k-globex"},
		OpsKey:    "k-ops",
		Staleness: 10 * time.Minute,
		Failure:   time.Hour,
	})
}

func do(h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreate_QueuesInBackground(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, &fakeSweeper{})

	rec := do(h, http.MethodPost, "/v1/acme/analyses", "k-acme",
		`{"images":["https://cdn.example.com/home.png"],"prompt":"  checkout flow\u0000 ","providers":["openai","gemini"]}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/acme/analyses/"+runID, rec.Header().Get("Location"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, runID, resp["id"])
	assert.Equal(t, "pending", resp["status"])

	assert.False(t, svc.waited)
	assert.Equal(t, "acme", svc.lastCmd.TenantID)
	assert.Equal(t, "checkout flow", svc.lastCmd.Prompt)
	assert.Equal(t, []domai.ProviderID{"openai", "gemini"}, svc.lastCmd.Providers)
}

func TestCreate_WaitReturnsRun(t *testing.T) {
	svc := &fakeService{run: &domain.Run{ID: runID, TenantID: "acme", Status: domain.StatusSuccess}}
	h := newTestRouter(svc, &fakeSweeper{})

	rec := do(h, http.MethodPost, "/v1/acme/analyses?wait=true", "k-acme", `{"images":["https://cdn.example.com/a.png"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.waited)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
}

func TestCreate_RunFailureIs422(t *testing.T) {
	svc := &fakeService{err: &domain.RunFailure{
		RunID:          runID,
		Kind:           domain.FailureAllProvidersFailed,
		Stage:          dompipe.StageDispatch,
		Reason:         "all providers failed",
		ProviderErrors: map[domai.ProviderID]string{"openai": "timeout"},
	}}
	h := newTestRouter(svc, &fakeSweeper{})

	rec := do(h, http.MethodPost, "/v1/acme/analyses?wait=1", "k-acme", `{"images":["https://cdn.example.com/a.png"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Failure domain.RunFailure `json:"failure"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.FailureAllProvidersFailed, resp.Failure.Kind)
	assert.Equal(t, "timeout", resp.Failure.ProviderErrors["openai"])
}

func TestCreate_Validation(t *testing.T) {
	h := newTestRouter(&fakeService{}, &fakeSweeper{})

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no images", `{"images":[]}`},
		{"internal image", `{"images":["http://127.0.0.1/a.png"]}`},
		{"bad provider", `{"images":["https://a.example/a.png"],"providers":["Open AI"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/v1/acme/analyses", "k-acme", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(h, http.MethodPost, "/v1/acme/analyses", "k-acme", `{"images":["https://a.example/a.png"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	svc := &fakeService{err: domain.ErrInvalidInput}
	rec = do(newTestRouter(svc, &fakeSweeper{}), http.MethodPost, "/v1/acme/analyses", "k-acme", `{"images":["https://a.example/a.png"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReturnsHealth(t *testing.T) {
	svc := &fakeService{run: &domain.Run{
		ID:       runID,
		TenantID: "acme",
		Status:   domain.StatusFailed,
		Health:   &dompipe.Summary{Successful: 1, Failed: 1, Total: 5, Errors: []string{"dispatch: all 2 providers failed"}},
	}}
	rec := do(newTestRouter(svc, &fakeSweeper{}), http.MethodGet, "/v1/acme/analyses/"+runID, "k-acme", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Health *dompipe.Summary `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Health)
	assert.False(t, body.Health.Healthy)
	assert.Equal(t, 1, body.Health.Failed)
	assert.Equal(t, []string{"dispatch: all 2 providers failed"}, body.Health.Errors)
}

func TestTenantIsolation(t *testing.T) {
	svc := &fakeService{run: &domain.Run{ID: runID, TenantID: "acme"}}
	h := newTestRouter(svc, &fakeSweeper{})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/acme/analyses/"+runID, "k-acme", "").Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/v1/acme/analyses/"+runID, "k-globex", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/v1/globex/analyses/"+runID, "k-globex", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/v1/acme/analyses/"+runID, "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/v1/acme/analyses/nope", "k-acme", "").Code)
}

func TestListAndErrors(t *testing.T) {
	svc := &fakeService{errs: []*runerrors.RunError{{RunID: runID, Stage: "dispatch", Message: "openai: timeout"}}}
	h := newTestRouter(svc, &fakeSweeper{})

	rec := do(h, http.MethodGet, "/v1/acme/analyses?page=2&page_size=500", "k-acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.PaginatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 100, page.PageSize)

	rec = do(h, http.MethodGet, "/v1/acme/analyses/"+runID+"/errors", "k-acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openai: timeout")
}

func TestSweep(t *testing.T) {
	sw := &fakeSweeper{}
	h := newTestRouter(&fakeService{}, sw)

	rec := do(h, http.MethodPost, "/v1/ops/sweep", "k-ops", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10*time.Minute, sw.staleness)
	assert.Equal(t, time.Hour, sw.failure)
	assert.Contains(t, rec.Body.String(), `"retriggered":1`)

	rec = do(h, http.MethodPost, "/v1/ops/sweep", "k-ops", `{"staleness":"15m","failure":"2h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15*time.Minute, sw.staleness)
	assert.Equal(t, 2*time.Hour, sw.failure)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/v1/ops/sweep", "k-ops", `{"staleness":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/v1/ops/sweep", "k-ops", `{"staleness":"2h","failure":"1h"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/v1/ops/sweep", "k-acme", "").Code)
}

func TestProbesArePublic(t *testing.T) {
	h := newTestRouter(&fakeService{}, &fakeSweeper{})
	for _, p := range []string{"/health", "/ready", "/live", "/metrics"} {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, p, "", "").Code, p)
	}
}
