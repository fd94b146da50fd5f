package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/designlens/internal/application/analysis"
	"github.com/bryanwahyu/designlens/internal/application/pipeline"
	domai "github.com/bryanwahyu/designlens/internal/domain/ai"
	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	"github.com/bryanwahyu/designlens/internal/domain/runerrors"
	"github.com/bryanwahyu/designlens/internal/middleware"
)

// AnalysisService is the part of the analysis service the HTTP layer uses.
type AnalysisService interface {
	Start(ctx context.Context, cmd appanalysis.RunAnalysisCommand) (*domain.Run, error)
	RunAnalysis(ctx context.Context, cmd appanalysis.RunAnalysisCommand) (*domain.Run, error)
	Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error)
	List(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error)
	Errors(ctx context.Context, tenant string, id domain.RunID, limit int) ([]*runerrors.RunError, error)
}

// Sweeper triggers a stuck-run sweep on demand.
type Sweeper interface {
	SweepStuckRuns(ctx context.Context, staleness, failure time.Duration) (pipeline.SweepReport, error)
}

type Options struct {
	APIKeys     map[string]string
	OpsKey      string
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.Metrics
	Checkers    map[string]middleware.HealthChecker
	Logger      *slog.Logger

	// defaults for POST /v1/ops/sweep
	Staleness time.Duration
	Failure   time.Duration
}

type Router struct {
	analyses AnalysisService
	sweeper  Sweeper
	opts     Options
	logger   *slog.Logger
}

func NewRouter(analyses AnalysisService, sweeper Sweeper, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics()
	}
	r := &Router{analyses: analyses, sweeper: sweeper, opts: opts, logger: logger}
	mux := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware(logger))
	mux.Use(metrics.Middleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys, opts.OpsKey))
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", metrics.Handler)

	mux.Post("/v1/ops/sweep", r.wrap(r.handleSweep))

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireTenant(func(req *http.Request) string {
			return chi.URLParam(req, "tenant")
		}))
		rt.Post("/analyses", r.wrap(r.handleCreate))
		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Get("/analyses/{id}/errors", r.wrap(r.handleErrors))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks a client error that is not a domain error.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, domai.ErrQuotaExceeded):
			http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
		case errors.As(err, &br), errors.Is(err, domain.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			if rf, ok := domain.AsRunFailure(err); ok {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"error":   rf.Error(),
					"failure": rf,
				})
				return
			}
			r.logger.ErrorContext(req.Context(), "request failed",
				slog.String("path", req.URL.Path), slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

type createRequest struct {
	Images    []string `json:"images"`
	Prompt    string   `json:"prompt"`
	Providers []string `json:"providers"`
}

// POST /v1/{tenant}/analyses[?wait=true]
// Body: {"images": ["https://..."], "prompt": "...", "providers": ["openai"]}
func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")

	var body createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&body); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	body.Prompt = middleware.SanitizeString(body.Prompt)
	if err := middleware.ValidateImages(body.Images); err != nil {
		return invalid("%v", err)
	}
	if err := middleware.ValidatePrompt(body.Prompt); err != nil {
		return invalid("%v", err)
	}
	if err := middleware.ValidateProviders(body.Providers); err != nil {
		return invalid("%v", err)
	}

	cmd := appanalysis.RunAnalysisCommand{
		TenantID: tenant,
		Images:   body.Images,
		Prompt:   body.Prompt,
	}
	for _, p := range body.Providers {
		cmd.Providers = append(cmd.Providers, domai.ProviderID(p))
	}

	if wait, _ := strconv.ParseBool(req.URL.Query().Get("wait")); wait {
		run, err := r.analyses.RunAnalysis(req.Context(), cmd)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, run)
	}

	// 🚀 jalan di background, client polling GET /analyses/{id}
	run, err := r.analyses.Start(req.Context(), cmd)
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/%s/analyses/%s", tenant, run.ID))
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        run.ID,
		"status":    run.Status,
		"tenant":    tenant,
		"providers": run.Providers,
		"message":   "analysis started in background",
		"queuedAt":  run.CreatedAt,
	})
}

// GET /v1/{tenant}/analyses?page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.analyses.List(req.Context(), tenant, page, middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{tenant}/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return invalid("%v", err)
	}

	run, err := r.analyses.Get(req.Context(), tenant, domain.RunID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

// GET /v1/{tenant}/analyses/{id}/errors?limit=
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return invalid("%v", err)
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.analyses.Errors(req.Context(), tenant, domain.RunID(id), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// POST /v1/ops/sweep
// Body (optional): {"staleness": "10m", "failure": "1h"}
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Staleness string `json:"staleness"`
		Failure   string `json:"failure"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return invalid("invalid JSON body: %v", err)
		}
	}

	staleness, err := durationOr(body.Staleness, r.opts.Staleness)
	if err != nil {
		return invalid("staleness: %v", err)
	}
	failure, err := durationOr(body.Failure, r.opts.Failure)
	if err != nil {
		return invalid("failure: %v", err)
	}

	report, err := r.sweeper.SweepStuckRuns(req.Context(), staleness, failure)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
