package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bryanwahyu/designlens/internal/application"
	aiapp "github.com/bryanwahyu/designlens/internal/application/ai"
	monitor "github.com/bryanwahyu/designlens/internal/application/pipeline"
	"github.com/bryanwahyu/designlens/internal/domain/ai"
	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	"github.com/bryanwahyu/designlens/internal/domain/knowledge"
	"github.com/bryanwahyu/designlens/internal/domain/pipeline"
	"github.com/bryanwahyu/designlens/internal/domain/runerrors"
)

// ContextBuilder builds the RAG context for a run. It must not fail.
type ContextBuilder interface {
	Build(ctx context.Context, userPrompt string, images []string) knowledge.Context
}

// Dispatcher fans a request out to providers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ids []ai.ProviderID, req ai.Request) []aiapp.Result
}

// Recorder receives run lifecycle counters (metrics endpoint).
type Recorder interface {
	RunStarted()
	RunFinished(status domain.Status)
}

// Service implements use-cases untuk analysis run.
// Satu run dimiliki satu goroutine; Service sendiri aman dipakai concurrent.
type Service struct {
	Repo       domain.Repository
	ErrorLog   runerrors.Repository
	Artifacts  domain.ArtifactStore
	Context    ContextBuilder
	Dispatcher Dispatcher
	Parser     *Parser
	Validator  *CoordinateValidator
	Selector   *CandidateSelector
	Clock      application.Clock
	Logger     *slog.Logger
	Events     chan<- pipeline.Event
	Metrics    Recorder

	SystemPrompt     string
	DefaultProviders []ai.ProviderID

	mu       sync.Mutex
	inflight map[domain.RunID]*flight
}

type flight struct {
	cancel context.CancelFunc
	swept  atomic.Bool
}

//
// ==== USE CASES ====
//

// RunAnalysisCommand untuk trigger analysis
type RunAnalysisCommand struct {
	TenantID  string
	Images    []string
	Prompt    string
	Providers []ai.ProviderID
}

// RunAnalysis creates a run and executes it to completion on ctx.
func (s *Service) RunAnalysis(ctx context.Context, cmd RunAnalysisCommand) (*domain.Run, error) {
	run, err := s.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run)
}

// Start creates a run and executes it in the background.
// Execution pakai context.Background() supaya gak ikut ke-cancel bareng request.
func (s *Service) Start(ctx context.Context, cmd RunAnalysisCommand) (*domain.Run, error) {
	run, err := s.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	go func() { _, _ = s.Execute(context.Background(), run) }()
	return &snapshot, nil
}

// Create validates the command and persists a pending run.
func (s *Service) Create(ctx context.Context, cmd RunAnalysisCommand) (*domain.Run, error) {
	if strings.TrimSpace(cmd.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrInvalidInput)
	}
	if len(cmd.Images) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", domain.ErrInvalidInput)
	}
	providers := cmd.Providers
	if len(providers) == 0 {
		providers = s.DefaultProviders
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers requested or configured", domain.ErrInvalidInput)
	}

	now := s.clock().Now()
	run := &domain.Run{
		ID:              domain.RunID(uuid.NewString()),
		TenantID:        cmd.TenantID,
		Images:          append([]string(nil), cmd.Images...),
		Prompt:          cmd.Prompt,
		Providers:       append([]ai.ProviderID(nil), providers...),
		Status:          domain.StatusPending,
		ProviderResults: []domain.ProviderResult{},
		Annotations:     []domain.Annotation{},
		Candidates:      []domain.PrototypeCandidate{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Repo.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

// Retrigger resets a stored run to pending and executes it again in the
// background. Used by the stuck-run sweeper.
func (s *Service) Retrigger(ctx context.Context, run *domain.Run) error {
	if !run.HasInputs() {
		return fmt.Errorf("%w: run %s has no images", domain.ErrInvalidInput, run.ID)
	}
	fresh := *run
	fresh.Status = domain.StatusPending
	fresh.RAG = nil
	fresh.ProviderResults = []domain.ProviderResult{}
	fresh.Annotations = []domain.Annotation{}
	fresh.Candidates = []domain.PrototypeCandidate{}
	fresh.Stages = nil
	fresh.Health = nil
	fresh.Error = ""
	fresh.UpdatedAt = s.clock().Now()
	if err := s.Repo.Save(ctx, &fresh); err != nil {
		return fmt.Errorf("reset run %s: %w", run.ID, err)
	}
	bg := context.WithoutCancel(ctx)
	go func() { _, _ = s.Execute(bg, &fresh) }()
	return nil
}

// Cancel aborts an in-flight run owned by this process. Whatever the run
// produces afterwards is discarded; the caller decides the stored status.
func (s *Service) Cancel(id domain.RunID) bool {
	s.mu.Lock()
	f, ok := s.inflight[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	f.swept.Store(true)
	f.cancel()
	return true
}

// InFlight reports how many runs this process is executing.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Get ambil 1 run by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// List ambil run per halaman
func (s *Service) List(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.Repo.Paginate(ctx, tenant, page, pageSize)
}

// Errors lists the persisted error log of a run.
func (s *Service) Errors(ctx context.Context, tenant string, id domain.RunID, limit int) ([]*runerrors.RunError, error) {
	if s.ErrorLog == nil {
		return []*runerrors.RunError{}, nil
	}
	return s.ErrorLog.ListByRun(ctx, tenant, string(id), limit)
}

//
// ==== EXECUTION ====
//

// Execute runs the pipeline context → dispatch → parse → select → persist
// for a stored run. It returns the finished run, or the run together with a
// single *domain.RunFailure. The run is never left in running: every exit
// path, panics included, persists a terminal status unless the run was
// cancelled by Cancel, in which case its result is discarded.
func (s *Service) Execute(ctx context.Context, run *domain.Run) (out *domain.Run, err error) {
	ctx, f := s.track(ctx, run.ID)
	defer s.untrack(run.ID, f)

	mon := monitor.NewMonitor(string(run.ID), s.clock(), s.Events)
	stage := pipeline.StageContext
	log := s.logger().With("run_id", run.ID, "tenant", run.TenantID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panic", "stage", stage, "panic", r)
			if st, ok := mon.Stage(stage); ok && st.Status == pipeline.StatusRunning {
				_ = mon.Fail(stage, fmt.Errorf("panic: %v", r))
			}
			out, err = run, s.fail(ctx, f, run, mon, &domain.RunFailure{
				Kind:   domain.FailureInternal,
				Stage:  stage,
				Reason: fmt.Sprintf("unexpected error: %v", r),
			})
		}
	}()

	s.recordStart()
	run.Status = domain.StatusRunning
	s.snapshot(run, mon)
	if err := s.Repo.Save(ctx, run); err != nil {
		return run, s.fail(ctx, f, run, mon, &domain.RunFailure{
			Kind: domain.FailureInternal, Stage: stage, Reason: "could not mark run running", Err: err,
		})
	}

	// 1. context (best-effort)
	_ = mon.Start(stage)
	rag := s.buildContext(ctx, run)
	run.RAG = &rag
	if rag.Degraded != "" {
		mon.Warn(stage, rag.Degraded)
		s.logRunError(ctx, run, stage, "", runerrors.SeverityWarning, rag.Degraded, nil)
	}
	_ = mon.Succeed(stage)
	if rf := s.checkCancelled(ctx, run, stage); rf != nil {
		return run, s.fail(ctx, f, run, mon, rf)
	}

	// 2. dispatch
	stage = pipeline.StageDispatch
	_ = mon.Start(stage)
	results := s.Dispatcher.Dispatch(ctx, run.Providers, ai.Request{
		SystemPrompt: s.SystemPrompt,
		Prompt:       rag.EnhancedPrompt,
		Images:       run.Images,
	})
	if rf := s.checkCancelled(ctx, run, stage); rf != nil {
		_ = mon.Fail(stage, ctx.Err())
		return run, s.fail(ctx, f, run, mon, rf)
	}
	run.ProviderResults = s.recordResults(ctx, run, results)

	succeeded, timedOut := 0, 0
	providerErrs := map[ai.ProviderID]string{}
	for _, pr := range run.ProviderResults {
		switch {
		case pr.Succeeded():
			succeeded++
		case pr.TimedOut:
			timedOut++
			providerErrs[pr.Provider] = pr.Error
		default:
			providerErrs[pr.Provider] = pr.Error
		}
	}
	for id, msg := range providerErrs {
		mon.Warn(stage, fmt.Sprintf("%s: %s", id, msg))
		s.logRunError(ctx, run, stage, id, runerrors.SeverityError, msg, nil)
	}
	if succeeded == 0 {
		cause := fmt.Errorf("all %d providers failed", len(run.ProviderResults))
		if timedOut == len(run.ProviderResults) && timedOut > 0 {
			_ = mon.Timeout(stage, cause)
		} else {
			_ = mon.Fail(stage, cause)
		}
		return run, s.fail(ctx, f, run, mon, &domain.RunFailure{
			Kind:           domain.FailureAllProvidersFailed,
			Stage:          stage,
			Reason:         cause.Error(),
			ProviderErrors: providerErrs,
		})
	}
	_ = mon.Succeed(stage)

	// 3. parse + validate/correct
	stage = pipeline.StageParse
	_ = mon.Start(stage)
	run.Annotations = s.collectAnnotations(ctx, run, mon, results)
	if len(run.Annotations) == 0 {
		cause := fmt.Errorf("%d providers responded but produced no usable annotations", succeeded)
		_ = mon.Fail(stage, cause)
		return run, s.fail(ctx, f, run, mon, &domain.RunFailure{
			Kind:           domain.FailureNoUsableAnnotations,
			Stage:          stage,
			Reason:         cause.Error(),
			ProviderErrors: providerErrs,
		})
	}
	_ = mon.Succeed(stage)

	// 4. select
	stage = pipeline.StageSelect
	_ = mon.Start(stage)
	run.Candidates = s.selector().Select(run.Annotations)
	_ = mon.Succeed(stage)
	if rf := s.checkCancelled(ctx, run, stage); rf != nil {
		return run, s.fail(ctx, f, run, mon, rf)
	}

	// 5. persist: the stage only succeeds once the write has landed
	stage = pipeline.StagePersist
	_ = mon.Start(stage)
	run.Status = domain.StatusSuccess
	run.Error = ""
	s.snapshot(run, mon)
	dctx := context.WithoutCancel(ctx)
	if err := s.Repo.Save(dctx, run); err != nil {
		_ = mon.Fail(stage, err)
		return run, s.fail(ctx, f, run, mon, &domain.RunFailure{
			Kind: domain.FailureInternal, Stage: stage, Reason: "could not persist results", Err: err,
		})
	}
	_ = mon.Succeed(stage)
	s.snapshot(run, mon)
	if err := s.Repo.Save(dctx, run); err != nil {
		// results are stored; only the persist stage record lags behind
		log.Warn("record persist stage", "err", err)
	}
	s.recordFinish(domain.StatusSuccess)
	log.Info("analysis done",
		"annotations", len(run.Annotations), "candidates", len(run.Candidates),
		"providers_ok", succeeded, "providers_failed", len(providerErrs))
	return run, nil
}

func (s *Service) buildContext(ctx context.Context, run *domain.Run) knowledge.Context {
	if s.Context == nil {
		return knowledge.Context{
			EnhancedPrompt: run.Prompt,
			Citations:      []string{},
			Snippets:       []knowledge.Snippet{},
			Degraded:       "knowledge context disabled",
		}
	}
	return s.Context.Build(ctx, run.Prompt, run.Images)
}

// recordResults converts dispatch results and archives raw output.
// Archive failures are warnings only.
func (s *Service) recordResults(ctx context.Context, run *domain.Run, results []aiapp.Result) []domain.ProviderResult {
	out := make([]domain.ProviderResult, 0, len(results))
	for _, r := range results {
		pr := domain.ProviderResult{
			Provider:    r.Provider,
			Annotations: []domain.Annotation{},
			DurationMS:  r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			pr.Error = r.Err.Error()
			pr.TimedOut = r.TimedOut()
		} else if s.Artifacts != nil {
			key := fmt.Sprintf("%s/%s/%s.json", run.TenantID, run.ID, r.Provider)
			url, err := s.Artifacts.Put(ctx, key, []byte(r.Response.Raw()), "application/json")
			if err != nil {
				s.logger().Warn("archive raw response", "run_id", run.ID, "provider", r.Provider, "err", err)
			} else {
				pr.RawURL = url
			}
		}
		out = append(out, pr)
	}
	return out
}

// collectAnnotations parses every successful response, corrects coordinates
// and accumulates them in priority order with run-wide unique ids.
func (s *Service) collectAnnotations(ctx context.Context, run *domain.Run, mon *monitor.Monitor, results []aiapp.Result) []domain.Annotation {
	parser := s.parser()
	validator := s.validator()
	all := []domain.Annotation{}
	seen := map[string]bool{}

	for i, r := range results {
		if r.Err != nil {
			continue
		}
		outcome, err := parser.Parse(r.Provider, r.Response, len(run.Images))
		for _, w := range outcome.Warnings {
			mon.Warn(pipeline.StageParse, fmt.Sprintf("%s: %s", r.Provider, w))
		}
		if err != nil {
			run.ProviderResults[i].Error = err.Error()
			mon.Warn(pipeline.StageParse, err.Error())
			s.logRunError(ctx, run, pipeline.StageParse, r.Provider, runerrors.SeverityError, err.Error(),
				map[string]any{"raw_excerpt": excerpt(r.Response.Raw(), 500)})
			continue
		}

		corrected := validator.CorrectAll(outcome.Annotations)
		for j := range corrected {
			if seen[corrected[j].ID] {
				corrected[j].ID = parser.newID()
			}
			seen[corrected[j].ID] = true
		}
		run.ProviderResults[i].Annotations = corrected
		all = append(all, corrected...)
	}
	return all
}

// checkCancelled returns a failure once ctx is done.
func (s *Service) checkCancelled(ctx context.Context, run *domain.Run, stage pipeline.StageName) *domain.RunFailure {
	if ctx.Err() == nil {
		return nil
	}
	return &domain.RunFailure{
		RunID:  run.ID,
		Kind:   domain.FailureCancelled,
		Stage:  stage,
		Reason: "run cancelled",
		Err:    ctx.Err(),
	}
}

// fail marks the run failed and persists it. A run cancelled through Cancel
// is left alone: the sweeper already decided its stored status.
func (s *Service) fail(ctx context.Context, f *flight, run *domain.Run, mon *monitor.Monitor, rf *domain.RunFailure) error {
	rf.RunID = run.ID
	s.snapshot(run, mon)
	if f != nil && f.swept.Load() {
		s.logger().Warn("discarding result of cancelled run", "run_id", run.ID, "stage", rf.Stage)
		s.recordFinish(domain.StatusFailed)
		rf.Kind = domain.FailureCancelled
		return rf
	}

	dctx := context.WithoutCancel(ctx)
	run.Status = domain.StatusFailed
	run.Error = rf.Error()
	if err := s.Repo.Save(dctx, run); err != nil {
		s.logger().Error("save failed run", "run_id", run.ID, "err", err)
		if uerr := s.Repo.UpdateStatus(dctx, run.TenantID, run.ID, domain.StatusFailed, rf.Reason); uerr != nil {
			s.logger().Error("mark run failed", "run_id", run.ID, "err", uerr)
		}
	}
	s.logRunError(dctx, run, rf.Stage, "", runerrors.SeverityError, rf.Error(), rf)
	s.recordFinish(domain.StatusFailed)
	s.logger().Warn("analysis failed", "run_id", run.ID, "kind", rf.Kind, "stage", rf.Stage, "reason", rf.Reason)
	return rf
}

func (s *Service) logRunError(ctx context.Context, run *domain.Run, stage pipeline.StageName, provider ai.ProviderID, severity, msg string, details any) {
	if s.ErrorLog == nil {
		return
	}
	entry := &runerrors.RunError{
		TenantID:  run.TenantID,
		RunID:     string(run.ID),
		Stage:     string(stage),
		Provider:  string(provider),
		Severity:  severity,
		Message:   msg,
		CreatedAt: s.clock().Now(),
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.DetailsJSON = string(b)
		}
	}
	if err := s.ErrorLog.Save(context.WithoutCancel(ctx), entry); err != nil {
		s.logger().Warn("save run error", "run_id", run.ID, "err", err)
	}
}

func (s *Service) track(ctx context.Context, id domain.RunID) (context.Context, *flight) {
	cctx, cancel := context.WithCancel(ctx)
	f := &flight{cancel: cancel}
	s.mu.Lock()
	if s.inflight == nil {
		s.inflight = make(map[domain.RunID]*flight)
	}
	if prev, ok := s.inflight[id]; ok {
		prev.swept.Store(true)
		prev.cancel()
	}
	s.inflight[id] = f
	s.mu.Unlock()
	return cctx, f
}

// untrack only removes f; a retriggered run may already own the slot.
func (s *Service) untrack(id domain.RunID, f *flight) {
	f.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] == f {
		delete(s.inflight, id)
	}
}

// snapshot copies the monitor's stage log and health onto the run.
func (s *Service) snapshot(run *domain.Run, mon *monitor.Monitor) {
	run.Stages = mon.Stages()
	h := mon.Summary()
	run.Health = &h
	run.UpdatedAt = mon.LastUpdate()
}

func (s *Service) recordStart() {
	if s.Metrics != nil {
		s.Metrics.RunStarted()
	}
}

func (s *Service) recordFinish(status domain.Status) {
	if s.Metrics != nil {
		s.Metrics.RunFinished(status)
	}
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) parser() *Parser {
	if s.Parser == nil {
		return NewParser()
	}
	return s.Parser
}

func (s *Service) validator() *CoordinateValidator {
	if s.Validator == nil {
		return NewCoordinateValidator()
	}
	return s.Validator
}

func (s *Service) selector() *CandidateSelector {
	if s.Selector == nil {
		return NewCandidateSelector(DefaultMaxCandidates)
	}
	return s.Selector
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
