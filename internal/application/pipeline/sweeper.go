package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/designlens/internal/application"
	"github.com/bryanwahyu/designlens/internal/domain/analysis"
)

// Retriggerer re-executes a persisted run from the beginning.
type Retriggerer interface {
	Retrigger(ctx context.Context, run *analysis.Run) error
}

// Canceller aborts an in-flight run, if this process owns one. It reports
// whether a live run was cancelled.
type Canceller interface {
	Cancel(id analysis.RunID) bool
}

// Action is what a sweep decided to do with one stale run.
type Action string

const (
	ActionRetriggered Action = "retriggered"
	ActionFailed      Action = "failed"
	ActionReset       Action = "reset"
	ActionSkipped     Action = "skipped"
)

// SweepItem records the decision for one run.
type SweepItem struct {
	RunID    analysis.RunID  `json:"run_id"`
	TenantID string          `json:"tenant_id"`
	Status   analysis.Status `json:"status"`
	Age      string          `json:"age"`
	Action   Action          `json:"action"`
	Error    string          `json:"error,omitempty"`
}

// SweepReport is the outcome of one sweepStuckRuns pass.
type SweepReport struct {
	Scanned     int         `json:"scanned"`
	Retriggered int         `json:"retriggered"`
	Failed      int         `json:"failed"`
	Reset       int         `json:"reset"`
	Errors      int         `json:"errors"`
	Items       []SweepItem `json:"items"`
}

// Sweeper finds runs that stopped making progress and resolves them.
type Sweeper struct {
	Repo      analysis.Repository
	Retrigger Retriggerer
	Canceller Canceller
	Clock     application.Clock
	Logger    *slog.Logger
}

func NewSweeper(repo analysis.Repository, retrigger Retriggerer, canceller Canceller, clock application.Clock, logger *slog.Logger) *Sweeper {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{Repo: repo, Retrigger: retrigger, Canceller: canceller, Clock: clock, Logger: logger}
}

// SweepStuckRuns inspects every pending or running run last updated more
// than staleness ago:
//   - no images ever attached: reset to draft
//   - older than failure: cancelled and marked failed
//   - otherwise: re-triggered
//
// Per-run errors are counted in the report; only a failure to list runs is
// returned as an error.
func (s *Sweeper) SweepStuckRuns(ctx context.Context, staleness, failure time.Duration) (SweepReport, error) {
	if staleness <= 0 {
		return SweepReport{}, fmt.Errorf("%w: staleness threshold must be positive", analysis.ErrInvalidInput)
	}
	if failure <= staleness {
		return SweepReport{}, fmt.Errorf("%w: failure threshold %s must exceed staleness threshold %s", analysis.ErrInvalidInput, failure, staleness)
	}

	now := s.Clock.Now()
	runs, err := s.Repo.ListStale(ctx, now.Add(-staleness))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list stale runs: %w", err)
	}

	report := SweepReport{Scanned: len(runs), Items: make([]SweepItem, 0, len(runs))}
	for _, run := range runs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		age := now.Sub(run.UpdatedAt)
		item := SweepItem{RunID: run.ID, TenantID: run.TenantID, Status: run.Status, Age: age.Round(time.Second).String()}

		item.Action, err = s.resolve(ctx, run, age, failure)
		if err != nil {
			item.Error = err.Error()
			report.Errors++
			s.Logger.Error("sweep run", "run_id", run.ID, "action", item.Action, "err", err)
		} else {
			s.Logger.Info("sweep run", "run_id", run.ID, "action", item.Action, "age", item.Age)
			switch item.Action {
			case ActionRetriggered:
				report.Retriggered++
			case ActionFailed:
				report.Failed++
			case ActionReset:
				report.Reset++
			}
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

func (s *Sweeper) resolve(ctx context.Context, run *analysis.Run, age, failure time.Duration) (Action, error) {
	if run.Status != analysis.StatusPending && run.Status != analysis.StatusRunning {
		return ActionSkipped, nil
	}
	if !run.HasInputs() {
		s.cancel(run.ID)
		return ActionReset, s.Repo.UpdateStatus(ctx, run.TenantID, run.ID, analysis.StatusDraft, "no inputs attached")
	}
	if age > failure {
		s.cancel(run.ID)
		reason := fmt.Sprintf("no progress for %s", age.Round(time.Second))
		return ActionFailed, s.Repo.UpdateStatus(ctx, run.TenantID, run.ID, analysis.StatusFailed, reason)
	}
	if s.Retrigger == nil {
		return ActionSkipped, nil
	}
	// a stale running run means its worker is gone
	s.cancel(run.ID)
	return ActionRetriggered, s.Retrigger.Retrigger(ctx, run)
}

func (s *Sweeper) cancel(id analysis.RunID) {
	if s.Canceller != nil && s.Canceller.Cancel(id) {
		s.Logger.Warn("cancelled in-flight run", "run_id", id)
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval, staleness, failure time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := s.SweepStuckRuns(ctx, staleness, failure)
			if err != nil {
				s.Logger.Error("sweep stuck runs", "err", err)
				continue
			}
			if rep.Scanned > 0 {
				s.Logger.Info("sweep done", "scanned", rep.Scanned, "retriggered", rep.Retriggered,
					"failed", rep.Failed, "reset", rep.Reset, "errors", rep.Errors)
			}
		}
	}
}
