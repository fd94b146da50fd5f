package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/bryanwahyu/designlens/internal/application"
	domain "github.com/bryanwahyu/designlens/internal/domain/pipeline"
)

// Monitor tracks the stage state machine of one analysis run. It is owned by
// the orchestrator for the duration of the run, which copies Stages, Summary
// and LastUpdate onto the run before every save.
type Monitor struct {
	runID  string
	clock  application.Clock
	events chan<- domain.Event

	mu       sync.Mutex
	order    []domain.StageName
	stages   map[domain.StageName]*domain.Stage
	errors   []string
	warnings []string
	seq      int
	updated  time.Time
}

// NewMonitor tracks the given stages (domain.Stages when none are given), all
// starting in pending. events may be nil; sends never block, so a slow
// subscriber loses events rather than stalling the pipeline.
func NewMonitor(runID string, clock application.Clock, events chan<- domain.Event, stages ...domain.StageName) *Monitor {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if len(stages) == 0 {
		stages = domain.Stages
	}
	m := &Monitor{
		runID:   runID,
		clock:   clock,
		events:  events,
		order:   append([]domain.StageName(nil), stages...),
		stages:  make(map[domain.StageName]*domain.Stage, len(stages)),
		updated: clock.Now(),
	}
	for _, name := range stages {
		m.stages[name] = &domain.Stage{Name: name, Status: domain.StatusPending}
	}
	return m
}

// Start moves a stage from pending to running and records its start time.
func (m *Monitor) Start(name domain.StageName) error {
	return m.transition(name, domain.StatusRunning, "")
}

// Succeed completes a running stage.
func (m *Monitor) Succeed(name domain.StageName) error {
	return m.transition(name, domain.StatusSuccess, "")
}

// Fail marks a running stage as error and records the cause.
func (m *Monitor) Fail(name domain.StageName, cause error) error {
	return m.transition(name, domain.StatusError, errText(cause))
}

// Timeout marks a running stage as timed out.
func (m *Monitor) Timeout(name domain.StageName, cause error) error {
	return m.transition(name, domain.StatusTimeout, errText(cause))
}

// Warn attaches a non-fatal warning to a stage.
func (m *Monitor) Warn(name domain.StageName, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := fmt.Sprintf("%s: %s", name, msg)
	m.warnings = append(m.warnings, line)
	if st, ok := m.stages[name]; ok {
		st.Warnings = append(st.Warnings, msg)
	}
	m.updated = m.clock.Now()
}

// Recover resets a stage in error or timeout back to pending so it can be
// retried. Successful stages are untouched. It is the only way out of a
// failed terminal state.
func (m *Monitor) Recover(name domain.StageName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownStage, name)
	}
	if st.Status != domain.StatusError && st.Status != domain.StatusTimeout {
		return fmt.Errorf("%w: stage %s cannot recover from %s", domain.ErrInvalidTransition, name, st.Status)
	}
	from := st.Status
	*st = domain.Stage{Name: name, Status: domain.StatusPending}
	m.emitLocked(name, from, domain.StatusPending, "recovered")
	return nil
}

func (m *Monitor) transition(name domain.StageName, to domain.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownStage, name)
	}
	if err := domain.CheckTransition(name, st.Status, to); err != nil {
		return err
	}
	now := m.clock.Now()
	from := st.Status
	st.Status = to
	if to == domain.StatusRunning {
		st.StartTime = &now
	} else {
		st.EndTime = &now
		if st.StartTime != nil {
			st.DurationMS = now.Sub(*st.StartTime).Milliseconds()
		}
	}
	if errMsg != "" {
		st.Error = errMsg
		m.errors = append(m.errors, fmt.Sprintf("%s: %s", name, errMsg))
	}
	m.emitLocked(name, from, to, errMsg)
	return nil
}

func (m *Monitor) emitLocked(name domain.StageName, from, to domain.Status, detail string) {
	m.seq++
	m.updated = m.clock.Now()
	if m.events == nil {
		return
	}
	ev := domain.Event{RunID: m.runID, Seq: m.seq, Stage: name, From: from, To: to, At: m.updated, Detail: detail}
	select {
	case m.events <- ev:
	default:
	}
}

// Stage returns a copy of one stage record.
func (m *Monitor) Stage(name domain.StageName) (domain.Stage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[name]
	if !ok {
		return domain.Stage{}, false
	}
	return copyStage(st), true
}

// Stages returns copies of all stage records in execution order.
func (m *Monitor) Stages() []domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Stage, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, copyStage(m.stages[name]))
	}
	return out
}

// Summary counts stages and collects every error and warning so far.
func (m *Monitor) Summary() domain.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := domain.Summary{Total: len(m.order)}
	for _, name := range m.order {
		switch m.stages[name].Status {
		case domain.StatusSuccess:
			s.Successful++
		case domain.StatusError, domain.StatusTimeout:
			s.Failed++
		}
	}
	s.Healthy = s.Failed == 0
	s.Errors = append([]string(nil), m.errors...)
	s.Warnings = append([]string(nil), m.warnings...)
	return s
}

// LastUpdate is the time of the most recent transition or warning.
func (m *Monitor) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updated
}

func copyStage(st *domain.Stage) domain.Stage {
	c := *st
	c.Warnings = append([]string(nil), st.Warnings...)
	return c
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
