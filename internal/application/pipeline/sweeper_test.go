package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/designlens/internal/application"
	"github.com/bryanwahyu/designlens/internal/domain/analysis"
)

type statusUpdate struct {
	ID     analysis.RunID
	Status analysis.Status
	Reason string
}

type fakeRepo struct {
	mu      sync.Mutex
	runs    []*analysis.Run
	updates []statusUpdate
	listErr error
	failOn  analysis.RunID
	cutoff  time.Time
}

func (f *fakeRepo) Save(context.Context, *analysis.Run) error { return nil }
func (f *fakeRepo) Get(context.Context, string, analysis.RunID) (*analysis.Run, error) {
	return nil, analysis.ErrNotFound
}
func (f *fakeRepo) Paginate(context.Context, string, int, int) (analysis.PaginatedResult, error) {
	return analysis.PaginatedResult{}, nil
}

func (f *fakeRepo) ListStale(_ context.Context, cutoff time.Time) ([]*analysis.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*analysis.Run
	for _, r := range f.runs {
		if r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ string, id analysis.RunID, status analysis.Status, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failOn {
		return errors.New("db down")
	}
	f.updates = append(f.updates, statusUpdate{ID: id, Status: status, Reason: reason})
	return nil
}

type fakeRetrigger struct {
	mu  sync.Mutex
	ids []analysis.RunID
}

func (f *fakeRetrigger) Retrigger(_ context.Context, run *analysis.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, run.ID)
	return nil
}

type fakeCanceller struct {
	live      map[analysis.RunID]bool
	cancelled []analysis.RunID
}

func (f *fakeCanceller) Cancel(id analysis.RunID) bool {
	f.cancelled = append(f.cancelled, id)
	return f.live[id]
}

func staleRun(id string, status analysis.Status, age time.Duration, now time.Time, images ...string) *analysis.Run {
	return &analysis.Run{
		ID:        analysis.RunID(id),
		TenantID:  "acme",
		Status:    status,
		Images:    images,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
}

func TestSweep_ModeratelyStalePendingRunIsRetriggered(t *testing.T) {
	clock := application.NewManualClock(t0)
	repo := &fakeRepo{runs: []*analysis.Run{
		staleRun("r1", analysis.StatusPending, 15*time.Minute, t0, "https://cdn.example.com/a.png"),
	}}
	rt := &fakeRetrigger{}
	s := NewSweeper(repo, rt, nil, clock, nil)

	rep, err := s.SweepStuckRuns(context.Background(), 10*time.Minute, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Retriggered)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, []analysis.RunID{"r1"}, rt.ids)
	assert.Empty(t, repo.updates, "re-triggered run must not be marked failed")
	assert.Equal(t, t0.Add(-10*time.Minute), repo.cutoff)
}

func TestSweep_Decisions(t *testing.T) {
	clock := application.NewManualClock(t0)
	img := "https://cdn.example.com/a.png"
	repo := &fakeRepo{runs: []*analysis.Run{
		staleRun("fresh", analysis.StatusPending, 2*time.Minute, t0, img),
		staleRun("retry", analysis.StatusRunning, 20*time.Minute, t0, img),
		staleRun("dead", analysis.StatusRunning, 3*time.Hour, t0, img),
		staleRun("empty", analysis.StatusPending, 30*time.Minute, t0),
		staleRun("done", analysis.StatusSuccess, 5*time.Hour, t0, img),
	}}
	rt := &fakeRetrigger{}
	cn := &fakeCanceller{live: map[analysis.RunID]bool{"dead": true}}
	s := NewSweeper(repo, rt, cn, clock, nil)

	rep, err := s.SweepStuckRuns(context.Background(), 10*time.Minute, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Scanned)
	assert.Equal(t, 1, rep.Retriggered)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Reset)
	assert.Zero(t, rep.Errors)

	assert.Equal(t, []analysis.RunID{"retry"}, rt.ids)
	require.Len(t, repo.updates, 2)
	assert.Equal(t, statusUpdate{ID: "dead", Status: analysis.StatusFailed, Reason: "no progress for 3h0m0s"}, repo.updates[0])
	assert.Equal(t, analysis.RunID("empty"), repo.updates[1].ID)
	assert.Equal(t, analysis.StatusDraft, repo.updates[1].Status)

	assert.Contains(t, cn.cancelled, analysis.RunID("dead"))
	assert.Contains(t, cn.cancelled, analysis.RunID("retry"))

	actions := map[analysis.RunID]Action{}
	for _, it := range rep.Items {
		actions[it.RunID] = it.Action
	}
	assert.Equal(t, ActionSkipped, actions["done"])
}

func TestSweep_PerRunErrorsAreCounted(t *testing.T) {
	clock := application.NewManualClock(t0)
	repo := &fakeRepo{
		runs: []*analysis.Run{
			staleRun("a", analysis.StatusPending, 2*time.Hour, t0, "x"),
			staleRun("b", analysis.StatusPending, 2*time.Hour, t0, "x"),
		},
		failOn: "a",
	}
	s := NewSweeper(repo, &fakeRetrigger{}, nil, clock, nil)

	rep, err := s.SweepStuckRuns(context.Background(), 10*time.Minute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, "db down", rep.Items[0].Error)
}

func TestSweep_InvalidThresholds(t *testing.T) {
	s := NewSweeper(&fakeRepo{}, nil, nil, application.NewManualClock(t0), nil)

	_, err := s.SweepStuckRuns(context.Background(), 0, time.Hour)
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	_, err = s.SweepStuckRuns(context.Background(), time.Hour, time.Minute)
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	// equal thresholds would fail a run the moment it turns stale
	_, err = s.SweepStuckRuns(context.Background(), time.Hour, time.Hour)
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)
}

func TestSweep_ListError(t *testing.T) {
	boom := errors.New("connection refused")
	s := NewSweeper(&fakeRepo{listErr: boom}, nil, nil, application.NewManualClock(t0), nil)
	_, err := s.SweepStuckRuns(context.Background(), time.Minute, time.Hour)
	assert.ErrorIs(t, err, boom)
}
