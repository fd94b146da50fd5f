package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/designlens/internal/application"
	domain "github.com/bryanwahyu/designlens/internal/domain/pipeline"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMonitor_HappyPathRecordsDurations(t *testing.T) {
	clock := application.NewManualClock(t0)
	m := NewMonitor("run-1", clock, nil)

	require.NoError(t, m.Start(domain.StageContext))
	clock.Advance(250 * time.Millisecond)
	require.NoError(t, m.Succeed(domain.StageContext))

	st, ok := m.Stage(domain.StageContext)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSuccess, st.Status)
	assert.Equal(t, int64(250), st.DurationMS)
	require.NotNil(t, st.StartTime)
	require.NotNil(t, st.EndTime)
	assert.Equal(t, t0, *st.StartTime)

	sum := m.Summary()
	assert.Equal(t, 1, sum.Successful)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, len(domain.Stages), sum.Total)
	assert.True(t, sum.Healthy)
}

func TestMonitor_IllegalTransitions(t *testing.T) {
	m := NewMonitor("run-1", application.NewManualClock(t0), nil)

	err := m.Succeed(domain.StageDispatch)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot jump to success")

	require.NoError(t, m.Start(domain.StageDispatch))
	assert.ErrorIs(t, m.Start(domain.StageDispatch), domain.ErrInvalidTransition)

	require.NoError(t, m.Timeout(domain.StageDispatch, errors.New("provider hung")))
	assert.ErrorIs(t, m.Start(domain.StageDispatch), domain.ErrInvalidTransition, "timeout is terminal")
	assert.ErrorIs(t, m.Succeed(domain.StageDispatch), domain.ErrInvalidTransition)

	assert.ErrorIs(t, m.Start("render"), domain.ErrUnknownStage)
}

func TestMonitor_FailureMakesUnhealthyAndRecoverResets(t *testing.T) {
	m := NewMonitor("run-1", application.NewManualClock(t0), nil)

	require.NoError(t, m.Start(domain.StageContext))
	require.NoError(t, m.Succeed(domain.StageContext))
	require.NoError(t, m.Start(domain.StageParse))
	require.NoError(t, m.Fail(domain.StageParse, errors.New("bad json")))

	assert.False(t, m.Summary().Healthy)
	sum := m.Summary()
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"parse: bad json"}, sum.Errors)

	assert.ErrorIs(t, m.Recover(domain.StageContext), domain.ErrInvalidTransition, "successful stages are not recoverable")
	require.NoError(t, m.Recover(domain.StageParse))

	st, _ := m.Stage(domain.StageParse)
	assert.Equal(t, domain.StatusPending, st.Status)
	assert.Empty(t, st.Error)
	assert.Nil(t, st.StartTime)

	ctxStage, _ := m.Stage(domain.StageContext)
	assert.Equal(t, domain.StatusSuccess, ctxStage.Status, "recover keeps prior successful stages")
	assert.True(t, m.Summary().Healthy)

	require.NoError(t, m.Start(domain.StageParse), "recovered stage can run again")
}

func TestMonitor_WarningsAggregate(t *testing.T) {
	m := NewMonitor("run-1", application.NewManualClock(t0), nil)
	m.Warn(domain.StageContext, "knowledge base unavailable")
	m.Warn(domain.StageParse, "openai: 2 entries dropped")

	sum := m.Summary()
	assert.True(t, sum.Healthy, "warnings do not affect health")
	assert.Equal(t, []string{"context: knowledge base unavailable", "parse: openai: 2 entries dropped"}, sum.Warnings)

	st, _ := m.Stage(domain.StageParse)
	assert.Equal(t, []string{"openai: 2 entries dropped"}, st.Warnings)
}

func TestMonitor_EventsAreOrdered(t *testing.T) {
	events := make(chan domain.Event, 16)
	m := NewMonitor("run-9", application.NewManualClock(t0), events)

	require.NoError(t, m.Start(domain.StageContext))
	require.NoError(t, m.Succeed(domain.StageContext))
	require.NoError(t, m.Start(domain.StageDispatch))
	require.NoError(t, m.Fail(domain.StageDispatch, errors.New("boom")))
	require.NoError(t, m.Recover(domain.StageDispatch))
	close(events)

	var got []domain.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 5)
	for i, ev := range got {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, "run-9", ev.RunID)
	}
	assert.Equal(t, domain.StatusError, got[3].To)
	assert.Equal(t, "boom", got[3].Detail)
	assert.Equal(t, domain.StatusPending, got[4].To)
}

func TestMonitor_FullSubscriberDoesNotBlock(t *testing.T) {
	events := make(chan domain.Event) // unbuffered, nobody reading
	m := NewMonitor("run-1", application.NewManualClock(t0), events)

	done := make(chan struct{})
	go func() {
		_ = m.Start(domain.StageContext)
		_ = m.Succeed(domain.StageContext)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor blocked on event channel")
	}
}

func TestMonitor_StagesPreserveOrderAndAreCopies(t *testing.T) {
	m := NewMonitor("run-1", application.NewManualClock(t0), nil)
	m.Warn(domain.StageSelect, "w")

	stages := m.Stages()
	require.Len(t, stages, len(domain.Stages))
	for i, name := range domain.Stages {
		assert.Equal(t, name, stages[i].Name)
	}

	stages[3].Warnings[0] = "mutated"
	again, _ := m.Stage(domain.StageSelect)
	assert.Equal(t, "w", again.Warnings[0])
}
