package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// StageName enum
type StageName string

const (
	StageContext  StageName = "context"
	StageDispatch StageName = "dispatch"
	StageParse    StageName = "parse"
	StageSelect   StageName = "select"
	StagePersist  StageName = "persist"
)

// Stages is the strict execution order of one analysis run.
var Stages = []StageName{StageContext, StageDispatch, StageParse, StageSelect, StagePersist}

// Status enum
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether no ordinary transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusTimeout
}

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ErrUnknownStage is returned for a stage name not tracked by a monitor.
var ErrUnknownStage = errors.New("unknown stage")

// Stage is one tracked step of a run.
type Stage struct {
	Name       StageName  `json:"stage_name"`
	Status     Status     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// Summary aggregates stage health for a run.
type Summary struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Total      int      `json:"total"`
	Healthy    bool     `json:"healthy"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// CanTransition is the stage state machine:
// pending → running → {success | error | timeout}. Leaving a terminal state
// is only possible through recovery, which is not an ordinary transition.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// CheckTransition returns a descriptive ErrInvalidTransition when the move is illegal.
func CheckTransition(name StageName, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: stage %s %s -> %s", ErrInvalidTransition, name, from, to)
}

// Event is emitted on every stage transition, in order.
type Event struct {
	RunID  string    `json:"run_id"`
	Seq    int       `json:"seq"`
	Stage  StageName `json:"stage"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}
