package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	"github.com/bryanwahyu/designlens/internal/domain/pipeline"
)

// ErrNotFound is returned by repositories when a run does not exist.
var ErrNotFound = errors.New("analysis run not found")

// ErrInvalidInput is returned for a request that cannot start a run.
var ErrInvalidInput = errors.New("invalid analysis input")

// ParseError means a provider returned output from which no annotation list
// could be recovered.
type ParseError struct {
	Provider ai.ProviderID
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s output: %s", e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// FailureKind classifies a terminal run failure.
type FailureKind string

const (
	FailureAllProvidersFailed  FailureKind = "all_providers_failed"
	FailureNoUsableAnnotations FailureKind = "no_usable_annotations"
	FailureCancelled           FailureKind = "cancelled"
	FailureInternal            FailureKind = "internal"
)

// RunFailure is the single terminal failure surfaced to the caller of a run.
type RunFailure struct {
	RunID          RunID                    `json:"run_id"`
	Kind           FailureKind              `json:"kind"`
	Stage          pipeline.StageName       `json:"stage"`
	Reason         string                   `json:"reason"`
	ProviderErrors map[ai.ProviderID]string `json:"provider_errors,omitempty"`
	Err            error                    `json:"-"`
}

func (e *RunFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "analysis %s failed at %s: %s", e.RunID, e.Stage, e.Reason)
	if len(e.ProviderErrors) > 0 {
		ids := make([]string, 0, len(e.ProviderErrors))
		for id := range e.ProviderErrors {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "; %s: %s", id, e.ProviderErrors[ai.ProviderID(id)])
		}
	}
	return b.String()
}

func (e *RunFailure) Unwrap() error { return e.Err }

// AsRunFailure unwraps err into a *RunFailure when possible.
func AsRunFailure(err error) (*RunFailure, bool) {
	var rf *RunFailure
	if errors.As(err, &rf) {
		return rf, true
	}
	return nil, false
}
