package runerrors

import "context"

// Repository defines persistence for run errors
type Repository interface {
	Save(ctx context.Context, e *RunError) error
	ListByRun(ctx context.Context, tenant string, runID string, limit int) ([]*RunError, error)
}
