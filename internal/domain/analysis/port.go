package analysis

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, tenant string, id RunID) (*Run, error)
	Paginate(ctx context.Context, tenant string, page, pageSize int) (PaginatedResult, error)

	// ListStale returns runs still pending or running whose last update is before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Run, error)
	UpdateStatus(ctx context.Context, tenant string, id RunID, status Status, reason string) error
}

// ArtifactStore port (penyimpanan raw provider output)
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
