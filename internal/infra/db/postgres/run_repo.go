package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	"github.com/bryanwahyu/designlens/internal/infra/db/runcodec"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO analysis_runs
(` + runcodec.Columns + `)
VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7::jsonb,
        $8::jsonb,$9::jsonb,$10::jsonb,$11::jsonb,$12::jsonb,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 prompt = EXCLUDED.prompt,
 images = EXCLUDED.images,
 providers = EXCLUDED.providers,
 rag_context = EXCLUDED.rag_context,
 provider_results = EXCLUDED.provider_results,
 annotations = EXCLUDED.annotations,
 candidates = EXCLUDED.candidates,
 stages = EXCLUDED.stages,
 health = EXCLUDED.health,
 error = EXCLUDED.error,
 updated_at = EXCLUDED.updated_at;`

	row, err := runcodec.Encode(run, time.Now())
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, row.Args()...); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get by ID + Tenant
func (r *RunRepository) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	const q = `
SELECT ` + runcodec.Columns + `
FROM analysis_runs
WHERE tenant_id=$1 AND id=$2
LIMIT 1;`
	run, err := runcodec.Scan(r.db.QueryRowContext(ctx, q, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// Paginate with offset + limit (classic pagination), newest first
func (r *RunRepository) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = `
SELECT ` + runcodec.Columns + `
FROM analysis_runs
WHERE tenant_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3;`
	runs, err := r.query(ctx, q, tenant, pageSize, offset)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying runs: %w", err)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_runs WHERE tenant_id=$1`, tenant).Scan(&total); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       runs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: runcodec.TotalPages(total, pageSize),
	}, nil
}

// ListStale returns pending/running runs across tenants not updated since cutoff.
func (r *RunRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Run, error) {
	const q = `
SELECT ` + runcodec.Columns + `
FROM analysis_runs
WHERE status IN ($1, $2) AND updated_at < $3
ORDER BY updated_at ASC
LIMIT 500;`
	return r.query(ctx, q, domain.StatusPending, domain.StatusRunning, cutoff)
}

// UpdateStatus hanya update kolom status (dan alasan kalau ada)
func (r *RunRepository) UpdateStatus(ctx context.Context, tenant string, id domain.RunID, status domain.Status, reason string) error {
	const q = `
UPDATE analysis_runs
SET status = $1, error = $2, updated_at = $3
WHERE tenant_id = $4 AND id = $5;`
	res, err := r.db.ExecContext(ctx, q, status, reason, time.Now(), tenant, id)
	if err != nil {
		return fmt.Errorf("update run %s status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RunRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Run{}
	for rows.Next() {
		run, err := runcodec.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
