package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	"github.com/bryanwahyu/designlens/internal/infra/db/runcodec"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO analysis_runs
(` + runcodec.Columns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), prompt=VALUES(prompt),
 images=VALUES(images), providers=VALUES(providers), rag_context=VALUES(rag_context),
 provider_results=VALUES(provider_results), annotations=VALUES(annotations),
 candidates=VALUES(candidates), stages=VALUES(stages), health=VALUES(health),
 error=VALUES(error), updated_at=VALUES(updated_at);
`
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
WHERE tenant_id=? AND id=? LIMIT 1;
`
	run, err := runcodec.Scan(r.db.QueryRowContext(ctx, q, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// Paginate with offset + limit (classic pagination)
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
WHERE tenant_id=?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;
`
	runs, err := r.query(ctx, q, tenant, pageSize, offset)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying runs: %w", err)
	}

	// Get total count for pagination
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_runs WHERE tenant_id = ?", tenant).Scan(&total); err != nil {
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

// ListStale returns pending/running runs not updated since cutoff, oldest first
func (r *RunRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Run, error) {
	const q = `
SELECT ` + runcodec.Columns + `
FROM analysis_runs
WHERE status IN (?, ?) AND updated_at < ?
ORDER BY updated_at ASC
LIMIT 500;
`
	return r.query(ctx, q, domain.StatusPending, domain.StatusRunning, cutoff)
}

// UpdateStatus hanya update kolom status + error
func (r *RunRepository) UpdateStatus(ctx context.Context, tenant string, id domain.RunID, status domain.Status, reason string) error {
	const q = `
UPDATE analysis_runs
SET status = ?, error = ?, updated_at = ?
WHERE tenant_id = ? AND id = ?;`
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
