package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/designlens/internal/domain/runerrors"
	"github.com/bryanwahyu/designlens/internal/infra/db/runcodec"
)

type RunErrorRepository struct {
	db *sql.DB
}

func NewRunErrorRepository(db *sql.DB) *RunErrorRepository { return &RunErrorRepository{db: db} }

func (r *RunErrorRepository) Save(ctx context.Context, e *domain.RunError) error {
	const q = `
INSERT INTO analysis_run_errors
  (tenant_id, run_id, stage, provider, severity, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?,?)
`
	severity := e.Severity
	if severity == "" {
		severity = domain.SeverityError
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		runcodec.StringOrDash(e.TenantID), runcodec.StringOrDash(e.RunID), runcodec.StringOrDash(e.Stage),
		e.Provider, severity, runcodec.StringOrDash(e.Message), runcodec.DetailsJSON(e.DetailsJSON), created,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *RunErrorRepository) ListByRun(ctx context.Context, tenant string, runID string, limit int) ([]*domain.RunError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, run_id, stage, provider, severity, message, details_json, created_at
FROM analysis_run_errors
WHERE tenant_id = ? AND run_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.RunError{}
	for rows.Next() {
		var e domain.RunError
		if err := rows.Scan(&e.ID, &e.TenantID, &e.RunID, &e.Stage, &e.Provider, &e.Severity, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
