// Package runcodec maps an analysis run onto the flat row shared by the
// SQL run repositories. Nested collections are stored as JSON columns.
package runcodec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	"github.com/bryanwahyu/designlens/internal/domain/analysis"
	"github.com/bryanwahyu/designlens/internal/domain/knowledge"
	"github.com/bryanwahyu/designlens/internal/domain/pipeline"
)

// Columns is the column list in the order both repositories select it.
const Columns = `id, tenant_id, status, prompt, images, providers, rag_context,
       provider_results, annotations, candidates, stages, health, error, created_at, updated_at`

// Row is one analysis_runs row.
type Row struct {
	ID              string
	TenantID        string
	Status          string
	Prompt          string
	Images          []byte
	Providers       []byte
	RAGContext      []byte
	ProviderResults []byte
	Annotations     []byte
	Candidates      []byte
	Stages          []byte
	Health          []byte
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Scan reads one row selected with Columns.
func Scan(s Scanner) (*analysis.Run, error) {
	var row Row
	if err := s.Scan(
		&row.ID, &row.TenantID, &row.Status, &row.Prompt, &row.Images, &row.Providers, &row.RAGContext,
		&row.ProviderResults, &row.Annotations, &row.Candidates, &row.Stages, &row.Health, &row.Error,
		&row.CreatedAt, &row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return Decode(row)
}

// Args returns the insert arguments in Columns order. JSON columns are
// passed as strings: lib/pq would send []byte as bytea and MySQL rejects
// binary strings for JSON columns.
func (r Row) Args() []any {
	return []any{
		r.ID, r.TenantID, r.Status, r.Prompt, string(r.Images), string(r.Providers), string(r.RAGContext),
		string(r.ProviderResults), string(r.Annotations), string(r.Candidates), string(r.Stages), string(r.Health), r.Error,
		r.CreatedAt, r.UpdatedAt,
	}
}

// Encode flattens a run. Nil collections are stored as empty JSON arrays so
// readers never see null.
func Encode(run *analysis.Run, now time.Time) (Row, error) {
	row := Row{
		ID:        string(run.ID),
		TenantID:  StringOrDash(run.TenantID),
		Status:    StringOrDash(string(run.Status)),
		Prompt:    run.Prompt,
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}

	fields := []struct {
		name string
		dst  *[]byte
		val  any
	}{
		{"images", &row.Images, orEmpty(run.Images)},
		{"providers", &row.Providers, orEmpty(run.Providers)},
		{"provider_results", &row.ProviderResults, orEmpty(run.ProviderResults)},
		{"annotations", &row.Annotations, orEmpty(run.Annotations)},
		{"candidates", &row.Candidates, orEmpty(run.Candidates)},
		{"stages", &row.Stages, orEmpty(run.Stages)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.val)
		if err != nil {
			return Row{}, fmt.Errorf("encode %s: %w", f.name, err)
		}
		*f.dst = b
	}
	// nullable objects
	objects := []struct {
		name string
		dst  *[]byte
		val  any
		set  bool
	}{
		{"rag_context", &row.RAGContext, run.RAG, run.RAG != nil},
		{"health", &row.Health, run.Health, run.Health != nil},
	}
	for _, o := range objects {
		if !o.set {
			*o.dst = []byte("null")
			continue
		}
		b, err := json.Marshal(o.val)
		if err != nil {
			return Row{}, fmt.Errorf("encode %s: %w", o.name, err)
		}
		*o.dst = b
	}
	return row, nil
}

// Decode rebuilds a run from a row.
func Decode(row Row) (*analysis.Run, error) {
	run := &analysis.Run{
		ID:              analysis.RunID(row.ID),
		TenantID:        row.TenantID,
		Status:          analysis.Status(row.Status),
		Prompt:          row.Prompt,
		Error:           row.Error,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		Images:          []string{},
		Providers:       []ai.ProviderID{},
		ProviderResults: []analysis.ProviderResult{},
		Annotations:     []analysis.Annotation{},
		Candidates:      []analysis.PrototypeCandidate{},
		Stages:          []pipeline.Stage{},
	}
	fields := []struct {
		name string
		src  []byte
		dst  any
	}{
		{"images", row.Images, &run.Images},
		{"providers", row.Providers, &run.Providers},
		{"provider_results", row.ProviderResults, &run.ProviderResults},
		{"annotations", row.Annotations, &run.Annotations},
		{"candidates", row.Candidates, &run.Candidates},
		{"stages", row.Stages, &run.Stages},
	}
	for _, f := range fields {
		if isNull(f.src) {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s of run %s: %w", f.name, row.ID, err)
		}
	}
	if !isNull(row.RAGContext) {
		var rag knowledge.Context
		if err := json.Unmarshal(row.RAGContext, &rag); err != nil {
			return nil, fmt.Errorf("decode rag_context of run %s: %w", row.ID, err)
		}
		run.RAG = &rag
	}
	if !isNull(row.Health) {
		var h pipeline.Summary
		if err := json.Unmarshal(row.Health, &h); err != nil {
			return nil, fmt.Errorf("decode health of run %s: %w", row.ID, err)
		}
		run.Health = &h
	}
	return run, nil
}

// StringOrDash returns "-" when the input is empty/whitespace
func StringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// DetailsJSON makes sure a details column holds valid JSON; anything else is
// wrapped as {"raw": ...}.
func DetailsJSON(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	var js any
	if json.Unmarshal([]byte(details), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}

// TotalPages rounds up; zero items is zero pages.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

func isNull(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return s == "" || s == "null"
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
