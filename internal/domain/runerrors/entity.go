package runerrors

import "time"

// RunError represents a persisted pipeline error entry for operator debugging
type RunError struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`              // context | dispatch | parse | select | persist | sweep
	Provider    string    `json:"provider,omitempty"` // empty for run-level errors
	Severity    string    `json:"severity"`           // error | warning
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)
