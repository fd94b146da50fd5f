package analysis

import (
	"time"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	"github.com/bryanwahyu/designlens/internal/domain/knowledge"
	"github.com/bryanwahyu/designlens/internal/domain/pipeline"
)

// RunID tipe untuk AnalysisRun
type RunID string

// Status enum
type Status string

const (
	StatusDraft   Status = "draft" // no inputs attached yet
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Severity enum
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeveritySuggested   Severity = "suggested"
	SeverityEnhancement Severity = "enhancement"
	SeverityUnknown     Severity = "unknown"
)

// Point is a coordinate pair in percentage space [0,100].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is one spatially-anchored piece of feedback on an image.
type Annotation struct {
	ID                   string        `json:"id"`
	ImageIndex           int           `json:"image_index"`
	X                    float64       `json:"x"`
	Y                    float64       `json:"y"`
	Category             string        `json:"category"`
	Severity             Severity      `json:"severity"`
	Feedback             string        `json:"feedback"`
	BusinessImpact       string        `json:"business_impact,omitempty"`
	ImplementationEffort string        `json:"implementation_effort,omitempty"`
	Confidence           float64       `json:"confidence"`
	Provider             ai.ProviderID `json:"provider,omitempty"`

	// Located is false when the provider gave no coordinates and X/Y are defaults.
	Located    bool `json:"located"`
	LowQuality bool `json:"low_quality,omitempty"`

	CorrectionApplied   bool   `json:"correction_applied"`
	OriginalCoordinates *Point `json:"original_coordinates,omitempty"`
}

// PrototypeType enum
type PrototypeType string

const (
	PrototypeLayout      PrototypeType = "layout"
	PrototypeInteraction PrototypeType = "interaction"
	PrototypeContent     PrototypeType = "content"
	PrototypeComponent   PrototypeType = "component"
)

// Complexity enum
type Complexity string

const (
	ComplexityDetailed      Complexity = "detailed"
	ComplexityAdvanced      Complexity = "advanced"
	ComplexityComprehensive Complexity = "comprehensive"
)

// VisualScope enum
type VisualScope string

const (
	ScopeSingleElement VisualScope = "single-element"
	ScopeSection       VisualScope = "section"
	ScopePage          VisualScope = "page"
)

// PrototypeCandidate is an annotation selected for prototype generation.
// Derived per run, never persisted on its own.
type PrototypeCandidate struct {
	AnnotationID  string        `json:"annotation_id"`
	ImageIndex    int           `json:"image_index"`
	Feedback      string        `json:"feedback"`
	ImpactScore   float64       `json:"impact_score"`
	PrototypeType PrototypeType `json:"prototype_type"`
	Complexity    Complexity    `json:"complexity"`
	VisualScope   VisualScope   `json:"visual_scope"`
}

// ProviderResult is the per-provider outcome recorded on a run.
type ProviderResult struct {
	Provider    ai.ProviderID `json:"provider"`
	Annotations []Annotation  `json:"annotations"`
	Error       string        `json:"error,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	DurationMS  int64         `json:"duration_ms"`
	RawURL      string        `json:"raw_url,omitempty"`
}

// Succeeded reports whether the provider call itself returned a response.
func (r ProviderResult) Succeeded() bool { return r.Error == "" }

// Aggregate Root: Run
type Run struct {
	ID              RunID                `json:"id"`
	TenantID        string               `json:"tenant_id"`
	Images          []string             `json:"images"`
	Prompt          string               `json:"prompt"`
	Providers       []ai.ProviderID      `json:"providers"`
	Status          Status               `json:"status"`
	RAG             *knowledge.Context   `json:"rag_context,omitempty"`
	ProviderResults []ProviderResult     `json:"provider_results"`
	Annotations     []Annotation         `json:"final_annotations"`
	Candidates      []PrototypeCandidate `json:"candidates"`
	Stages          []pipeline.Stage     `json:"stages"`
	Health          *pipeline.Summary    `json:"health,omitempty"`
	Error           string               `json:"error,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// HasInputs reports whether any image was ever attached to the run.
func (r *Run) HasInputs() bool { return len(r.Images) > 0 }
