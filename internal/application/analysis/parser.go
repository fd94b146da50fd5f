package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
)

const (
	DefaultCategory     = "general"
	PlaceholderFeedback = "No feedback text was provided for this area."
	defaultConfidence   = 0.5
	centre              = 50.0
)

// listKeys are the object keys providers use for the annotation list.
var listKeys = []string{"annotations", "feedback", "issues", "items", "results"}

// ParseOutcome is the annotation list recovered from one provider response.
type ParseOutcome struct {
	Annotations []domain.Annotation
	Warnings    []string
}

// Parser normalizes provider responses into annotations. Each response
// variant has its own normalizer; all of them feed decodeText/decodeJSON.
type Parser struct {
	// NewID generates ids for annotations that lack one. Defaults to uuid.
	NewID func() string
}

func NewParser() *Parser { return &Parser{NewID: uuid.NewString} }

// Parse never panics on malformed input. On total failure it returns an empty
// outcome and a *domain.ParseError; otherwise every emitted annotation has a
// unique id, an image index in [0, imageCount-1] and coordinates in [0,100].
func (p *Parser) Parse(provider ai.ProviderID, resp ai.ProviderResponse, imageCount int) (ParseOutcome, error) {
	var (
		items    []json.RawMessage
		warnings []string
		err      error
	)
	switch r := resp.(type) {
	case ai.OpenAIResponse:
		items, warnings, err = p.decodeText(r.Content, r.Truncated())
	case ai.GeminiResponse:
		items, warnings, err = p.decodeText(strings.Join(r.Parts, ""), r.Truncated())
	case ai.StructuredResponse:
		items, err = decodeJSON(r.JSON)
		if err != nil {
			// structured output can still be wrapped or cut off
			items, warnings, err = p.decodeText(string(r.JSON), false)
		}
	case ai.TextResponse:
		items, warnings, err = p.decodeText(r.Text, false)
	case nil:
		err = fmt.Errorf("nil response")
	default:
		err = fmt.Errorf("unsupported response type %T", resp)
	}
	if err != nil {
		return ParseOutcome{Annotations: []domain.Annotation{}}, &domain.ParseError{Provider: provider, Reason: "no annotation list found", Err: err}
	}

	out := ParseOutcome{Annotations: make([]domain.Annotation, 0, len(items)), Warnings: warnings}
	seen := make(map[string]bool, len(items))
	for i, raw := range items {
		a, warn, ok := p.normalize(raw, imageCount)
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("annotation %d skipped: %s", i, warn))
			continue
		}
		if warn != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("annotation %d: %s", i, warn))
		}
		if a.ID == "" || seen[a.ID] {
			a.ID = p.newID()
		}
		seen[a.ID] = true
		a.Provider = provider
		out.Annotations = append(out.Annotations, a)
	}
	if len(items) > 0 && len(out.Annotations) == 0 {
		return out, &domain.ParseError{Provider: provider, Reason: fmt.Sprintf("all %d entries malformed", len(items))}
	}
	return out, nil
}

func (p *Parser) newID() string {
	if p.NewID == nil {
		return uuid.NewString()
	}
	return p.NewID()
}

// decodeText handles raw JSON, JSON embedded in prose or code fences, and
// arrays truncated by a length limit.
func (p *Parser) decodeText(text string, truncated bool) ([]json.RawMessage, []string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, fmt.Errorf("empty output")
	}
	if items, err := decodeJSON([]byte(text)); err == nil {
		return items, nil, nil
	}
	if extracted := extractJSON(text); extracted != "" {
		if items, err := decodeJSON([]byte(extracted)); err == nil {
			return items, []string{"annotation JSON was embedded in surrounding text"}, nil
		}
	}
	for _, key := range listKeys {
		if items := salvageArray(text, `"`+key+`"`); len(items) > 0 {
			return items, []string{fmt.Sprintf("output truncated (provider flagged=%t), salvaged %d entries", truncated, len(items))}, nil
		}
	}
	if items := salvageArray(text, ""); len(items) > 0 {
		return items, []string{fmt.Sprintf("output truncated, salvaged %d entries", len(items))}, nil
	}
	return nil, nil, fmt.Errorf("output is not JSON")
}

// decodeJSON accepts a top-level array or an object holding the list under
// one of listKeys. An object with none of those keys but with feedback-like
// fields is treated as a single annotation.
func decodeJSON(b []byte) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err == nil {
		return arr, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for _, key := range listKeys {
		raw, ok := lookup(obj, key)
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &arr); err == nil {
			return arr, nil
		}
	}
	for _, key := range []string{"x", "feedback", "description"} {
		if _, ok := lookup(obj, key); ok {
			return []json.RawMessage{json.RawMessage(b)}, nil
		}
	}
	return nil, fmt.Errorf("json object has no annotation list")
}

func lookup(obj map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

type rawCoordinates struct {
	X flexFloat `json:"x"`
	Y flexFloat `json:"y"`
}

type rawAnnotation struct {
	ID          flexString      `json:"id"`
	ImageIndex  flexFloat       `json:"imageIndex"`
	ImageIdx    flexFloat       `json:"image_index"`
	X           flexFloat       `json:"x"`
	Y           flexFloat       `json:"y"`
	Coordinates *rawCoordinates `json:"coordinates"`
	Position    *rawCoordinates `json:"position"`
	Category    string          `json:"category"`
	Severity    string          `json:"severity"`
	Priority    string          `json:"priority"`
	Feedback    string          `json:"feedback"`
	Description string          `json:"description"`
	Issue       string          `json:"issue"`
	Title       string          `json:"title"`
	Impact      string          `json:"businessImpact"`
	ImpactSnake string          `json:"business_impact"`
	Effort      string          `json:"implementationEffort"`
	EffortSnake string          `json:"implementation_effort"`
	Confidence  flexFloat       `json:"confidence"`
}

func (p *Parser) normalize(raw json.RawMessage, imageCount int) (domain.Annotation, string, bool) {
	var r rawAnnotation
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Annotation{}, err.Error(), false
	}
	var notes []string

	a := domain.Annotation{
		ID:                   strings.TrimSpace(string(r.ID)),
		Category:             strings.ToLower(strings.TrimSpace(r.Category)),
		Severity:             NormalizeSeverity(firstNonEmpty(r.Severity, r.Priority)),
		Feedback:             strings.TrimSpace(firstNonEmpty(r.Feedback, r.Description, r.Issue, r.Title)),
		BusinessImpact:       strings.TrimSpace(firstNonEmpty(r.Impact, r.ImpactSnake)),
		ImplementationEffort: strings.TrimSpace(firstNonEmpty(r.Effort, r.EffortSnake)),
		Confidence:           defaultConfidence,
	}
	if a.Category == "" {
		a.Category = DefaultCategory
	}
	if a.Feedback == "" {
		a.Feedback = PlaceholderFeedback
		a.LowQuality = true
		notes = append(notes, "missing feedback text")
	}

	idx := r.ImageIndex
	if !idx.Set {
		idx = r.ImageIdx
	}
	a.ImageIndex = clampIndex(idx.Value, imageCount)
	if idx.Set && idx.Value != float64(a.ImageIndex) {
		notes = append(notes, fmt.Sprintf("image index %v clamped to %d", idx.Value, a.ImageIndex))
	}

	x, y := r.X, r.Y
	for _, c := range []*rawCoordinates{r.Coordinates, r.Position} {
		if (!x.Set || !y.Set) && c != nil {
			x, y = c.X, c.Y
		}
	}
	if x.Set && y.Set {
		a.X, a.Y, a.Located = clampPercent(x.Value), clampPercent(y.Value), true
	} else {
		a.X, a.Y = centre, centre
		notes = append(notes, "missing coordinates")
	}

	if r.Confidence.Set {
		c := r.Confidence.Value
		if c > 1 && c <= 100 {
			c /= 100
		}
		a.Confidence = clamp(c, 0, 1)
	}
	return a, strings.Join(notes, "; "), true
}

// NormalizeSeverity maps vendor vocabularies onto the four severities.
// An absent severity defaults to enhancement.
func NormalizeSeverity(s string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return domain.SeverityEnhancement
	case "critical", "high", "blocker", "severe", "error":
		return domain.SeverityCritical
	case "suggested", "important", "warning", "medium", "major", "moderate":
		return domain.SeveritySuggested
	case "enhancement", "low", "minor", "improvement", "info", "suggestion", "nice-to-have":
		return domain.SeverityEnhancement
	default:
		return domain.SeverityUnknown
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// clampIndex works in float space so huge values cannot overflow int.
func clampIndex(v float64, count int) int {
	if count <= 0 || v != v || v < 0 {
		return 0
	}
	if v > float64(count-1) {
		return count - 1
	}
	return int(v)
}

func clampPercent(v float64) float64 { return clamp(v, 0, 100) }

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
