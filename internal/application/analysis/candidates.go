package analysis

import (
	"math"
	"sort"
	"strings"

	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
)

const (
	// DefaultMaxCandidates bounds how many issues go on to prototype generation.
	DefaultMaxCandidates = 3
	// EligibilityThreshold is the exclusive minimum impact score.
	EligibilityThreshold = 0.7

	confidenceWeight = 0.3
	layoutBonus      = 0.1
	flowBonus        = 0.15
	a11yBonus        = 0.05
)

type impactScope struct {
	name     string
	weight   float64
	keywords []string
}

// scopes are ordered by weight; an annotation gets the heaviest scope it matches.
var impactScopes = []impactScope{
	{"conversion", 0.4, []string{"conversion", "checkout", "purchase", "signup", "sign up", "revenue", "cta", "call to action", "cart"}},
	{"task-completion", 0.3, []string{"task", "complete", "completion", "flow", "forms", "navigation", "find", "error"}},
	{"user-trust", 0.25, []string{"trust", "credib", "security", "privacy", "confus", "mislead"}},
	{"readability", 0.2, []string{"readab", "legib", "contrast", "font", "text", "copy", "typography"}},
	{"performance", 0.15, []string{"performance", "load", "speed", "slow", "lag"}},
	{"aesthetic", 0.1, nil},
}

var severityWeights = map[domain.Severity]float64{
	domain.SeverityCritical:    0.3,
	domain.SeveritySuggested:   0.2,
	domain.SeverityEnhancement: 0.1,
}

var (
	layoutKeywords = []string{"layout", "grid", "spacing", "alignment", "hierarchy", "whitespace", "section"}
	flowKeywords   = []string{"flow", "journey", "checkout", "onboarding", "funnel", "step", "multi-step"}
	a11yKeywords   = []string{"accessib", "a11y", "contrast", "screen reader", "aria", "wcag", "keyboard"}
)

// CandidateSelector picks the annotations most worth prototyping.
type CandidateSelector struct {
	MaxCandidates int
}

func NewCandidateSelector(maxCandidates int) *CandidateSelector {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &CandidateSelector{MaxCandidates: maxCandidates}
}

// Score computes the prototype-worthiness of one annotation, clamped to [0,1].
func Score(a domain.Annotation) float64 {
	text := strings.ToLower(a.BusinessImpact + " " + a.Category + " " + a.Feedback)

	s := scopeOf(text).weight
	s += severityWeights[a.Severity]
	s += clamp(a.Confidence, 0, 1) * confidenceWeight
	if containsAny(text, layoutKeywords) {
		s += layoutBonus
	}
	if containsAny(text, flowKeywords) {
		s += flowBonus
	}
	if containsAny(text, a11yKeywords) {
		s += a11yBonus
	}
	// weights are decimal; drop float noise so 0.7 stays 0.7 at the threshold
	s = math.Round(s*1e6) / 1e6
	return clamp(s, 0, 1)
}

// Select returns at most MaxCandidates candidates scoring above the
// threshold, highest first. Equal scores keep input order, so identical
// input always yields identical output.
func (c *CandidateSelector) Select(annotations []domain.Annotation) []domain.PrototypeCandidate {
	return c.SelectN(annotations, c.MaxCandidates)
}

func (c *CandidateSelector) SelectN(annotations []domain.Annotation, max int) []domain.PrototypeCandidate {
	if max <= 0 {
		max = DefaultMaxCandidates
	}
	out := make([]domain.PrototypeCandidate, 0, max)
	for _, a := range annotations {
		if !a.Located {
			continue // nothing to prototype without a screen location
		}
		score := Score(a)
		if score <= EligibilityThreshold {
			continue
		}
		out = append(out, describe(a, score))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ImpactScore > out[j].ImpactScore })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func describe(a domain.Annotation, score float64) domain.PrototypeCandidate {
	text := strings.ToLower(a.BusinessImpact + " " + a.Category + " " + a.Feedback)
	flow := containsAny(text, flowKeywords)
	layout := containsAny(text, layoutKeywords)

	cand := domain.PrototypeCandidate{
		AnnotationID: a.ID,
		ImageIndex:   a.ImageIndex,
		Feedback:     a.Feedback,
		ImpactScore:  score,
	}
	switch {
	case layout:
		cand.PrototypeType = domain.PrototypeLayout
	case flow || containsAny(text, []string{"interaction", "hover", "click", "button", "animation", "feedback state"}):
		cand.PrototypeType = domain.PrototypeInteraction
	case containsAny(text, []string{"copy", "text", "label", "content", "headline", "message"}):
		cand.PrototypeType = domain.PrototypeContent
	default:
		cand.PrototypeType = domain.PrototypeComponent
	}
	switch {
	case score >= 0.9:
		cand.Complexity = domain.ComplexityComprehensive
	case score >= 0.8:
		cand.Complexity = domain.ComplexityAdvanced
	default:
		cand.Complexity = domain.ComplexityDetailed
	}
	switch {
	case flow:
		cand.VisualScope = domain.ScopePage
	case layout:
		cand.VisualScope = domain.ScopeSection
	default:
		cand.VisualScope = domain.ScopeSingleElement
	}
	return cand
}

func scopeOf(text string) impactScope {
	for _, s := range impactScopes {
		if containsAny(text, s.keywords) {
			return s
		}
	}
	return impactScopes[len(impactScopes)-1]
}

func containsAny(text string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
