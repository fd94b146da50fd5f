package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
)

func ann(id, impact string, sev domain.Severity, conf float64) domain.Annotation {
	return domain.Annotation{
		ID:             id,
		X:              50,
		Y:              50,
		Located:        true,
		Severity:       sev,
		Confidence:     conf,
		BusinessImpact: impact,
		Feedback:       "item looks off",
	}
}

func scenario() []domain.Annotation {
	return []domain.Annotation{
		ann("s1", "conversion", domain.SeverityCritical, 0.9),       // 0.97
		ann("low1", "readability", domain.SeverityCritical, 0.5),    // 0.65
		ann("s2", "conversion", domain.SeverityCritical, 0.5),       // 0.85
		ann("low2", "performance", domain.SeverityEnhancement, 0.5), // 0.40
		ann("s3", "conversion", domain.SeverityCritical, 0.2),       // 0.76
		ann("low3", "", domain.SeveritySuggested, 1.0),              // 0.60
		ann("s4", "conversion", domain.SeveritySuggested, 0.5),      // 0.75
		ann("s5", "conversion", domain.SeveritySuggested, 0.9),      // 0.87
		ann("low4", "conversion", domain.SeverityEnhancement, 0.2),  // 0.56
		ann("s6", "task", domain.SeverityCritical, 0.8),             // 0.84
	}
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.97, Score(ann("a", "conversion", domain.SeverityCritical, 0.9)), 1e-9)
	assert.InDelta(t, 0.65, Score(ann("b", "readability", domain.SeverityCritical, 0.5)), 1e-9)
	assert.InDelta(t, 0.40, Score(ann("c", "performance", domain.SeverityEnhancement, 0.5)), 1e-9)
	assert.InDelta(t, 0.60, Score(ann("d", "", domain.SeveritySuggested, 1.0)), 1e-9)
	assert.Equal(t, 1.0, Score(ann("e", "conversion checkout layout", domain.SeverityCritical, 1.0)), "clamped")
}

func TestSelectTopThreeOfSixEligible(t *testing.T) {
	got := NewCandidateSelector(3).Select(scenario())

	require.Len(t, got, 3)
	assert.Equal(t, "s1", got[0].AnnotationID)
	assert.Equal(t, "s5", got[1].AnnotationID)
	assert.Equal(t, "s2", got[2].AnnotationID)
	for _, c := range got {
		assert.Greater(t, c.ImpactScore, EligibilityThreshold)
	}
}

func TestSelectReturnsAllEligibleWhenFewer(t *testing.T) {
	got := NewCandidateSelector(10).Select(scenario())
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].ImpactScore, got[i].ImpactScore)
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	sel := NewCandidateSelector(3)
	first := sel.Select(scenario())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, sel.Select(scenario()))
	}
}

func TestSelectTiesKeepInputOrder(t *testing.T) {
	in := []domain.Annotation{
		ann("first", "conversion", domain.SeverityCritical, 0.5),
		ann("second", "conversion", domain.SeverityCritical, 0.5),
		ann("third", "conversion", domain.SeverityCritical, 0.5),
	}
	got := NewCandidateSelector(2).Select(in)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].AnnotationID)
	assert.Equal(t, "second", got[1].AnnotationID)
}

func TestSelectExcludesScoreOfExactlyThreshold(t *testing.T) {
	// 0.25 + 0.3 + 0.5*0.3 sums to 0.7000000000000001 in float64
	edge := ann("edge", "trust", domain.SeverityCritical, 0.5)
	assert.Equal(t, 0.7, Score(edge))
	assert.Empty(t, NewCandidateSelector(3).Select([]domain.Annotation{edge}))

	above := ann("above", "trust", domain.SeverityCritical, 0.6)
	got := NewCandidateSelector(3).Select([]domain.Annotation{edge, above})
	require.Len(t, got, 1)
	assert.Equal(t, "above", got[0].AnnotationID)
}

func TestSelectExcludesLocationless(t *testing.T) {
	a := ann("nowhere", "conversion", domain.SeverityCritical, 1.0)
	a.Located = false
	assert.Empty(t, NewCandidateSelector(3).Select([]domain.Annotation{a}))
}

func TestSelectDescribesCandidate(t *testing.T) {
	layout := ann("layout", "conversion", domain.SeverityCritical, 0.9)
	layout.Feedback = "Pricing grid spacing is uneven"
	flow := ann("flow", "conversion", domain.SeverityCritical, 0.9)
	flow.Feedback = "Checkout needs one less step"

	got := NewCandidateSelector(3).Select([]domain.Annotation{layout, flow})
	require.Len(t, got, 2)

	byID := map[string]domain.PrototypeCandidate{}
	for _, c := range got {
		byID[c.AnnotationID] = c
	}
	assert.Equal(t, domain.PrototypeLayout, byID["layout"].PrototypeType)
	assert.Equal(t, domain.ScopeSection, byID["layout"].VisualScope)
	assert.Equal(t, domain.PrototypeInteraction, byID["flow"].PrototypeType)
	assert.Equal(t, domain.ScopePage, byID["flow"].VisualScope)
	assert.Equal(t, domain.ComplexityComprehensive, byID["flow"].Complexity)
}

func TestNewCandidateSelectorDefault(t *testing.T) {
	assert.Equal(t, DefaultMaxCandidates, NewCandidateSelector(0).MaxCandidates)
}
