package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/designlens/internal/cache"
	domain "github.com/bryanwahyu/designlens/internal/domain/knowledge"
)

type fakeRetriever struct {
	snippets []domain.Snippet
	err      error
	calls    int
	queries  []string
}

func (f *fakeRetriever) Search(_ context.Context, query string, _ domain.SearchOptions) ([]domain.Snippet, error) {
	f.calls++
	f.queries = append(f.queries, query)
	return f.snippets, f.err
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"improve accessibility contrast for screen readers", "Accessibility"},
		{"Our checkout funnel loses users", "Conversion"},
		{"make the page look nicer", GeneralUX},
		{"", GeneralUX},
		{"improve performance of the landing page layout", "Visual Hierarchy"},
		// "menu" (4) vs "cta" (3): longer keyword wins
		{"menu cta", "Navigation"},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.prompt))
		})
	}
}

func TestDetectIntentTieGoesToFirstCategory(t *testing.T) {
	// "contrast" (Accessibility, 8) vs "checkout" (Conversion, 8)
	assert.Equal(t, "Accessibility", DetectIntent("checkout contrast"))
}

func TestDetectIndustry(t *testing.T) {
	assert.Equal(t, "E-commerce", DetectIndustry("our shop product page"))
	assert.Equal(t, "", DetectIndustry("a plain landing page"))
}

func TestBuildEnrichesPrompt(t *testing.T) {
	r := &fakeRetriever{snippets: []domain.Snippet{
		{ID: "1", Title: "Contrast ratios", Content: "Use 4.5:1 for body text.", Source: "WCAG 2.2", Similarity: 0.82},
		{ID: "2", Title: "Screen reader labels", Content: "Label every control.", Similarity: 0.64},
	}}
	b := NewBuilder(r, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, nil, nil)

	got := b.Build(context.Background(), "improve accessibility contrast for screen readers", []string{"https://x/a.png"})

	assert.Equal(t, "Accessibility", got.Intent)
	require.Len(t, got.Snippets, 2)
	assert.Len(t, got.Citations, 2)
	assert.Equal(t, "Contrast ratios (WCAG 2.2)", got.Citations[0])
	assert.Equal(t, "Screen reader labels", got.Citations[1])
	assert.Contains(t, got.EnhancedPrompt, "Use 4.5:1 for body text.")
	assert.Contains(t, got.EnhancedPrompt, "Label every control.")
	assert.Contains(t, got.EnhancedPrompt, "[1]")
	assert.Contains(t, got.EnhancedPrompt, "[2]")
	assert.Empty(t, got.Degraded)
	assert.Contains(t, r.queries[0], "Accessibility")
}

func TestBuildFallsBackOnRetrievalError(t *testing.T) {
	r := &fakeRetriever{err: &domain.RetrievalError{Query: "q", Err: errors.New("connection refused")}}
	b := NewBuilder(r, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, nil, nil)

	got := b.Build(context.Background(), "fix the header", nil)

	assert.Equal(t, "fix the header", got.EnhancedPrompt)
	assert.Empty(t, got.Citations)
	assert.NotNil(t, got.Citations)
	assert.False(t, got.Enriched())
	assert.Contains(t, got.Degraded, "connection refused")
}

func TestBuildFallsBackOnEmptyResults(t *testing.T) {
	b := NewBuilder(&fakeRetriever{}, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, nil, nil)

	got := b.Build(context.Background(), "fix the header", nil)

	assert.Equal(t, "fix the header", got.EnhancedPrompt)
	assert.Empty(t, got.Citations)
	assert.NotEmpty(t, got.Degraded)
}

func TestBuildFiltersBelowThreshold(t *testing.T) {
	r := &fakeRetriever{snippets: []domain.Snippet{
		{ID: "low", Title: "Low", Similarity: 0.1},
		{ID: "b", Title: "B", Similarity: 0.5},
		{ID: "a", Title: "A", Similarity: 0.9},
	}}
	b := NewBuilder(r, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, nil, nil)

	got := b.Build(context.Background(), "anything", nil)

	require.Len(t, got.Snippets, 2)
	assert.Equal(t, "a", got.Snippets[0].ID)
	assert.Equal(t, "b", got.Snippets[1].ID)
}

func TestBuildUsesCache(t *testing.T) {
	c, err := cache.NewTTL[string, []domain.Snippet](8, time.Minute, nil)
	require.NoError(t, err)
	r := &fakeRetriever{snippets: []domain.Snippet{{ID: "1", Title: "T", Similarity: 0.9}}}
	b := NewBuilder(r, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, c, nil)

	b.Build(context.Background(), "same prompt", nil)
	b.Build(context.Background(), "same prompt", nil)
	assert.Equal(t, 1, r.calls)

	b.Invalidate()
	b.Build(context.Background(), "same prompt", nil)
	assert.Equal(t, 2, r.calls)
}

func TestBuildWithoutRetriever(t *testing.T) {
	b := NewBuilder(nil, domain.SearchOptions{MatchThreshold: 0.3, MatchCount: 5}, nil, nil)
	got := b.Build(context.Background(), "prompt", nil)
	assert.Equal(t, "prompt", got.EnhancedPrompt)
	assert.Empty(t, got.Citations)
}
