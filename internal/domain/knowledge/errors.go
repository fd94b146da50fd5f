package knowledge

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidSearch is returned when SearchOptions are out of range.
var ErrInvalidSearch = errors.New("invalid knowledge search options")

// RetrievalError wraps a failure of the underlying vector search.
// Callers treat it as "no context available", never as a fatal analysis error.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("knowledge retrieval failed for %q: %v", e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Validate checks the search contract: threshold in [0,1], count > 0.
func (o SearchOptions) Validate() error {
	if o.MatchThreshold < 0 || o.MatchThreshold > 1 {
		return fmt.Errorf("%w: match threshold %v outside [0,1]", ErrInvalidSearch, o.MatchThreshold)
	}
	if o.MatchCount <= 0 {
		return fmt.Errorf("%w: match count must be positive, got %d", ErrInvalidSearch, o.MatchCount)
	}
	return nil
}

// Filter enforces the search contract on raw backend results: every snippet
// clears the threshold, order is descending by similarity, at most MatchCount.
func (o SearchOptions) Filter(in []Snippet) []Snippet {
	out := make([]Snippet, 0, len(in))
	for _, s := range in {
		if s.Similarity >= o.MatchThreshold {
			out = append(out, s)
		}
	}
	sortBySimilarity(out)
	if len(out) > o.MatchCount {
		out = out[:o.MatchCount]
	}
	return out
}

func sortBySimilarity(s []Snippet) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Similarity > s[j].Similarity })
}
