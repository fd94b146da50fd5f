package knowledge

// Snippet is one knowledge-base entry returned by a similarity search.
// Snippets are immutable once retrieved and live for a single request.
type Snippet struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Source     string  `json:"source,omitempty"`
	Similarity float64 `json:"similarity"`
}

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	MatchThreshold float64
	MatchCount     int
}

// Context is the RAG context built once per analysis request.
type Context struct {
	Snippets        []Snippet `json:"retrieved_snippets"` // desc by similarity
	EnhancedPrompt  string    `json:"enhanced_prompt"`
	Citations       []string  `json:"citations"`
	IndustryContext string    `json:"industry_context,omitempty"`
	Intent          string    `json:"intent"`

	// Degraded explains why the prompt was not enriched, empty otherwise.
	Degraded string `json:"degraded,omitempty"`
}

// Enriched reports whether any snippet made it into the prompt.
func (c Context) Enriched() bool { return len(c.Snippets) > 0 }
