package knowledge

import "context"

// Retriever port (vector search over the UX research knowledge base)
type Retriever interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Snippet, error)
}

// Embedder turns free text into an embedding vector for nearest-neighbour search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
