package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	domain "github.com/bryanwahyu/designlens/internal/domain/knowledge"
)

// KnowledgeRepository implements knowledge.Retriever with pgvector cosine
// distance over the ux_knowledge table.
type KnowledgeRepository struct {
	db       *sql.DB
	embedder domain.Embedder
}

func NewKnowledgeRepository(db *sql.DB, embedder domain.Embedder) *KnowledgeRepository {
	return &KnowledgeRepository{db: db, embedder: embedder}
}

// similarity = 1 - cosine distance
const searchQuery = `
SELECT id, title, content, category, COALESCE(source, ''), 1 - (embedding <=> $1) AS similarity
FROM ux_knowledge
WHERE 1 - (embedding <=> $1) >= $2
ORDER BY embedding <=> $1 ASC, id ASC
LIMIT $3;`

// Search embeds the query and returns up to MatchCount snippets whose
// similarity clears MatchThreshold, most similar first.
func (r *KnowledgeRepository) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Snippet, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &domain.RetrievalError{Query: query, Err: fmt.Errorf("embed query: %w", err)}
	}

	rows, err := r.db.QueryContext(ctx, searchQuery, pgvector.NewVector(vec), opts.MatchThreshold, opts.MatchCount)
	if err != nil {
		return nil, &domain.RetrievalError{Query: query, Err: err}
	}
	defer rows.Close()

	out := []domain.Snippet{}
	for rows.Next() {
		var s domain.Snippet
		if err := rows.Scan(&s.ID, &s.Title, &s.Content, &s.Category, &s.Source, &s.Similarity); err != nil {
			return nil, &domain.RetrievalError{Query: query, Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.RetrievalError{Query: query, Err: err}
	}
	return opts.Filter(out), nil
}
