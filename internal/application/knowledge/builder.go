package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bryanwahyu/designlens/internal/cache"
	domain "github.com/bryanwahyu/designlens/internal/domain/knowledge"
)

// Builder turns a user prompt into a RAG context. It never fails: when the
// retriever errors or finds nothing, the prompt passes through unchanged.
type Builder struct {
	Retriever domain.Retriever
	Options   domain.SearchOptions
	Cache     *cache.TTL[string, []domain.Snippet] // optional
	Logger    *slog.Logger
}

func NewBuilder(r domain.Retriever, opts domain.SearchOptions, c *cache.TTL[string, []domain.Snippet], logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Retriever: r, Options: opts, Cache: c, Logger: logger}
}

// Build derives intent, retrieves snippets and assembles the enhanced prompt.
func (b *Builder) Build(ctx context.Context, userPrompt string, images []string) domain.Context {
	out := domain.Context{
		EnhancedPrompt:  userPrompt,
		Citations:       []string{},
		Intent:          DetectIntent(userPrompt),
		IndustryContext: DetectIndustry(userPrompt),
	}
	if b.Retriever == nil {
		out.Degraded = "knowledge retrieval disabled"
		return out
	}

	query := b.query(userPrompt, out.Intent, out.IndustryContext)
	snippets, err := b.search(ctx, query)
	if err != nil {
		b.Logger.Warn("knowledge retrieval failed, continuing without context",
			"intent", out.Intent, "error", err)
		out.Degraded = err.Error()
		return out
	}
	if len(snippets) == 0 {
		out.Degraded = "no knowledge snippets above threshold"
		return out
	}

	out.Snippets = snippets
	out.EnhancedPrompt = enhance(userPrompt, out.Intent, out.IndustryContext, len(images), snippets)
	for _, s := range snippets {
		out.Citations = append(out.Citations, citation(s))
	}
	b.Logger.Debug("knowledge context built",
		"intent", out.Intent, "snippets", len(snippets), "top_similarity", snippets[0].Similarity)
	return out
}

func (b *Builder) query(prompt, intent, industry string) string {
	parts := []string{strings.TrimSpace(prompt)}
	if intent != GeneralUX {
		parts = append(parts, intent)
	}
	if industry != "" {
		parts = append(parts, industry)
	}
	return strings.Join(parts, " ")
}

func (b *Builder) search(ctx context.Context, query string) ([]domain.Snippet, error) {
	key := fmt.Sprintf("%s|%.3f|%d", query, b.Options.MatchThreshold, b.Options.MatchCount)
	if cached, ok := b.Cache.Get(key); ok {
		return cached, nil
	}
	snippets, err := b.Retriever.Search(ctx, query, b.Options)
	if err != nil {
		return nil, err
	}
	// the retriever contract is re-applied so a lax backend cannot leak low-similarity rows
	snippets = b.Options.Filter(snippets)
	b.Cache.Set(key, snippets)
	return snippets, nil
}

// Invalidate drops every cached retrieval, e.g. after the knowledge base is re-indexed.
func (b *Builder) Invalidate() { b.Cache.InvalidateAll() }

func enhance(prompt, intent, industry string, imageCount int, snippets []domain.Snippet) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(prompt))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Focus area: %s", intent)
	if industry != "" {
		fmt.Fprintf(&sb, " (%s)", industry)
	}
	if imageCount > 1 {
		fmt.Fprintf(&sb, ". %d screens are attached; use image_index to say which one each annotation belongs to", imageCount)
	}
	sb.WriteString(".\n\nRelevant UX research:\n")
	for i, s := range snippets {
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i+1, citation(s), strings.TrimSpace(s.Content))
	}
	sb.WriteString("\nCite research by its [number] in the feedback when it supports an annotation.")
	return sb.String()
}

func citation(s domain.Snippet) string {
	if s.Source == "" {
		return s.Title
	}
	return fmt.Sprintf("%s (%s)", s.Title, s.Source)
}
