package ai

import "context"

// ProviderID identifies one configured AI vendor/model, e.g. "openai" or "gemini".
type ProviderID string

// Request is the shared analysis payload sent to every provider in a run.
type Request struct {
	SystemPrompt string
	Prompt       string   // RAG-enhanced user prompt
	Images       []string // ordered image URLs; annotation imageIndex refers to this order
}

// Provider port (one vision/LLM vendor). Call is fallible and may be slow;
// the dispatcher bounds it with a timeout.
type Provider interface {
	ID() ProviderID
	Call(ctx context.Context, req Request) (ProviderResponse, error)
}
