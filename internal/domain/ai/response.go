package ai

import "encoding/json"

// ProviderResponse is the raw output of one provider call. It is a closed set
// of variants; each variant gets its own normalizer in the annotation parser.
type ProviderResponse interface {
	// Raw returns the provider output as text, used for archiving.
	Raw() string
	isProviderResponse()
}

// OpenAIResponse is a chat completion from an OpenAI-compatible endpoint.
type OpenAIResponse struct {
	Model        string
	Content      string
	FinishReason string
}

// GeminiResponse is a generateContent result; Parts holds the text parts of
// the first candidate in order.
type GeminiResponse struct {
	Model        string
	Parts        []string
	FinishReason string
}

// StructuredResponse is already-decoded JSON from a provider that returns
// structured output directly.
type StructuredResponse struct {
	Model string
	JSON  json.RawMessage
}

// TextResponse is free text from any other provider.
type TextResponse struct {
	Model string
	Text  string
}

func (r OpenAIResponse) Raw() string { return r.Content }

func (r GeminiResponse) Raw() string {
	var out string
	for _, p := range r.Parts {
		out += p
	}
	return out
}

func (r StructuredResponse) Raw() string { return string(r.JSON) }
func (r TextResponse) Raw() string       { return r.Text }

func (OpenAIResponse) isProviderResponse()     {}
func (GeminiResponse) isProviderResponse()     {}
func (StructuredResponse) isProviderResponse() {}
func (TextResponse) isProviderResponse()       {}

// Truncated reports whether the provider stopped because of a length limit.
func (r OpenAIResponse) Truncated() bool { return r.FinishReason == "length" }

// Truncated reports whether the provider stopped because of a token limit.
func (r GeminiResponse) Truncated() bool { return r.FinishReason == "MAX_TOKENS" }
