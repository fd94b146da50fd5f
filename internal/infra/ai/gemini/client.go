package gemini

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	genai "google.golang.org/genai"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	"github.com/bryanwahyu/designlens/internal/infra/ai/prompt"
)

const (
	maxOutputTokens = 8192
	defaultModel    = "gemini-2.5-flash"

	// ProviderID is the id used when none is configured.
	ProviderID ai.ProviderID = "gemini"
)

// Client is a thin wrapper around the official genai client.
type Client struct {
	cli   *genai.Client
	model string
	id    ai.ProviderID
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	return NewClientWithConfig(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, ProviderID, model)
}

// NewClientWithConfig allows a custom base URL (tests, proxies).
func NewClientWithConfig(ctx context.Context, cfg *genai.ClientConfig, id ai.ProviderID, model string) (*Client, error) {
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	if id == "" {
		id = ProviderID
	}
	return &Client{cli: cli, model: model, id: id}, nil
}

func (c *Client) ID() ai.ProviderID { return c.id }

// Call sends the prompt with image URIs and requests application/json.
func (c *Client) Call(ctx context.Context, r ai.Request) (ai.ProviderResponse, error) {
	parts := []*genai.Part{{Text: prompt.GetUserPrompt(r.Prompt, len(r.Images))}}
	for _, img := range r.Images {
		parts = append(parts, genai.NewPartFromURI(img, imageMIME(img)))
	}

	resp, err := c.cli.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: prompt.System(r.SystemPrompt)}}},
			ResponseMIMEType:  "application/json",
			MaxOutputTokens:   maxOutputTokens,
		},
	)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ai.ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	out := ai.GeminiResponse{Model: c.model, FinishReason: string(cand.FinishReason)}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	for _, p := range cand.Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			out.Parts = append(out.Parts, p.Text)
		}
	}
	if len(out.Parts) == 0 {
		return nil, ai.ErrEmptyResponse
	}
	return out, nil
}

// imageMIME guesses the image type from the URL path; png when unknown.
func imageMIME(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "image/") {
		return t
	}
	if ext == ".webp" {
		return "image/webp"
	}
	return "image/png"
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErrPtr.Message)
	}
	return fmt.Errorf("failed to generate content: %w", err)
}
