package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/designlens/internal/domain/ai"
	"github.com/bryanwahyu/designlens/internal/infra/ai/prompt"
)

const (
	maxTokens    = 4096
	defaultModel = "gpt-4o"

	// ProviderID is the id used when none is configured.
	ProviderID ai.ProviderID = "openai"
)

// Client implements ai.Provider on the chat completions API with image input.
type Client struct {
	*openai.Client
	Model string
	id    ai.ProviderID
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model, id: ProviderID}
}

// NewClientWithConfig is used for proxies, Azure deployments and tests.
func NewClientWithConfig(cfg openai.ClientConfig, id ai.ProviderID, model string) *Client {
	if id == "" {
		id = ProviderID
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model, id: id}
}

func (c *Client) ID() ai.ProviderID { return c.id }

// Call sends the prompt and image URLs and asks for a JSON object back.
func (c *Client) Call(ctx context.Context, r ai.Request) (ai.ProviderResponse, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt.GetUserPrompt(r.Prompt, len(r.Images))},
	}
	for _, img := range r.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img, Detail: openai.ImageURLDetailHigh},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System(r.SystemPrompt)},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, mapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ai.ErrEmptyResponse
	}

	choice := resp.Choices[0]
	return ai.OpenAIResponse{
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// mapError turns rate limit responses into ai.ErrQuotaExceeded.
func mapError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, reqErr.Err)
	}
	return fmt.Errorf("failed to create %s: %w", op, err)
}
