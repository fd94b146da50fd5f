package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Embedder implements knowledge.Embedder with the embeddings endpoint.
type Embedder struct {
	client *openai.Client
	Model  openai.EmbeddingModel
}

func NewEmbedder(c *Client, model string) *Embedder {
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &Embedder{client: c.Client, Model: m}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.Model,
	})
	if err != nil {
		return nil, mapError("embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}
