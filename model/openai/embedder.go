package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// EmbedderOptions configure the Embeddings adapter.
type EmbedderOptions struct {
	Model   string
	APIKey  string
	BaseURL string
}

// Embedder turns texts into vectors via the OpenAI Embeddings API. It
// satisfies retrieval.Embedder.
type Embedder struct {
	client *openai.Client
	opts   EmbedderOptions
}

// NewEmbedder creates an embedder with its own client.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	var initial EmbedderOptions
	for _, fn := range optFns {
		fn(&initial)
	}
	client := openai.NewClient(clientOptions(initial.APIKey, initial.BaseURL)...)
	return NewEmbedderFromClient(&client, optFns...)
}

// NewEmbedderFromClient creates an embedder from an existing client.
func NewEmbedderFromClient(client *openai.Client, optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := EmbedderOptions{Model: openai.EmbeddingModelTextEmbedding3Small}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Embedder{client: client, opts: opts}
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", classify(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New("openai embeddings: result count mismatch")
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.opts.Model }
