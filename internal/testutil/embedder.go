package testutil

import (
	"context"
	"strings"
	"sync/atomic"
)

// KeywordEmbedder embeds text as term counts over a fixed vocabulary. Texts
// sharing vocabulary words get a positive cosine similarity, which is enough
// to make retrieval ordering predictable in tests.
type KeywordEmbedder struct {
	Vocabulary []string
	calls      atomic.Int64
}

// NewKeywordEmbedder creates an embedder over vocab.
func NewKeywordEmbedder(vocab ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Vocabulary: vocab}
}

// Embed implements retrieval.Embedder.
func (e *KeywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.calls.Add(1)
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(e.Vocabulary))
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
			for j, w := range e.Vocabulary {
				if tok == w {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Calls returns the number of Embed invocations.
func (e *KeywordEmbedder) Calls() int { return int(e.calls.Load()) }

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}
