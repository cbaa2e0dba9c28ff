package retrieval

import (
	"context"
	"math"

	"github.com/hupe1980/agentgraph/core"
)

// ScoreKind declares how a store scores its hits.
type ScoreKind string

const (
	// Similarity scores are already in [0,1], higher is better.
	Similarity ScoreKind = "similarity"
	// Cosine scores are in [-1,1], higher is better.
	Cosine ScoreKind = "cosine"
	// Distance scores are >= 0, lower is better.
	Distance ScoreKind = "distance"
)

// Normalize maps a raw store score onto [0,1], higher is better.
func (k ScoreKind) Normalize(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	switch k {
	case Cosine:
		return clamp01((score + 1) / 2)
	case Distance:
		if score < 0 {
			score = 0
		}
		return 1 / (1 + score)
	default:
		return clamp01(score)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Hit is one raw search hit as reported by a store.
type Hit struct {
	Document core.Document
	Score    float64
}

// Store is a vector store searchable by text.
type Store interface {
	Name() string
	ScoreKind() ScoreKind
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ScoredDocument is a document with its normalized score and the store that
// produced it.
type ScoredDocument struct {
	core.Document
	Score float64 `json:"score"`
	Store string  `json:"store"`
}

// Result is the outcome of a gateway query, ordered by score descending then
// document id.
type Result struct {
	Query  string
	Stores []string
	docs   []ScoredDocument
}

// Documents returns a copy of the ranked documents.
func (r *Result) Documents() []ScoredDocument {
	out := make([]ScoredDocument, len(r.docs))
	for i, d := range r.docs {
		d.Metadata = copyMetadata(d.Metadata)
		out[i] = d
	}
	return out
}

// Len returns the number of documents.
func (r *Result) Len() int { return len(r.docs) }

// IDs returns the document ids in rank order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.docs))
	for i, d := range r.docs {
		ids[i] = d.ID
	}
	return ids
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// Selector chooses the stores a query fans out to. Patterns use doublestar
// syntax against store names; an empty selector means every store.
type Selector struct {
	Stores []string
}
