// Package memstore is a process-local vector store for the retrieval
// gateway. Documents are embedded on Add and ranked by cosine similarity.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/retrieval"
)

type entry struct {
	doc    core.Document
	vector []float64
}

// Store keeps documents and their embeddings in memory.
//
// Concurrency: protected by RWMutex. Search is a linear scan; suitable for
// tests, demos and small corpora.
type Store struct {
	name     string
	embedder retrieval.Embedder

	mu      sync.RWMutex
	entries map[string]entry
}

var _ retrieval.Store = (*Store)(nil)

// New creates an empty store.
func New(name string, embedder retrieval.Embedder) *Store {
	return &Store{name: name, embedder: embedder, entries: map[string]entry{}}
}

// Name implements retrieval.Store.
func (s *Store) Name() string { return s.name }

// ScoreKind implements retrieval.Store.
func (s *Store) ScoreKind() retrieval.ScoreKind { return retrieval.Cosine }

// Add embeds and stores documents, replacing any with the same id.
func (s *Store) Add(ctx context.Context, docs ...core.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("memstore %s: document %d has no id", s.name, i)
		}
		texts[i] = d.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("memstore %s: embed: %w", s.name, err)
	}
	if len(vectors) != len(docs) {
		return errors.New("memstore: embedder returned wrong number of vectors")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range docs {
		s.entries[d.ID] = entry{doc: d, vector: vectors[i]}
	}
	return nil
}

// Delete removes a document by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("memstore %s: document %q not found", s.name, id)
	}
	delete(s.entries, id)
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search implements retrieval.Store.
func (s *Store) Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("memstore %s: embed query: %w", s.name, err)
	}
	if len(vectors) != 1 {
		return nil, errors.New("memstore: embedder returned wrong number of vectors")
	}
	q := vectors[0]

	s.mu.RLock()
	hits := make([]retrieval.Hit, 0, len(s.entries))
	for _, e := range s.entries {
		doc := e.doc
		doc.Metadata = copyMetadata(doc.Metadata)
		hits = append(hits, retrieval.Hit{Document: doc, Score: cosine(q, e.vector)})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
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
