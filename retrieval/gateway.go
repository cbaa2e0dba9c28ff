package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentgraph/logging"
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Stores []Store
	// TransientRetries is the number of extra attempts per store after a
	// transient failure.
	TransientRetries int
	RetryDelay       time.Duration
	Logger           logging.Logger
}

// Gateway fans queries out to stores. It holds no per-query state and is
// safe for concurrent use.
type Gateway struct {
	mu     sync.RWMutex
	stores map[string]Store
	opts   GatewayOptions
	logger *logging.ExecutionLogger
}

// NewGateway creates a gateway.
func NewGateway(optFns ...func(o *GatewayOptions)) (*Gateway, error) {
	opts := GatewayOptions{
		TransientRetries: 1,
		RetryDelay:       50 * time.Millisecond,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.TransientRetries = max(opts.TransientRetries, 0)
	g := &Gateway{
		stores: map[string]Store{},
		opts:   opts,
		logger: logging.Wrap(opts.Logger).WithComponent("retrieval.gateway"),
	}
	for _, s := range opts.Stores {
		if err := g.Register(s); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Register adds a store. Names must be unique.
func (g *Gateway) Register(s Store) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.stores[s.Name()]; exists {
		return fmt.Errorf("store %q already registered", s.Name())
	}
	g.stores[s.Name()] = s
	return nil
}

// StoreNames returns registered store names, sorted.
func (g *Gateway) StoreNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNamesLocked()
}

func (g *Gateway) selectStores(sel Selector) ([]Store, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var picked []Store
	for _, name := range g.sortedNamesLocked() {
		if matchesAny(sel.Stores, name) {
			picked = append(picked, g.stores[name])
		}
	}
	if len(picked) == 0 {
		return nil, &RetrievalError{Cause: fmt.Errorf("%w: %v", ErrNoStore, sel.Stores)}
	}
	return picked, nil
}

func (g *Gateway) sortedNamesLocked() []string {
	names := make([]string, 0, len(g.stores))
	for n := range g.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func matchesAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Query searches the selected stores and returns at most k documents with
// normalized scores. A failure of any selected store fails the query with a
// *RetrievalError. k <= 0 yields an empty result without touching stores.
func (g *Gateway) Query(ctx context.Context, text string, k int, sel Selector) (*Result, error) {
	stores, err := g.selectStores(sel)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stores))
	for i, s := range stores {
		names[i] = s.Name()
	}
	res := &Result{Query: text, Stores: names}
	if k <= 0 {
		return res, nil
	}

	start := time.Now()
	hits := make([][]ScoredDocument, len(stores))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, s := range stores {
		eg.Go(func() error {
			docs, err := g.search(egCtx, s, text, k)
			if err != nil {
				return err
			}
			hits[i] = docs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.logger.LogRetrieval(names, k, 0, time.Since(start), err)
		return nil, err
	}

	res.docs = merge(hits, k)
	g.logger.LogRetrieval(names, k, len(res.docs), time.Since(start), nil)
	return res, nil
}

func (g *Gateway) search(ctx context.Context, s Store, text string, k int) ([]ScoredDocument, error) {
	attempt := 1
	op := func() ([]ScoredDocument, error) {
		raw, err := s.Search(ctx, text, k)
		if err != nil {
			re := classify(s.Name(), err)
			if !re.Transient || ctx.Err() != nil {
				return nil, backoff.Permanent(re)
			}
			return nil, re
		}
		kind := s.ScoreKind()
		docs := make([]ScoredDocument, 0, len(raw))
		for _, h := range raw {
			docs = append(docs, ScoredDocument{
				Document: h.Document,
				Score:    kind.Normalize(h.Score),
				Store:    s.Name(),
			})
		}
		return docs, nil
	}

	docs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.opts.RetryDelay)),
		backoff.WithMaxTries(uint(g.opts.TransientRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			g.logger.Warn("retrieval.search.retry", "store", s.Name(), "attempt", attempt, "backoff", next, "error", err)
		}),
	)
	if err != nil {
		var re *RetrievalError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, &RetrievalError{Store: s.Name(), Cause: err}
	}
	return docs, nil
}

// Fuse merges ranked lists produced by separate queries using the same rules
// as Query. k <= 0 keeps every document.
func Fuse(k int, lists ...[]ScoredDocument) []ScoredDocument {
	if k <= 0 {
		for _, l := range lists {
			k += len(l)
		}
	}
	return merge(lists, k)
}

// merge deduplicates by document id keeping the highest score, then sorts by
// score descending and id ascending and caps at k. Ties between stores
// resolve to the lexically smaller store name.
func merge(perStore [][]ScoredDocument, k int) []ScoredDocument {
	best := map[string]ScoredDocument{}
	for _, docs := range perStore {
		for _, d := range docs {
			cur, ok := best[d.ID]
			if !ok || d.Score > cur.Score || (d.Score == cur.Score && d.Store < cur.Store) {
				best[d.ID] = d
			}
		}
	}
	out := make([]ScoredDocument, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
