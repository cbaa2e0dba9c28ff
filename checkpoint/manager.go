package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// Options configures a Manager.
type Options struct {
	Store Store
	// Retention keeps only the newest N checkpoints per execution; 0 keeps all.
	Retention int
	Logger    logging.Logger
}

// Manager saves and loads checkpoints. Saves for one execution are
// serialized; different executions proceed in parallel.
type Manager struct {
	store     Store
	retention int
	logger    *logging.ExecutionLogger
	locks     sync.Map // executionID -> *sync.Mutex
}

// NewManager creates a manager; without a Store it uses a MemoryStore.
func NewManager(optFns ...func(o *Options)) *Manager {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	return &Manager{
		store:     opts.Store,
		retention: opts.Retention,
		logger:    logging.Wrap(opts.Logger).WithComponent("checkpoint"),
	}
}

// SaveOption adds optional fields to a saved checkpoint.
type SaveOption func(cp *Checkpoint)

// WithParent links the checkpoint to the one it continues from.
func WithParent(id ID) SaveOption { return func(cp *Checkpoint) { cp.Parent = id } }

// WithRecords stores the execution log up to this step.
func WithRecords(records []core.StepRecord) SaveOption {
	return func(cp *Checkpoint) { cp.Records = append([]core.StepRecord(nil), records...) }
}

// WithGraph records the graph name.
func WithGraph(name string) SaveOption { return func(cp *Checkpoint) { cp.Graph = name } }

func (m *Manager) lock(executionID string) func() {
	v, _ := m.locks.LoadOrStore(executionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Save snapshots state and the pending frontier after step. The state is
// deep-copied; saving an identical snapshot again returns the existing id.
func (m *Manager) Save(ctx context.Context, executionID string, step int, state *core.State, pending []string, opts ...SaveOption) (ID, error) {
	if executionID == "" {
		return "", errors.New("checkpoint: execution id required")
	}
	if state == nil {
		state = core.NewState()
	}
	id, err := contentID(executionID, step, state, pending)
	if err != nil {
		return "", err
	}
	cp := &Checkpoint{
		ID:          id,
		ExecutionID: executionID,
		Step:        step,
		State:       state.Clone(),
		Pending:     append([]string{}, pending...),
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(cp)
	}
	data, err := Encode(cp)
	if err != nil {
		return "", err
	}

	unlock := m.lock(executionID)
	defer unlock()

	created, err := m.store.Put(ctx, executionID, id, data)
	if err != nil {
		return "", fmt.Errorf("checkpoint: save %s: %w", id, err)
	}
	if !created {
		m.logger.Debug("checkpoint.exists", "execution_id", executionID, "checkpoint_id", id, "step", step)
		return id, nil
	}
	m.logger.Debug("checkpoint.saved", "execution_id", executionID, "checkpoint_id", id, "step", step, "pending", len(pending))
	if m.retention > 0 {
		if err := m.pruneLocked(ctx, executionID, m.retention); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Load returns the checkpoint with id. The returned state is private to the
// caller.
func (m *Manager) Load(ctx context.Context, id ID) (*Checkpoint, error) {
	data, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}
	return Decode(data)
}

// Latest returns the most recently saved checkpoint of an execution, or
// nil when there is none.
func (m *Manager) Latest(ctx context.Context, executionID string) (*Checkpoint, error) {
	ids, err := m.store.List(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", executionID, err)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		cp, err := m.Load(ctx, ids[i])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return cp, err
	}
	return nil, nil
}

// List returns an execution's checkpoints, oldest first.
func (m *Manager) List(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	ids, err := m.store.List(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", executionID, err)
	}
	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := m.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// History walks parent links from id back to the first reachable ancestor
// and returns the chain oldest first.
func (m *Manager) History(ctx context.Context, id ID) ([]*Checkpoint, error) {
	var chain []*Checkpoint
	seen := map[ID]bool{}
	for cur := id; cur != "" && !seen[cur]; {
		seen[cur] = true
		cp, err := m.Load(ctx, cur)
		if err != nil {
			if len(chain) > 0 && errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, cp)
		cur = cp.Parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Prune deletes all but the newest keep checkpoints of an execution.
func (m *Manager) Prune(ctx context.Context, executionID string, keep int) error {
	unlock := m.lock(executionID)
	defer unlock()
	return m.pruneLocked(ctx, executionID, keep)
}

func (m *Manager) pruneLocked(ctx context.Context, executionID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	ids, err := m.store.List(ctx, executionID)
	if err != nil {
		return fmt.Errorf("checkpoint: list %s: %w", executionID, err)
	}
	if len(ids) <= keep {
		return nil
	}
	drop := ids[:len(ids)-keep]
	if err := m.store.Delete(ctx, executionID, drop...); err != nil {
		return fmt.Errorf("checkpoint: prune %s: %w", executionID, err)
	}
	m.logger.Debug("checkpoint.pruned", "execution_id", executionID, "removed", len(drop))
	return nil
}
