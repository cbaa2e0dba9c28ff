package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/agentgraph/core"
)

// ID identifies a checkpoint by content.
type ID string

// Checkpoint is an immutable snapshot of an execution after a superstep.
// Records is the execution log up to and including Step.
type Checkpoint struct {
	ID          ID                `json:"id"`
	ExecutionID string            `json:"execution_id"`
	Graph       string            `json:"graph,omitempty"`
	Step        int               `json:"step"`
	State       *core.State       `json:"state"`
	Pending     []string          `json:"pending"`
	Parent      ID                `json:"parent,omitempty"`
	Records     []core.StepRecord `json:"records,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Done reports whether the execution had nothing left to run.
func (c *Checkpoint) Done() bool { return len(c.Pending) == 0 }

// contentID digests the fields that define a snapshot. The log, parent and
// timestamp are excluded so replaying the same superstep yields the same id.
func contentID(executionID string, step int, state *core.State, pending []string) (ID, error) {
	sorted := append([]string(nil), pending...)
	sort.Strings(sorted)
	if sorted == nil {
		sorted = []string{}
	}
	payload, err := json.Marshal(struct {
		ExecutionID string      `json:"execution_id"`
		Step        int         `json:"step"`
		State       *core.State `json:"state"`
		Pending     []string    `json:"pending"`
	}{executionID, step, state, sorted})
	if err != nil {
		return "", fmt.Errorf("checkpoint: encode content: %w", err)
	}
	sum := blake3.Sum256(payload)
	return ID(hex.EncodeToString(sum[:])), nil
}

const envelopeVersion = 1

type envelope struct {
	Version    int         `json:"version"`
	Checkpoint *Checkpoint `json:"checkpoint"`
}

// Encode serializes a checkpoint into the versioned JSON envelope.
func Encode(cp *Checkpoint) ([]byte, error) {
	b, err := json.Marshal(envelope{Version: envelopeVersion, Checkpoint: cp})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode %s: %w", cp.ID, err)
	}
	return b, nil
}

// Decode parses an envelope produced by Encode.
func Decode(b []byte) (*Checkpoint, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("checkpoint: unsupported envelope version %d", env.Version)
	}
	if env.Checkpoint == nil {
		return nil, fmt.Errorf("checkpoint: empty envelope")
	}
	if env.Checkpoint.State == nil {
		env.Checkpoint.State = core.NewState()
	}
	return env.Checkpoint, nil
}
