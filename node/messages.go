package node

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgraph/core"
)

// readMessages decodes the conversation held by an append channel. A missing
// channel is an empty conversation.
func readMessages(st *core.State, channel string) ([]core.Message, error) {
	if _, ok := st.Get(channel); !ok {
		return nil, nil
	}
	var msgs []core.Message
	if err := st.Decode(channel, &msgs); err != nil {
		return nil, fmt.Errorf("channel %q does not hold messages: %w", channel, err)
	}
	return msgs, nil
}

// encodeResult renders a tool outcome as message content.
func encodeResult(result any, err error) string {
	if err != nil {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(b)
	}
	if s, ok := result.(string); ok {
		return s
	}
	b, mErr := json.Marshal(result)
	if mErr != nil {
		return fmt.Sprint(result)
	}
	return string(b)
}
