package core

// Message is the state-friendly form of a conversation turn. Conversation
// channels store Messages in their canonical JSON shape; Content is rebuilt
// on demand when a model request is assembled.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []FunctionCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// ToContent converts the message into role-tagged parts.
func (m Message) ToContent() Content {
	c := Content{Role: m.Role}
	if m.Role == "tool" {
		c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: FunctionResponse{
			ID:       m.ToolCallID,
			Name:     m.Name,
			Response: m.Content,
		}})
		return c
	}
	if m.Content != "" {
		c.Parts = append(c.Parts, TextPart{Text: m.Content})
	}
	for _, fc := range m.ToolCalls {
		c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: fc})
	}
	return c
}

// MessageFromContent flattens content into a Message. Only the first function
// response part is kept for tool messages.
func MessageFromContent(c Content) Message {
	m := Message{Role: c.Role, Content: c.Text(), ToolCalls: c.FunctionCalls()}
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			m.ToolCallID = fr.FunctionResponse.ID
			m.Name = fr.FunctionResponse.Name
			if s, ok := fr.FunctionResponse.Response.(string); ok {
				m.Content = s
			}
			break
		}
	}
	return m
}
