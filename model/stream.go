package model

import (
	"context"
	"strings"

	"github.com/hupe1980/agentgraph/core"
)

// Collect drains a Generate stream into one response. Text from partial
// chunks is used only when the final chunk carries no text of its own.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (*Response, error) {
	var (
		final   *Response
		partial strings.Builder
	)
	for {
		select {
		case <-ctx.Done():
			go drain(respCh)
			return nil, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				if err, ok := <-errCh; ok && err != nil {
					return nil, err
				}
				if final == nil {
					if partial.Len() == 0 {
						return nil, errEmptyStream
					}
					final = &Response{Content: core.NewTextContent("assistant", partial.String()), FinishReason: "stop"}
				}
				if final.Content.Text() == "" && partial.Len() > 0 {
					final.Content.Parts = append([]core.Part{core.TextPart{Text: partial.String()}}, final.Content.Parts...)
				}
				if final.Content.Role == "" {
					final.Content.Role = "assistant"
				}
				return final, nil
			}
			if r.Partial {
				partial.WriteString(r.Content.Text())
				continue
			}
			resp := r
			final = &resp
		}
	}
}

func drain(ch <-chan Response) {
	for range ch {
	}
}
