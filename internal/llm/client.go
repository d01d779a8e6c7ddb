// Package llm wraps the hosted-model API behind a small client interface.
// The model proposes tool calls; it never executes them. Execution belongs
// to the tool registry, which is why Chat returns proposed calls instead of
// running tools inside the model layer.
package llm

import "context"

// Turn is one prior message in a conversation, oldest first.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// ToolCall is a tool invocation proposed by the model. Arguments are raw
// decoded JSON; the dispatcher and handlers do all validation.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Reply is the model's output for one chat turn.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Client produces a reply plus zero or more proposed tool calls for a user
// message with bounded history.
type Client interface {
	Chat(ctx context.Context, message string, history []Turn, ownerID string) (Reply, error)
}
