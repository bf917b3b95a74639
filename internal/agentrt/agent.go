// Package agentrt declares the contract the Thread Actor consumes from the
// LLM agent runner: a message-list-in, event-stream-out interactive loop.
// The runner's own reasoning, tool execution, and provider wiring are out
// of scope (spec.md §1) — this package only types the boundary so the
// actor can drive any conforming implementation.
//
// Grounded on the teacher's internal/agent.Loop (loop.go) event/ID surface,
// generalized from the teacher's single provider-bound Loop to an
// interface any agent runtime can satisfy.
package agentrt

import (
	"context"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// EventType discriminates the events an Agent emits while a prompt is in
// flight. The Thread Actor reacts to a subset (see spec.md §4.5); the rest
// are observed, if at all, and otherwise ignored.
type EventType string

const (
	EventAgentStart        EventType = "agent_start"
	EventToolExecutionStart EventType = "tool_execution_start"
	EventToolExecutionEnd   EventType = "tool_execution_end"
	EventAgentEnd          EventType = "agent_end"
)

// Event is one message on an Agent's event stream.
type Event struct {
	Type EventType

	// tool_execution_start / tool_execution_end
	ToolName   string
	ToolCallID string
	Args       map[string]any // may carry "label" to override ToolName in status text
	IsError    bool
	ResultText string
}

// Label returns the human-facing name for a tool_execution_start event:
// args["label"] if present, otherwise the raw tool name.
func (e Event) Label() string {
	if e.Args != nil {
		if v, ok := e.Args["label"].(string); ok && v != "" {
			return v
		}
	}
	return e.ToolName
}

// Unsubscribe cancels a previously registered event handler.
type Unsubscribe func()

// Agent is the per-thread LLM runner an Actor drives. Implementations own
// their own provider, tool executor, and system prompt assembly; none of
// that is in scope here (spec.md §1 Non-goals).
type Agent interface {
	// ReplaceMessages installs msgs as the agent's current message list,
	// discarding whatever it held before (used after Store.LoadContext and
	// after a compaction pass replaces the list).
	ReplaceMessages(msgs []message.AgentMessage)

	// Prompt runs one turn with the given user text and optional inline
	// images, blocking until the turn completes or errors. Use Messages
	// afterward to retrieve the updated list.
	Prompt(ctx context.Context, text string, images []message.ContentBlock) error

	// Steer injects a mid-run user message while a Prompt call is in
	// flight. A no-op if the agent is idle.
	Steer(ctx context.Context, userMsg message.AgentMessage) error

	// Abort requests that any in-flight Prompt return promptly with the
	// final assistant message's StopReason set to aborted. A no-op if the
	// agent is idle.
	Abort()

	// Subscribe registers handler for every Event emitted by subsequent
	// Prompt calls, returning an Unsubscribe to detach it.
	Subscribe(handler func(Event)) Unsubscribe

	// Messages returns the agent's current message list.
	Messages() []message.AgentMessage
}

// Summarizer performs the single non-streaming completion call the
// Compaction Engine needs to produce a summary. Most Agent implementations
// satisfy this directly (summarization reuses the same provider and model
// as normal prompting); it is declared separately here because the
// compaction package (which has no dependency on agentrt) defines the
// interface it actually consumes with the same method set.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, maxTokens int) (text string, err error)
}

// Factory creates a new Agent for one thread's lifetime, lazily invoked by
// the Thread Actor on that thread's first prompt.
type Factory func(ctx context.Context, threadID string) (Agent, error)
