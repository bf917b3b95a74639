package actor

import "github.com/nextlevelbuilder/guppy/internal/chat"

// Message is anything the Orchestrator can deliver to an Actor: a prompt
// to enqueue, or a steer/abort control signal that acts immediately
// without going through the mailbox (spec.md §4.5).
type Message interface {
	deliverTo(a *Actor)
}

// Prompt is a mailbox item: new user input to run through the agent.
type Prompt struct {
	// Text is the user's message text.
	Text string
	// Thread is where status updates and the final reply are posted.
	Thread chat.Thread
	// MessageID is the originating log entry's message ID, used to look
	// up attachments via Store.LoadAttachments. Empty for event-originated
	// prompts with no associated inbound message.
	MessageID string
	// SentMessage, when non-nil, is adopted as the RunMessage's status
	// surface instead of posting a fresh message. The Orchestrator's
	// event dispatches leave it nil.
	SentMessage chat.SentMessage
}

func (p Prompt) deliverTo(a *Actor) { a.enqueue(p) }

// Steer injects a mid-run user message. A no-op if the actor is idle.
type Steer struct {
	Text string
}

func (s Steer) deliverTo(a *Actor) { a.steer(s.Text) }

// Abort requests that any in-flight prompt stop. A no-op if the actor is
// idle.
type Abort struct{}

func (Abort) deliverTo(a *Actor) { a.abort() }
