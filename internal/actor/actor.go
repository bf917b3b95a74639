// Package actor implements the Thread Actor: a per-thread in-memory state
// machine with a bounded mailbox, single-flight prompt execution, mid-run
// steering/abort, and an evolving status message on the chat surface. See
// spec.md §4.5.
//
// Grounded on the teacher's internal/agent.Loop (loop.go) for the
// lazily-created, single-owner run-loop shape, generalized from the
// teacher's one-shot synchronous call into a persistent per-thread actor
// with its own mailbox goroutine, and on internal/channels.RateLimiter
// (ratelimit.go) for the proactive-throttle pattern reused here as
// Settings.PostRateLimit.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/guppy/internal/agentrt"
	"github.com/nextlevelbuilder/guppy/internal/compaction"
	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/store"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
	"github.com/nextlevelbuilder/guppy/internal/tracing"
)

const queueFullNotice = "Too many queued messages — please wait."
const silentMarker = "[SILENT]"

const defaultMaxQueueDepth = 20

// Settings configures one Actor's mailbox and status-posting behavior.
type Settings struct {
	// MaxQueueDepth bounds the mailbox; overflow drops the prompt and
	// posts queueFullNotice. Zero uses the default of 20.
	MaxQueueDepth int
	// InspectURL, when non-nil, is appended to the final reply as a
	// signed link (spec.md §6).
	InspectURL func(threadID string) string
	// PostRateLimit proactively throttles how often a RunMessage may hit
	// the chat transport, distinct from the reactive retry-on-429 policy
	// in withTransportRetry. Nil disables throttling.
	PostRateLimit *rate.Limiter
}

func (s Settings) maxQueueDepth() int {
	if s.MaxQueueDepth > 0 {
		return s.MaxQueueDepth
	}
	return defaultMaxQueueDepth
}

// Deps are the collaborators an Actor needs, injected once at creation by
// the Orchestrator.
type Deps struct {
	Store      *store.Store
	Agent      agentrt.Factory
	Compaction compaction.Settings
	Summarizer compaction.Summarizer // nil disables compaction entirely
	Settings   Settings
}

// Snapshot is the observable, non-authoritative state an actor exposes for
// an out-of-scope HTTP inspector (spec.md SPEC_FULL §D.2).
type Snapshot struct {
	PromptsHandled  int
	LastError       string
	LastRunDuration time.Duration
}

// Actor is the per-thread state machine: one bounded mailbox, one drain
// goroutine, one lazily-created agent. Actors never reference each other;
// all cross-actor communication goes through the Orchestrator.
type Actor struct {
	meta threadid.Meta
	deps Deps

	mailbox   chan Prompt
	destroyCh chan struct{}
	destroyed sync.Once

	mu             sync.Mutex
	agent          agentrt.Agent
	unsubscribe    agentrt.Unsubscribe
	currentRun     *RunMessage
	promptsHandled int
	lastError      string
	lastRunDur     time.Duration
}

// New creates an Actor for meta and starts its drain goroutine. Actors are
// created lazily by the Orchestrator on a thread's first message.
func New(meta threadid.Meta, deps Deps) *Actor {
	a := &Actor{
		meta:      meta,
		deps:      deps,
		mailbox:   make(chan Prompt, deps.Settings.maxQueueDepth()),
		destroyCh: make(chan struct{}),
	}
	go a.loop()
	return a
}

// Deliver routes an actor Message to its handler. Prompt messages are
// mailbox items; Steer and Abort act immediately without queuing.
func (a *Actor) Deliver(m Message) { m.deliverTo(a) }

// enqueue attempts a non-blocking send to the mailbox. A full mailbox
// drops the prompt and posts queueFullNotice to its thread instead
// (spec.md §4.5, scenario S1).
func (a *Actor) enqueue(p Prompt) {
	select {
	case a.mailbox <- p:
	default:
		if p.Thread != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := p.Thread.Post(ctx, queueFullNotice); err != nil {
					slog.Warn("actor: failed to post queue-full notice", "thread", a.meta.ThreadID, "error", err)
				}
			}()
		}
	}
}

func (a *Actor) steer(text string) {
	ag := a.currentAgent()
	if ag == nil {
		return
	}
	userMsg := message.User{Content: message.UserContent{IsText: true, Text: text}}
	if err := ag.Steer(context.Background(), userMsg); err != nil {
		slog.Warn("actor: steer failed", "thread", a.meta.ThreadID, "error", err)
	}
}

func (a *Actor) abort() {
	ag := a.currentAgent()
	if ag == nil {
		return
	}
	ag.Abort()
}

func (a *Actor) currentAgent() agentrt.Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent
}

// Destroy aborts any in-flight run, unsubscribes from the agent, clears
// the mailbox, and stops the drain goroutine. The actor must not be used
// afterward.
func (a *Actor) Destroy() {
	a.abort()
	a.destroyed.Do(func() {
		close(a.destroyCh)
	})
	for drained := false; !drained; {
		select {
		case <-a.mailbox:
		default:
			drained = true
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.agent = nil
	a.currentRun = nil
}

// Quiesce waits for the mailbox to drain and the current run to finish on
// its own, up to ctx's deadline, then calls Destroy regardless — used by
// the Orchestrator's graceful shutdown to give an in-flight prompt a
// bounded chance to complete before forcing abort.
func (a *Actor) Quiesce(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.idle() {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	a.Destroy()
}

func (a *Actor) idle() bool {
	a.mu.Lock()
	running := a.currentRun != nil
	a.mu.Unlock()
	return !running && len(a.mailbox) == 0
}

// Snapshot returns the actor's current run metrics.
func (a *Actor) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		PromptsHandled:  a.promptsHandled,
		LastError:       a.lastError,
		LastRunDuration: a.lastRunDur,
	}
}

// loop drains the mailbox one prompt at a time. Only one prompt runs at a
// time per actor: the next mailbox receive does not happen until runOne
// returns, which is the actor's single-flight guarantee (spec.md §5).
func (a *Actor) loop() {
	for {
		select {
		case <-a.destroyCh:
			return
		case p := <-a.mailbox:
			a.runOne(p)
		}
	}
}

// runOne executes the eight-step run loop described in spec.md §4.5 for
// one mailbox item.
func (a *Actor) runOne(p Prompt) {
	start := time.Now()
	ctx := context.Background()
	ctx, span := tracing.StartPromptRun(ctx, a.meta.ThreadID)
	defer span.End()

	rm := newRunMessage(ctx, p.Thread, p.SentMessage, a.deps.Settings.PostRateLimit)
	a.mu.Lock()
	a.currentRun = rm
	a.mu.Unlock()

	ag, err := a.activateAgent(ctx)
	if err != nil {
		rm.Error(describeError(err.Error()))
		rm.Flush()
		a.recordError(err, time.Since(start))
		return
	}

	rm.Thinking()

	if err := a.runPrompt(ctx, ag, rm, p); err != nil {
		rm.Error(describeError(err.Error()))
		rm.Flush()
		a.recordError(err, time.Since(start))
		return
	}

	rm.Flush()
	a.mu.Lock()
	a.promptsHandled++
	a.lastError = ""
	a.lastRunDur = time.Since(start)
	a.currentRun = nil
	a.mu.Unlock()
}

// activateAgent lazily creates the actor's agent on the first run and
// subscribes to its event stream once per agent lifetime.
func (a *Actor) activateAgent(ctx context.Context) (agentrt.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent != nil {
		return a.agent, nil
	}
	ag, err := a.deps.Agent(ctx, a.meta.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("actor: create agent: %w", err)
	}
	a.agent = ag
	a.unsubscribe = ag.Subscribe(a.handleAgentEvent)
	return ag, nil
}

// handleAgentEvent reacts to the subset of agent events the actor cares
// about; everything else is ignored (spec.md §4.5).
func (a *Actor) handleAgentEvent(ev agentrt.Event) {
	a.mu.Lock()
	rm := a.currentRun
	a.mu.Unlock()
	if rm == nil {
		return
	}
	switch ev.Type {
	case agentrt.EventAgentStart:
		rm.Thinking()
	case agentrt.EventToolExecutionStart:
		rm.ToolStart(ev.Label())
	case agentrt.EventToolExecutionEnd:
		if ev.IsError {
			rm.ToolError(ev.ResultText)
		}
	}
}

// runPrompt loads context, compacts if needed, loads attachments, prompts
// the agent (retrying once on context overflow), persists the result, and
// finishes the RunMessage.
func (a *Actor) runPrompt(ctx context.Context, ag agentrt.Agent, rm *RunMessage, p Prompt) error {
	msgs, err := a.deps.Store.LoadContext(a.meta)
	if err != nil {
		return fmt.Errorf("actor: load context: %w", err)
	}
	ag.ReplaceMessages(msgs)

	if a.deps.Summarizer != nil {
		tokens := compaction.EstimateContextTokens(msgs)
		if compaction.ShouldCompact(tokens, a.deps.Compaction) {
			compacted := a.compact(ctx, msgs)
			if compacted != nil {
				msgs = compacted
				ag.ReplaceMessages(msgs)
				if err := a.deps.Store.SaveContext(a.meta, msgs); err != nil {
					slog.Warn("actor: failed to persist pre-prompt compaction", "thread", a.meta.ThreadID, "error", err)
				}
			}
		}
	}

	var images []message.ContentBlock
	text := p.Text
	if p.MessageID != "" {
		atts, err := a.deps.Store.LoadAttachments(a.meta, p.MessageID)
		if err != nil {
			slog.Warn("actor: failed to load attachments", "thread", a.meta.ThreadID, "error", err)
		} else {
			for _, img := range atts.Images {
				images = append(images, message.ContentBlock{Type: message.BlockImage, MimeType: img.MimeType, Data: img.Data})
			}
			if len(atts.FilePaths) > 0 {
				text += "\n\n<attachments>\n"
				for _, fp := range atts.FilePaths {
					text += fp + "\n"
				}
				text += "</attachments>"
			}
		}
	}

	promptErr := ag.Prompt(ctx, text, images)
	if promptErr != nil && contextOverflowPattern.MatchString(promptErr.Error()) {
		compacted := a.compact(ctx, ag.Messages())
		if compacted == nil {
			return promptErr
		}
		ag.ReplaceMessages(compacted)
		if err := a.deps.Store.SaveContext(a.meta, compacted); err != nil {
			slog.Warn("actor: failed to persist forced compaction", "thread", a.meta.ThreadID, "error", err)
		}
		promptErr = ag.Prompt(ctx, text, images)
	}

	final := ag.Messages()
	if err := a.deps.Store.SaveContext(a.meta, final); err != nil {
		slog.Warn("actor: failed to persist context", "thread", a.meta.ThreadID, "error", err)
	}

	if promptErr != nil {
		return promptErr
	}

	a.finish(rm, final)
	return nil
}

// compact runs the Compaction Engine if a Summarizer is configured,
// returning nil when compaction did not change the message list (no cut
// point, or summarization failed).
func (a *Actor) compact(ctx context.Context, msgs []message.AgentMessage) []message.AgentMessage {
	if a.deps.Summarizer == nil {
		return nil
	}
	ctx, span := tracing.StartCompactionRun(ctx, a.meta.ThreadID)
	defer span.End()
	out, changed := compaction.Run(ctx, msgs, a.deps.Compaction, a.deps.Summarizer)
	if !changed {
		return nil
	}
	return out
}

// finish extracts the final assistant text and either discards the status
// message ("[SILENT]") or replaces it with the reply, appending a signed
// inspect link when configured, and logs the bot response.
func (a *Actor) finish(rm *RunMessage, msgs []message.AgentMessage) {
	text := extractFinalText(msgs)
	if text == silentMarker {
		rm.Discard()
		return
	}

	reply := text
	if a.deps.Settings.InspectURL != nil {
		reply += "\n\n" + a.deps.Settings.InspectURL(a.meta.ThreadID)
	}
	rm.Finish(reply)

	if err := a.deps.Store.LogBotResponse(a.meta, text); err != nil {
		slog.Warn("actor: failed to log bot response", "thread", a.meta.ThreadID, "error", err)
	}
}

func (a *Actor) recordError(err error, dur time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = err.Error()
	a.lastRunDur = dur
	a.currentRun = nil
}

// extractFinalText scans msgs from the tail for the first assistant
// message and renders it per spec.md §4.5's final-text-extraction rules.
func extractFinalText(msgs []message.AgentMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		a, ok := msgs[i].(message.Assistant)
		if !ok {
			continue
		}
		switch a.StopReason {
		case message.StopReasonAborted:
			return "_Stopped_"
		case message.StopReasonError:
			return describeError(a.ErrorMessage)
		default:
			if t := a.Text(); t != "" {
				return t
			}
			return "_No response_"
		}
	}
	return "_No response_"
}
