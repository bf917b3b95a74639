// Package orchestrator implements the Orchestrator: a registry of Thread
// Actors keyed by composite thread ID, plus the routing operations that
// create, command, and tear them down. See spec.md §4.6.
//
// Grounded on the teacher's internal/channels.Manager (manager.go), which
// keeps one map of adapter name to registered Channel and dispatches
// inbound messages to the right one; generalized here from a single-level
// adapter registry to a two-level one (actor per thread, threads grouped
// by channel prefix for broadcast).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/guppy/internal/actor"
	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// ActorFactory creates a new Actor for a thread the Orchestrator has not
// seen before. Supplied once at construction; every thread gets its own
// Actor instance from the same factory.
type ActorFactory func(meta threadid.Meta) *actor.Actor

// SlashCommand is one parsed `/command` invocation arriving from a chat
// adapter, addressed to every actor in a channel (spec.md §4.6).
type SlashCommand struct {
	ChannelID string
	Command   string
	Text      string
}

// commandMap translates a slash command name to the ActorMessage it
// produces. Only "stop" is wired today; spec.md §4.6 explicitly leaves
// room for "steer" without committing to its argument shape yet.
var commandMap = map[string]func(text string) actor.Message{
	"stop": func(string) actor.Message { return actor.Abort{} },
}

// Orchestrator owns every live Actor for this process and routes messages
// to them by composite thread ID.
type Orchestrator struct {
	handle  chat.Handle
	factory ActorFactory

	mu      sync.Mutex
	actors  map[string]*actor.Actor
	metaFor map[string]threadid.Meta
}

// New creates an Orchestrator. handle resolves thread/channel handles from
// composite IDs; factory creates an Actor the first time a thread ID is
// seen.
func New(handle chat.Handle, factory ActorFactory) *Orchestrator {
	return &Orchestrator{
		handle:  handle,
		factory: factory,
		actors:  map[string]*actor.Actor{},
		metaFor: map[string]threadid.Meta{},
	}
}

// getOrCreate returns the Actor for threadID, creating and registering one
// via the factory if this is the first message for that thread.
func (o *Orchestrator) getOrCreate(threadID string) (*actor.Actor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.actors[threadID]; ok {
		return a, nil
	}
	meta, err := o.parseThreadID(threadID)
	if err != nil {
		return nil, err
	}
	a := o.factory(meta)
	o.actors[threadID] = a
	o.metaFor[threadID] = meta
	return a, nil
}

// parseThreadID splits a composite thread ID using the owning adapter's
// channel-boundary hook, if it registered one.
func (o *Orchestrator) parseThreadID(composite string) (threadid.Meta, error) {
	adapter, _, ok := strings.Cut(composite, ":")
	if !ok {
		return threadid.Meta{}, fmt.Errorf("orchestrator: malformed thread id %q", composite)
	}
	var boundary threadid.ChannelBoundary
	if info, ok := o.handle.GetAdapter(adapter); ok {
		boundary = info.ChannelIDFromThreadID
	}
	meta, ok := threadid.Parse(adapter, composite, boundary)
	if !ok {
		return threadid.Meta{}, fmt.Errorf("orchestrator: cannot parse thread id %q", composite)
	}
	return meta, nil
}

// Send gets or creates the actor for threadID and forwards msg to it.
func (o *Orchestrator) Send(threadID string, msg actor.Message) error {
	a, err := o.getOrCreate(threadID)
	if err != nil {
		return err
	}
	a.Deliver(msg)
	return nil
}

// SendCommand forwards msg only if an actor already exists for threadID,
// reporting whether one did. Used for commands that must not spin up a
// fresh thread (e.g. `/stop` on a thread nobody has spoken in yet).
func (o *Orchestrator) SendCommand(threadID string, msg actor.Message) bool {
	o.mu.Lock()
	a, ok := o.actors[threadID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	a.Deliver(msg)
	return true
}

// BroadcastCommand forwards msg to every registered actor whose thread ID
// starts with channelPrefix, returning how many received it.
func (o *Orchestrator) BroadcastCommand(channelPrefix string, msg actor.Message) int {
	o.mu.Lock()
	var targets []*actor.Actor
	for id, a := range o.actors {
		if strings.HasPrefix(id, channelPrefix) {
			targets = append(targets, a)
		}
	}
	o.mu.Unlock()
	for _, a := range targets {
		a.Deliver(msg)
	}
	return len(targets)
}

// DispatchEvent delivers one Event Bus dispatch to its target: a thread
// target resolves the live Thread handle and sends a Prompt directly; a
// channel target posts first and sends a Prompt to the thread that post
// created. That Prompt carries no SentMessage (chat.Channel.Post returns
// only the new thread ID), so the actor posts its own status message in
// the new thread rather than editing the channel post.
func (o *Orchestrator) DispatchEvent(ctx context.Context, target message.EventTarget, text string) {
	switch {
	case target.IsThread():
		o.dispatchToThread(ctx, target.ThreadID, text)
	case target.IsChannel():
		o.postAndRoute(ctx, target.ChannelID, text)
	default:
		slog.Warn("orchestrator: event target has neither threadId nor channelId")
	}
}

func (o *Orchestrator) dispatchToThread(ctx context.Context, threadID, text string) {
	thread, err := o.handle.ResolveThread(ctx, threadID)
	if err != nil {
		slog.Warn("orchestrator: failed to resolve thread for event dispatch", "thread", threadID, "error", err)
		return
	}
	if err := o.Send(threadID, actor.Prompt{Text: text, Thread: thread}); err != nil {
		slog.Warn("orchestrator: failed to send event prompt", "thread", threadID, "error", err)
	}
}

// postAndRoute posts text to channelID, resolves the thread created by
// that post, and sends a Prompt there. SentMessage is left nil.
func (o *Orchestrator) postAndRoute(ctx context.Context, channelID string, text string) {
	ch := o.handle.Channel(channelID)
	if ch == nil {
		slog.Warn("orchestrator: unknown channel for event dispatch", "channel", channelID)
		return
	}
	threadID, err := ch.Post(ctx, text)
	if err != nil {
		slog.Warn("orchestrator: failed to post event to channel", "channel", channelID, "error", err)
		return
	}
	thread, err := o.handle.ResolveThread(ctx, threadID)
	if err != nil {
		slog.Warn("orchestrator: failed to resolve routed thread", "thread", threadID, "error", err)
		return
	}
	if err := o.Send(threadID, actor.Prompt{Text: text, Thread: thread}); err != nil {
		slog.Warn("orchestrator: failed to send routed prompt", "thread", threadID, "error", err)
	}
}

// SendToChannel posts text to channelID directly, fire-and-forget; any
// failure is logged, not returned.
func (o *Orchestrator) SendToChannel(ctx context.Context, channelID, text string) {
	ch := o.handle.Channel(channelID)
	if ch == nil {
		slog.Warn("orchestrator: unknown channel", "channel", channelID)
		return
	}
	if _, err := ch.Post(ctx, text); err != nil {
		slog.Warn("orchestrator: failed to post to channel", "channel", channelID, "error", err)
	}
}

// HandleSlashCommand parses cmd via the command map and, if recognized,
// broadcasts the resulting ActorMessage to every actor in the channel,
// reporting whether any actor received it.
func (o *Orchestrator) HandleSlashCommand(cmd SlashCommand) bool {
	build, ok := commandMap[cmd.Command]
	if !ok {
		return false
	}
	msg := build(cmd.Text)
	return o.BroadcastCommand(cmd.ChannelID+":", msg) > 0
}

// Shutdown gives every live actor a bounded grace period (governed by
// ctx's deadline) to finish its current prompt, then force-destroys
// whatever is still running and clears the registry (spec.md SPEC_FULL §D.3).
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	actors := make([]*actor.Actor, 0, len(o.actors))
	for _, a := range o.actors {
		actors = append(actors, a)
	}
	o.actors = map[string]*actor.Actor{}
	o.metaFor = map[string]threadid.Meta{}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(len(actors))
		for _, a := range actors {
			go func(a *actor.Actor) {
				defer wg.Done()
				a.Quiesce(ctx)
			}(a)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("orchestrator: shutdown exceeded fallback timeout, some actors may still be draining")
	}
}
