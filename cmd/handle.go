package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/guppy/internal/actor"
	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/chat/discordref"
	"github.com/nextlevelbuilder/guppy/internal/chat/telegramref"
	"github.com/nextlevelbuilder/guppy/internal/orchestrator"
	"github.com/nextlevelbuilder/guppy/internal/store"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// chatHandle aggregates however many reference adapters serveCmd started
// into the single chat.Handle the Orchestrator depends on, dispatching by
// the adapter-name prefix of a composite channel/thread ID.
type chatHandle struct {
	mu        sync.RWMutex
	adapters  map[string]chat.AdapterInfo
	channelFn map[string]func(string) chat.Channel
	resolveFn map[string]func(context.Context, string) (chat.Thread, error)
}

func newChatHandle() *chatHandle {
	return &chatHandle{
		adapters:  map[string]chat.AdapterInfo{},
		channelFn: map[string]func(string) chat.Channel{},
		resolveFn: map[string]func(context.Context, string) (chat.Thread, error){},
	}
}

func (h *chatHandle) register(
	name string,
	info chat.AdapterInfo,
	channelFn func(string) chat.Channel,
	resolveFn func(context.Context, string) (chat.Thread, error),
) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[name] = info
	h.channelFn[name] = channelFn
	h.resolveFn[name] = resolveFn
}

func (h *chatHandle) Channel(channelID string) chat.Channel {
	adapter, rest, ok := strings.Cut(channelID, ":")
	if !ok {
		return nil
	}
	h.mu.RLock()
	fn := h.channelFn[adapter]
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(rest)
}

func (h *chatHandle) GetAdapter(name string) (chat.AdapterInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.adapters[name]
	return info, ok
}

func (h *chatHandle) GetState() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.adapters))
	for name := range h.adapters {
		names = append(names, name)
	}
	return map[string]any{"adapters": names}
}

func (h *chatHandle) ResolveThread(ctx context.Context, threadID string) (chat.Thread, error) {
	adapter, _, ok := strings.Cut(threadID, ":")
	if !ok {
		return nil, fmt.Errorf("guppy: malformed thread id %q", threadID)
	}
	h.mu.RLock()
	fn := h.resolveFn[adapter]
	h.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("guppy: no adapter registered for %q", adapter)
	}
	return fn(ctx, threadID)
}

// parseMeta resolves threadID into a threadid.Meta using the boundary hook
// the owning adapter registered, if any.
func (h *chatHandle) parseMeta(adapterName, threadID string) (threadid.Meta, bool) {
	h.mu.RLock()
	info := h.adapters[adapterName]
	h.mu.RUnlock()
	return threadid.Parse(adapterName, threadID, info.ChannelIDFromThreadID)
}

func logInbound(st *store.Store, handle *chatHandle, adapterName, threadID, messageID, userID, userName, text string) {
	meta, ok := handle.parseMeta(adapterName, threadID)
	if !ok {
		slog.Warn("guppy: failed to parse inbound thread id", "adapter", adapterName, "thread", threadID)
		return
	}
	if err := st.LogMessage(meta, store.IncomingMessage{
		MessageID: messageID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
	}); err != nil {
		slog.Warn("guppy: failed to log inbound message", "adapter", adapterName, "error", err)
	}
}

// inboundHandler adapts a discordref.Inbound into a Prompt delivered
// through the Orchestrator, logging the raw message to the Store first.
func inboundHandler(st *store.Store, orch *orchestrator.Orchestrator, handle *chatHandle, adapterName string, _ func(discordref.Inbound) chat.FileAttachment) discordref.Handler {
	return func(in discordref.Inbound) {
		logInbound(st, handle, adapterName, in.ThreadID, in.MessageID, in.UserID, in.UserName, in.Text)
		thread, err := handle.ResolveThread(context.Background(), in.ThreadID)
		if err != nil {
			slog.Warn("guppy: failed to resolve inbound thread", "adapter", adapterName, "thread", in.ThreadID, "error", err)
			return
		}
		if err := orch.Send(in.ThreadID, actor.Prompt{Text: in.Text, Thread: thread, MessageID: in.MessageID}); err != nil {
			slog.Warn("guppy: failed to deliver inbound prompt", "adapter", adapterName, "thread", in.ThreadID, "error", err)
		}
	}
}

// telegramInboundHandler is inboundHandler's telegramref counterpart; kept
// separate because the two Inbound types are unrelated structs, not a
// shared interface.
func telegramInboundHandler(st *store.Store, orch *orchestrator.Orchestrator, handle *chatHandle) telegramref.Handler {
	return func(in telegramref.Inbound) {
		logInbound(st, handle, "telegram", in.ThreadID, in.MessageID, in.UserID, in.UserName, in.Text)
		thread, err := handle.ResolveThread(context.Background(), in.ThreadID)
		if err != nil {
			slog.Warn("guppy: failed to resolve inbound thread", "adapter", "telegram", "thread", in.ThreadID, "error", err)
			return
		}
		if err := orch.Send(in.ThreadID, actor.Prompt{Text: in.Text, Thread: thread, MessageID: in.MessageID}); err != nil {
			slog.Warn("guppy: failed to deliver inbound prompt", "adapter", "telegram", "thread", in.ThreadID, "error", err)
		}
	}
}
