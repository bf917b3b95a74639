package actor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/guppy/internal/chat"
)

const toolErrorTruncateLen = 200

// RunMessage is the evolving chat message that shows progress of one
// prompt run. Every write (post/edit/delete) is submitted to a single-
// worker task queue, so status writes against one underlying chat message
// always hit the platform in the order they were issued, even though each
// one may internally retry across several RPCs. See the "RunMessage
// chain" design note, spec.md §9.
type RunMessage struct {
	ctx       context.Context
	thread    chat.Thread
	rateLimit *rate.Limiter

	tasks chan func()
	done  chan struct{}

	// Only ever touched inside queued closures, which the single worker
	// goroutine runs strictly one at a time, so no lock is needed.
	sent  chat.SentMessage
	lines []string
}

// newRunMessage creates a RunMessage posting into thread. existing, when
// non-nil, is adopted as the status surface instead of posting a fresh
// message (used when an event dispatch already posted to the channel).
// rateLimit, when non-nil, proactively throttles every post/edit/delete
// RPC this RunMessage issues.
func newRunMessage(ctx context.Context, thread chat.Thread, existing chat.SentMessage, rateLimit *rate.Limiter) *RunMessage {
	rm := &RunMessage{
		ctx:       ctx,
		thread:    thread,
		rateLimit: rateLimit,
		sent:      existing,
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
	go rm.worker()
	return rm
}

func (rm *RunMessage) worker() {
	defer close(rm.done)
	for fn := range rm.tasks {
		fn()
	}
}

func (rm *RunMessage) enqueue(fn func()) {
	rm.tasks <- fn
}

// Thinking appends the "_Thinking_" status line and posts or edits the
// display to show every accumulated line followed by " …".
func (rm *RunMessage) Thinking() {
	rm.enqueue(func() {
		rm.lines = append(rm.lines, "_Thinking_")
		rm.postOrEdit(strings.Join(rm.lines, "\n") + " …")
	})
}

// ToolStart appends a "_→ <label>_" status line.
func (rm *RunMessage) ToolStart(label string) {
	rm.enqueue(func() {
		rm.lines = append(rm.lines, fmt.Sprintf("_→ %s_", label))
		rm.postOrEdit(strings.Join(rm.lines, "\n") + " …")
	})
}

// ToolError appends a "_Error: <text, truncated to 200 chars>_" status
// line.
func (rm *RunMessage) ToolError(text string) {
	rm.enqueue(func() {
		if len(text) > toolErrorTruncateLen {
			text = text[:toolErrorTruncateLen]
		}
		rm.lines = append(rm.lines, fmt.Sprintf("_Error: %s_", text))
		rm.postOrEdit(strings.Join(rm.lines, "\n") + " …")
	})
}

// Finish replaces the whole message with text, dropping every status
// line.
func (rm *RunMessage) Finish(text string) {
	rm.enqueue(func() {
		rm.postOrEdit(text)
	})
}

// Error is shorthand for Finish("_Error: " + msg + "_").
func (rm *RunMessage) Error(msg string) {
	rm.Finish("_Error: " + msg + "_")
}

// Discard deletes the underlying sent message, if one was ever posted.
func (rm *RunMessage) Discard() {
	rm.enqueue(func() {
		if rm.sent == nil {
			return
		}
		rm.throttle()
		if err := withTransportRetry(rm.ctx, rm.sent.Delete); err != nil {
			slog.Warn("actor: failed to delete status message", "error", err)
		}
	})
}

// throttle blocks until the proactive post rate limiter admits one more
// RPC. A nil limiter (the default) disables throttling entirely.
func (rm *RunMessage) throttle() {
	if rm.rateLimit == nil {
		return
	}
	if err := rm.rateLimit.Wait(rm.ctx); err != nil {
		slog.Warn("actor: rate limit wait aborted", "error", err)
	}
}

// Flush blocks until every task submitted so far has completed, then
// stops the worker goroutine. Call once per run, after the last status
// update.
func (rm *RunMessage) Flush() {
	done := make(chan struct{})
	rm.tasks <- func() { close(done) }
	<-done
	close(rm.tasks)
	<-rm.done
}

// postOrEdit posts a fresh message the first time, then edits it on every
// subsequent call, retrying each RPC per withTransportRetry.
func (rm *RunMessage) postOrEdit(text string) {
	rm.throttle()
	if rm.sent == nil {
		if rm.thread == nil {
			// A Prompt with no Thread has nowhere to show status.
			return
		}
		var sm chat.SentMessage
		err := withTransportRetry(rm.ctx, func(ctx context.Context) error {
			var postErr error
			sm, postErr = rm.thread.Post(ctx, text)
			return postErr
		})
		if err != nil {
			slog.Warn("actor: failed to post status message", "error", err)
			return
		}
		rm.sent = sm
		return
	}
	if err := withTransportRetry(rm.ctx, func(ctx context.Context) error {
		return rm.sent.Edit(ctx, text)
	}); err != nil {
		slog.Warn("actor: failed to edit status message", "error", err)
	}
}
