// Package chat declares the chat-handle contract the core consumes from a
// platform adapter (Slack, Discord, Telegram, ...). Adapters' own business
// logic — onboarding, slash-command parsing beyond §4.6's stop/steer map,
// platform-specific retries — is out of scope (spec.md §1); this package
// only types the boundary described in spec.md §6.
//
// Grounded on the teacher's internal/channels.Channel interface
// (channel.go), generalized from the teacher's single-method send surface
// to the richer post/edit/delete/resolve surface the Thread Actor and
// Orchestrator need.
package chat

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// SentMessage is a message the core has posted or adopted as a thread's
// evolving status display.
type SentMessage interface {
	ID() string
	Text() string
	Edit(ctx context.Context, text string) error
	Delete(ctx context.Context) error
}

// PostInput is a rich post: raw platform-specific payload plus file
// attachments, for callers that need more than a plain text post.
type PostInput struct {
	Raw   string
	Files []FileAttachment
}

// FileAttachment is one file carried by a PostInput.
type FileAttachment struct {
	Name     string
	Data     []byte
	MimeType string
}

// Thread is one conversational thread on the chat platform.
type Thread interface {
	ID() string
	Post(ctx context.Context, text string) (SentMessage, error)
	PostRich(ctx context.Context, in PostInput) (SentMessage, error)
}

// Channel is a channel-level posting surface, used by Orchestrator's
// post-and-route path (dispatching a channel-targeted event creates a new
// thread as a side effect of posting).
type Channel interface {
	Post(ctx context.Context, text string) (threadID string, err error)
}

// ChannelInfo is what an adapter's FetchChannelInfo hook resolves, used to
// enrich store.ChannelMeta asynchronously.
type ChannelInfo struct {
	ID   string
	Name string
	IsDM bool
}

// AdapterInfo describes one registered transport.
type AdapterInfo struct {
	Name string

	// ChannelIDFromThreadID overrides where threadid.Parse looks for the
	// channel/thread boundary. Nil for adapters where the boundary is the
	// plain second colon (spec.md §4.1).
	ChannelIDFromThreadID threadid.ChannelBoundary

	// FetchChannelInfo resolves a channel's display name and DM-ness.
	// Nil if the adapter cannot or need not supply it.
	FetchChannelInfo func(ctx context.Context, channelKey string) (ChannelInfo, error)
}

// Handle is the chat layer surface the core depends on. One Handle serves
// every adapter registered with the process.
type Handle interface {
	Channel(channelID string) Channel
	GetAdapter(name string) (AdapterInfo, bool)
	GetState() any

	// ResolveThread returns the live Thread handle for an existing
	// composite thread ID, used by Orchestrator.dispatchEvent for
	// thread-targeted events.
	ResolveThread(ctx context.Context, threadID string) (Thread, error)
}

// RateLimitError is returned by a Thread/Channel/SentMessage operation
// that failed because the platform is rate-limiting this process.
// RetryAfterMs is the platform's own backoff hint, when it supplied one;
// zero means unknown (the caller falls back to exponential backoff).
type RateLimitError struct {
	RetryAfterMs int64
	Err          error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Err }
