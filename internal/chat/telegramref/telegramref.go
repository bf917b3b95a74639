// Package telegramref is a reference chat.Handle adapter over Telegram's
// Bot API, polling for updates with telego. Like discordref, it exists
// only to exercise the internal/chat contract; onboarding, pairing, and
// forum-topic routing are the teacher's business logic and stay out of
// scope here (spec.md §1 Non-goals, SPEC_FULL.md §E).
//
// Grounded on the teacher's internal/channels/telegram/channel.go for the
// long-polling lifecycle (UpdatesViaLongPolling, cancellable poll
// context, SetRunning), generalized from its forum-topic-aware send path
// to one chat = one thread.
package telegramref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

const adapterName = "telegram"
const telegramMessageLimit = 4096

// Config configures a Telegram reference adapter.
type Config struct {
	Token string
}

// Inbound is one message delivered to the handler registered with Start.
type Inbound struct {
	ThreadID  string
	MessageID string
	UserID    string
	UserName  string
	Text      string
	IsDM      bool
}

// Handler receives every inbound message the adapter's poll loop observes.
type Handler func(Inbound)

// Adapter is a chat.Handle-compatible Telegram long-polling connection.
type Adapter struct {
	bot      *telego.Bot
	handler  Handler
	pollStop context.CancelFunc
	pollDone chan struct{}
}

// New creates a telego bot for cfg.Token. Start begins polling.
func New(cfg Config) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegramref: create bot: %w", err)
	}
	return &Adapter{bot: bot}, nil
}

// Start begins long-polling for updates and delivers messages to handler
// until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context, handler Handler) error {
	a.handler = handler
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollStop = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegramref: start long polling: %w", err)
	}

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					a.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the poll loop and waits (bounded) for it to exit.
func (a *Adapter) Stop() {
	if a.pollStop != nil {
		a.pollStop()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
		}
	}
}

func (a *Adapter) handleMessage(m *telego.Message) {
	if a.handler == nil || m.From == nil || m.From.IsBot {
		return
	}
	chatID := m.Chat.ID
	composite := fmt.Sprintf("%s:%d:%d", adapterName, chatID, chatID)
	a.handler(Inbound{
		ThreadID:  composite,
		MessageID: strconv.Itoa(m.MessageID),
		UserID:    strconv.FormatInt(m.From.ID, 10),
		UserName:  m.From.Username,
		Text:      m.Text,
		IsDM:      m.Chat.Type == telego.ChatTypePrivate,
	})
}

// Info returns this adapter's registration. The channel boundary is the
// default second colon, so no ChannelIDFromThreadID hook is needed.
func (a *Adapter) Info() chat.AdapterInfo {
	return chat.AdapterInfo{
		Name:             adapterName,
		FetchChannelInfo: a.fetchChannelInfo,
	}
}

func (a *Adapter) fetchChannelInfo(ctx context.Context, channelKey string) (chat.ChannelInfo, error) {
	chatID, err := strconv.ParseInt(channelKey, 10, 64)
	if err != nil {
		return chat.ChannelInfo{}, fmt.Errorf("telegramref: malformed channel key %q: %w", channelKey, err)
	}
	c, err := a.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{ID: chatID}})
	if err != nil {
		return chat.ChannelInfo{}, fmt.Errorf("telegramref: get chat: %w", err)
	}
	return chat.ChannelInfo{
		ID:   channelKey,
		Name: c.Title,
		IsDM: c.Type == string(telego.ChatTypePrivate),
	}, nil
}

// Channel returns a posting surface for channelKey (the chat ID as a
// decimal string).
func (a *Adapter) Channel(channelKey string) chat.Channel {
	return &telegramChannel{bot: a.bot, channelKey: channelKey}
}

// ResolveThread returns the live Thread for an existing composite thread
// ID.
func (a *Adapter) ResolveThread(_ context.Context, compositeID string) (chat.Thread, error) {
	meta, ok := threadid.Parse(adapterName, compositeID, nil)
	if !ok {
		return nil, fmt.Errorf("telegramref: cannot parse thread id %q", compositeID)
	}
	chatID, err := strconv.ParseInt(meta.ThreadKey, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegramref: malformed thread key %q: %w", meta.ThreadKey, err)
	}
	return &telegramThread{bot: a.bot, chatID: chatID}, nil
}

type telegramChannel struct {
	bot        *telego.Bot
	channelKey string
}

func (c *telegramChannel) Post(ctx context.Context, text string) (string, error) {
	chatID, err := strconv.ParseInt(c.channelKey, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegramref: malformed channel key %q: %w", c.channelKey, err)
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   truncate(text, telegramMessageLimit),
	})
	if err != nil {
		return "", wrapTelegramErr(err)
	}
	return fmt.Sprintf("%s:%d:%d", adapterName, chatID, chatID), nil
}

type telegramThread struct {
	bot    *telego.Bot
	chatID int64
}

func (t *telegramThread) ID() string { return strconv.FormatInt(t.chatID, 10) }

func (t *telegramThread) Post(ctx context.Context, text string) (chat.SentMessage, error) {
	msg, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   truncate(text, telegramMessageLimit),
	})
	if err != nil {
		return nil, wrapTelegramErr(err)
	}
	return &telegramSentMessage{bot: t.bot, chatID: t.chatID, messageID: msg.MessageID, text: text}, nil
}

func (t *telegramThread) PostRich(ctx context.Context, in chat.PostInput) (chat.SentMessage, error) {
	if len(in.Files) == 0 {
		return t.Post(ctx, in.Raw)
	}
	f := in.Files[0]
	msg, err := t.bot.SendDocument(ctx, &telego.SendDocumentParams{
		ChatID:   telego.ChatID{ID: t.chatID},
		Document: telego.InputFile{File: bytes.NewReader(f.Data)},
		Caption:  truncate(in.Raw, 1024),
	})
	if err != nil {
		return nil, wrapTelegramErr(err)
	}
	return &telegramSentMessage{bot: t.bot, chatID: t.chatID, messageID: msg.MessageID, text: in.Raw}, nil
}

type telegramSentMessage struct {
	bot       *telego.Bot
	chatID    int64
	messageID int
	text      string
}

func (m *telegramSentMessage) ID() string   { return strconv.Itoa(m.messageID) }
func (m *telegramSentMessage) Text() string { return m.text }

func (m *telegramSentMessage) Edit(ctx context.Context, text string) error {
	m.text = text
	_, err := m.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: m.chatID},
		MessageID: m.messageID,
		Text:      truncate(text, telegramMessageLimit),
	})
	return wrapTelegramErr(err)
}

func (m *telegramSentMessage) Delete(ctx context.Context) error {
	return wrapTelegramErr(m.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: m.chatID},
		MessageID: m.messageID,
	}))
}

// wrapTelegramErr surfaces a Telegram 429 response as chat.RateLimitError,
// reading the retry_after hint telego attaches to rate-limit failures.
func wrapTelegramErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telego.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 429 {
		retryMs := int64(0)
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			retryMs = int64(apiErr.Parameters.RetryAfter) * 1000
		}
		return &chat.RateLimitError{RetryAfterMs: retryMs, Err: err}
	}
	return err
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	if idx := strings.LastIndexByte(s[:limit], '\n'); idx > limit/2 {
		cut = idx
	}
	return s[:cut]
}
