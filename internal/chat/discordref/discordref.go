// Package discordref is a reference chat.Handle adapter over Discord's
// gateway API. It exists only to exercise the internal/chat contract end
// to end; it carries none of the onboarding, allowlisting, or
// pairing-flow business logic the teacher's internal/channels/discord
// package implements (spec.md §1 Non-goals, SPEC_FULL.md §E).
//
// Grounded on the teacher's internal/channels/discord/discord.go for the
// session lifecycle (New/Start/Stop, AddHandler, intents) and message
// chunking-at-2000-chars limit, generalized from the teacher's
// placeholder-edit send path to the plain post/edit/delete surface
// chat.Thread/chat.SentMessage declare.
package discordref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

const adapterName = "discord"
const discordMessageLimit = 2000

// Config configures a Discord reference adapter.
type Config struct {
	Token string
}

// Inbound is one message delivered to the handler registered with Start.
type Inbound struct {
	ThreadID    string // composite thread id, ready for store/orchestrator use
	MessageID   string
	UserID      string
	UserName    string
	Text        string
	Attachments []chat.FileAttachment
	IsDM        bool
}

// Handler receives every inbound message the adapter's session observes.
type Handler func(Inbound)

// Adapter is a chat.Handle-compatible Discord connection.
type Adapter struct {
	session *discordgo.Session
	botID   string
	handler Handler
}

// New opens a discordgo session (not yet connected; call Start to dial the
// gateway) for cfg.Token.
func New(cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discordref: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Adapter{session: session}, nil
}

// Start connects to the Discord gateway and begins delivering inbound
// messages to handler until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context, handler Handler) error {
	a.handler = handler
	a.session.AddHandler(a.handleMessage)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discordref: open session: %w", err)
	}
	me, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("discordref: fetch bot identity: %w", err)
	}
	a.botID = me.ID
	go func() {
		<-ctx.Done()
		a.session.Close()
	}()
	return nil
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.botID {
		return
	}
	if a.handler == nil {
		return
	}

	guild := m.GuildID
	if guild == "" {
		guild = "dm"
	}
	composite := fmt.Sprintf("%s:%s:%s:%s", adapterName, guild, m.ChannelID, m.ChannelID)

	var atts []chat.FileAttachment
	for _, att := range m.Attachments {
		atts = append(atts, chat.FileAttachment{Name: att.Filename, MimeType: att.ContentType})
	}

	a.handler(Inbound{
		ThreadID:    composite,
		MessageID:   m.ID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		Text:        m.Content,
		Attachments: atts,
		IsDM:        m.GuildID == "",
	})
}

// Info returns this adapter's registration for the aggregate chat.Handle:
// the channel key spans guild+channel (not just channel), so a wider
// boundary than the default second colon is needed to find where the
// channel key ends and the thread key begins.
func (a *Adapter) Info() chat.AdapterInfo {
	return chat.AdapterInfo{
		Name:                  adapterName,
		ChannelIDFromThreadID: channelBoundary,
		FetchChannelInfo:      a.fetchChannelInfo,
	}
}

// channelBoundary finds the second colon in rest ("<guild>:<channel>:<thread>"),
// since this adapter's channel key is itself two segments wide.
func channelBoundary(rest string) int {
	first := strings.IndexByte(rest, ':')
	if first < 0 {
		return -1
	}
	second := strings.IndexByte(rest[first+1:], ':')
	if second < 0 {
		return -1
	}
	return first + 1 + second
}

func (a *Adapter) fetchChannelInfo(_ context.Context, channelKey string) (chat.ChannelInfo, error) {
	_, channelID, ok := strings.Cut(channelKey, ":")
	if !ok {
		return chat.ChannelInfo{}, fmt.Errorf("discordref: malformed channel key %q", channelKey)
	}
	ch, err := a.session.Channel(channelID)
	if err != nil {
		return chat.ChannelInfo{}, fmt.Errorf("discordref: fetch channel: %w", err)
	}
	return chat.ChannelInfo{
		ID:   channelKey,
		Name: ch.Name,
		IsDM: ch.Type == discordgo.ChannelTypeDM,
	}, nil
}

// Channel returns a posting surface for channelKey ("<guild>:<channelID>").
func (a *Adapter) Channel(channelKey string) chat.Channel {
	_, channelID, ok := strings.Cut(channelKey, ":")
	if !ok {
		channelID = channelKey
	}
	return &discordChannel{session: a.session, guildChannelKey: channelKey, channelID: channelID}
}

// ResolveThread returns the live Thread for an existing composite thread
// ID, whose thread key (after the wide channel boundary) is the Discord
// channel/thread ID messages are actually posted into.
func (a *Adapter) ResolveThread(_ context.Context, compositeID string) (chat.Thread, error) {
	meta, ok := threadid.Parse(adapterName, compositeID, channelBoundary)
	if !ok {
		return nil, fmt.Errorf("discordref: cannot parse thread id %q", compositeID)
	}
	return &discordThread{session: a.session, channelID: meta.ThreadKey}, nil
}

// discordChannel posts directly to one Discord channel, returning a
// composite thread ID anchored on that same channel (this adapter models
// "thread" as "the channel itself", since it targets plain text channels
// rather than Discord's forum-thread feature).
type discordChannel struct {
	session         *discordgo.Session
	guildChannelKey string
	channelID       string
}

func (c *discordChannel) Post(_ context.Context, text string) (string, error) {
	if _, err := c.session.ChannelMessageSend(c.channelID, truncate(text, discordMessageLimit)); err != nil {
		return "", wrapDiscordErr(err)
	}
	return fmt.Sprintf("%s:%s:%s", adapterName, c.guildChannelKey, c.channelID), nil
}

// discordThread is one Discord channel viewed as a Thread: Post/PostRich
// send new messages; each returns a SentMessage that can be edited or
// deleted later by the Thread Actor's RunMessage.
type discordThread struct {
	session   *discordgo.Session
	channelID string
}

func (t *discordThread) ID() string { return t.channelID }

func (t *discordThread) Post(_ context.Context, text string) (chat.SentMessage, error) {
	msg, err := t.session.ChannelMessageSend(t.channelID, truncate(text, discordMessageLimit))
	if err != nil {
		return nil, wrapDiscordErr(err)
	}
	return &discordSentMessage{session: t.session, channelID: t.channelID, id: msg.ID, text: text}, nil
}

func (t *discordThread) PostRich(ctx context.Context, in chat.PostInput) (chat.SentMessage, error) {
	if len(in.Files) == 0 {
		return t.Post(ctx, in.Raw)
	}
	send := &discordgo.MessageSend{Content: truncate(in.Raw, discordMessageLimit)}
	for _, f := range in.Files {
		send.Files = append(send.Files, &discordgo.File{Name: f.Name, ContentType: f.MimeType, Reader: bytes.NewReader(f.Data)})
	}
	msg, err := t.session.ChannelMessageSendComplex(t.channelID, send)
	if err != nil {
		return nil, wrapDiscordErr(err)
	}
	return &discordSentMessage{session: t.session, channelID: t.channelID, id: msg.ID, text: in.Raw}, nil
}

// discordSentMessage is a single posted Discord message, editable/deletable
// by ID.
type discordSentMessage struct {
	session   *discordgo.Session
	channelID string
	id        string
	text      string
}

func (m *discordSentMessage) ID() string   { return m.id }
func (m *discordSentMessage) Text() string { return m.text }

func (m *discordSentMessage) Edit(_ context.Context, text string) error {
	m.text = text
	_, err := m.session.ChannelMessageEdit(m.channelID, m.id, truncate(text, discordMessageLimit))
	return wrapDiscordErr(err)
}

func (m *discordSentMessage) Delete(_ context.Context) error {
	return wrapDiscordErr(m.session.ChannelMessageDelete(m.channelID, m.id))
}

// wrapDiscordErr surfaces a discordgo 429 response as chat.RateLimitError
// so the Thread Actor's transport-retry policy recognizes it without
// string-matching the error text.
func wrapDiscordErr(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == 429 {
		return &chat.RateLimitError{Err: err}
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
