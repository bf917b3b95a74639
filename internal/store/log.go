package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// IncomingAttachment is one file reported alongside an inbound message.
// URL is empty when the adapter already delivered local bytes some other
// way (e.g. bot-authored entries never carry attachments).
type IncomingAttachment struct {
	URL      string
	Filename string
	MimeType string
}

// IncomingMessage is the payload passed to LogMessage/LogChannelMessage.
type IncomingMessage struct {
	MessageID   string
	UserID      string
	UserName    string
	UserHandle  string
	Text        string
	Attachments []IncomingAttachment
}

// logFileMus serializes appends to one channel's log.jsonl across
// goroutines in this process (the adapter layer may deliver messages for
// the same channel from more than one goroutine).
var logFileMus sync.Map // channelDir string -> *sync.Mutex

func logFileLock(channelDir string) *sync.Mutex {
	v, _ := logFileMus.LoadOrStore(channelDir, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// appendLogEntry appends one JSON line to the channel's log.jsonl. Never
// rewrites existing lines.
func (s *Store) appendLogEntry(m threadid.Meta, entry message.LogEntry) error {
	lock := logFileLock(s.ChannelDir(m))
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.logPath(m), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open log.jsonl: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal log entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("store: write log.jsonl: %w", err)
	}
	s.touchThreadMeta(m)
	return nil
}

// LogMessage ensures the channel and thread directories exist, writes (once
// per channel) a placeholder meta.json, appends a LogEntry, then downloads
// every URL-bearing attachment into thread/attachments before returning.
// Download failures are logged, not returned: the append always succeeds
// if the directories and log file are writable.
func (s *Store) LogMessage(m threadid.Meta, in IncomingMessage) error {
	if err := s.ensureDirs(m); err != nil {
		return fmt.Errorf("store: ensure dirs: %w", err)
	}
	if err := s.ensureMeta(m); err != nil {
		return fmt.Errorf("store: ensure meta: %w", err)
	}

	entry, fileNames := s.logEntryAndAttachments(m, in)
	if err := s.appendLogEntry(m, entry); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i, a := range in.Attachments {
		if a.URL == "" {
			continue
		}
		wg.Add(1)
		go func(a IncomingAttachment, fileName string) {
			defer wg.Done()
			if err := s.downloadNamedAttachment(m, a.URL, fileName); err != nil {
				slog.Warn("store: attachment download failed", "adapter", m.Adapter, "thread", m.ThreadID, "url", a.URL, "error", err)
			}
		}(a, fileNames[i])
	}
	wg.Wait()

	return nil
}

// LogChannelMessage appends a LogEntry without downloading attachments.
// Used for passive channel-wide observation (messages not addressed to an
// active thread).
func (s *Store) LogChannelMessage(m threadid.Meta, in IncomingMessage) error {
	if err := s.ensureDirs(m); err != nil {
		return fmt.Errorf("store: ensure dirs: %w", err)
	}
	if err := s.ensureMeta(m); err != nil {
		return fmt.Errorf("store: ensure meta: %w", err)
	}
	entry, _ := s.logEntryAndAttachments(m, in)
	return s.appendLogEntry(m, entry)
}

// LogBotResponse appends a bot-authored LogEntry with a synthetic
// messageId of the form "bot-<uuid>", unique even when two responses land
// in the same process tick.
func (s *Store) LogBotResponse(m threadid.Meta, text string) error {
	if err := s.ensureDirs(m); err != nil {
		return fmt.Errorf("store: ensure dirs: %w", err)
	}
	entry := message.LogEntry{
		Date:      s.now(),
		MessageID: "bot-" + uuid.New().String(),
		ThreadID:  m.ThreadID,
		Text:      text,
		IsBot:     true,
	}
	return s.appendLogEntry(m, entry)
}

// logEntryAndAttachments builds the LogEntry to append and, in lockstep,
// the timestamped attachment file names it references — so the name a
// download later writes to is exactly the name already recorded in
// log.jsonl's Attachment.Local field.
func (s *Store) logEntryAndAttachments(m threadid.Meta, in IncomingMessage) (message.LogEntry, []string) {
	atts := make([]message.Attachment, 0, len(in.Attachments))
	fileNames := make([]string, len(in.Attachments))
	for i, a := range in.Attachments {
		name := attachmentFileName(s.now().UnixMilli(), a.Filename)
		fileNames[i] = name
		atts = append(atts, message.Attachment{
			Original: a.URL,
			Local:    relativeToChannelDir(m, name),
			MimeType: a.MimeType,
		})
	}
	entry := message.LogEntry{
		Date:        s.now(),
		MessageID:   in.MessageID,
		ThreadID:    m.ThreadID,
		UserID:      in.UserID,
		UserName:    in.UserName,
		UserHandle:  in.UserHandle,
		Text:        in.Text,
		IsBot:       false,
		Attachments: atts,
	}
	return entry, fileNames
}
