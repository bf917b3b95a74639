package store

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// LoadContext reads context.jsonl, parses it line by line, and applies the
// trailing-error-pair repair described in spec.md §3: any trailing run of
// (user, assistant-with-stopReason=error) pairs is stripped. A missing file
// yields an empty (nil) slice, not an error. Per spec.md §7 ("a malformed
// context file returns []"), a parse failure is logged and treated as an
// empty context rather than propagated — this is never fatal to the caller.
func (s *Store) LoadContext(m threadid.Meta) ([]message.AgentMessage, error) {
	path := s.contextPath(m)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open context.jsonl: %w", err)
	}
	defer f.Close()

	var msgs []message.AgentMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := message.Unmarshal(line)
		if err != nil {
			slog.Warn("store: malformed context.jsonl, treating as empty", "adapter", m.Adapter, "thread", m.ThreadID, "error", err)
			return nil, nil
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("store: malformed context.jsonl, treating as empty", "adapter", m.Adapter, "thread", m.ThreadID, "error", err)
		return nil, nil
	}

	return RepairTrailingErrors(msgs), nil
}

// RepairTrailingErrors strips trailing (user, assistant-error) pairs from
// the tail of msgs, iterated until the tail is clean. Each trailing error
// assistant is removed together with the user message directly before it;
// when the message before it is not a user (back-to-back assistant
// errors), only the error assistant is removed. An error assistant that is
// the sole remaining message is kept.
func RepairTrailingErrors(msgs []message.AgentMessage) []message.AgentMessage {
	for {
		n := len(msgs)
		if n == 0 {
			return msgs
		}
		last, ok := msgs[n-1].(message.Assistant)
		if !ok || last.StopReason != message.StopReasonError {
			return msgs
		}
		if n < 2 {
			return msgs
		}
		if _, isUser := msgs[n-2].(message.User); !isUser {
			// No preceding user to pop alongside this error assistant.
			msgs = msgs[:n-1]
			continue
		}
		msgs = msgs[:n-2]
	}
}

// SaveContext serializes messages one JSON object per line to
// context.jsonl.tmp, then atomically renames it over context.jsonl. A
// crash between the write and the rename leaves the previous context
// intact; a crash during the rename leaves either the old or the new file,
// never a partial mix of both.
func (s *Store) SaveContext(m threadid.Meta, msgs []message.AgentMessage) error {
	lock := s.threadLock(m)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureDirs(m); err != nil {
		return fmt.Errorf("store: ensure dirs: %w", err)
	}

	tmpPath := s.contextTmpPath(m)
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create context.jsonl.tmp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, m := range msgs {
		line, err := message.Marshal(m)
		if err != nil {
			f.Close()
			return fmt.Errorf("store: marshal context message: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("store: write context.jsonl.tmp: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return fmt.Errorf("store: write context.jsonl.tmp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("store: flush context.jsonl.tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: sync context.jsonl.tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close context.jsonl.tmp: %w", err)
	}

	if err := os.Rename(tmpPath, s.contextPath(m)); err != nil {
		return fmt.Errorf("store: rename context.jsonl.tmp: %w", err)
	}
	return nil
}
