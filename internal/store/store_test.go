package store

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

func testMeta() threadid.Meta {
	m, _ := threadid.Parse("slack", "slack:C1:T1", nil)
	return m
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLogMessageAppendOnly(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()

	for i := 0; i < 5; i++ {
		err := s.LogMessage(m, IncomingMessage{MessageID: "m" + string(rune('0'+i)), Text: "hello"})
		if err != nil {
			t.Fatalf("LogMessage #%d: %v", i, err)
		}
	}

	entries, err := s.readAllLogEntries(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 log lines, got %d", len(entries))
	}
	for i, e := range entries {
		if e.MessageID != "m"+string(rune('0'+i)) {
			t.Fatalf("entry %d reordered or rewritten: %+v", i, e)
		}
	}
}

func TestLogBotResponseSyntheticID(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()
	if err := s.LogBotResponse(m, "hi there"); err != nil {
		t.Fatal(err)
	}
	entries, err := s.readAllLogEntries(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].IsBot {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].MessageID[:4] != "bot-" {
		t.Fatalf("expected synthetic bot- id, got %q", entries[0].MessageID)
	}
}

func TestContextSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()

	msgs := []message.AgentMessage{
		message.User{Content: message.UserContent{IsText: true, Text: "hi"}},
		message.Assistant{Content: []message.ContentBlock{{Type: message.BlockText, Text: "hello"}}, StopReason: message.StopReasonEndTurn},
	}
	if err := s.SaveContext(m, msgs); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadContext(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
}

func TestLoadContextMissingFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()
	msgs, err := s.LoadContext(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty, got %d messages", len(msgs))
	}
}

func TestContextAtomicitySurvivesGarbageTmp(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()

	good := []message.AgentMessage{
		message.User{Content: message.UserContent{IsText: true, Text: "good state"}},
	}
	if err := s.SaveContext(m, good); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write: garbage left in the .tmp staging file.
	if err := os.WriteFile(s.contextTmpPath(m), []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadContext(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected prior good context to survive, got %d messages", len(loaded))
	}
	u, ok := loaded[0].(message.User)
	if !ok || !u.Content.IsText || u.Content.Text != "good state" {
		t.Fatalf("unexpected loaded message: %+v", loaded[0])
	}
}

func TestLoadContextMalformedFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()

	if err := s.ensureDirs(m); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.contextPath(m), []byte("not json at all\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.LoadContext(m)
	if err != nil {
		t.Fatalf("expected no error for malformed context, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty context for malformed file, got %d messages", len(msgs))
	}
}

func TestTrailingErrorRepair(t *testing.T) {
	clean := message.Assistant{StopReason: message.StopReasonEndTurn}
	errAsst := message.Assistant{StopReason: message.StopReasonError}
	usr := message.User{Content: message.UserContent{IsText: true, Text: "hi"}}

	cases := []struct {
		name string
		in   []message.AgentMessage
		want int
	}{
		{"clean tail untouched", []message.AgentMessage{usr, clean}, 2},
		{"single error pair stripped", []message.AgentMessage{usr, usr, errAsst}, 1},
		{"iterated repair", []message.AgentMessage{usr, usr, errAsst, usr, errAsst}, 1},
		{"back-to-back errors, second pop skipped", []message.AgentMessage{errAsst, errAsst}, 1},
		{"empty", nil, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := RepairTrailingErrors(c.in)
			if len(got) != c.want {
				t.Fatalf("got %d messages, want %d (result=%+v)", len(got), c.want, got)
			}
		})
	}
}

func TestImageMimeDetectionIgnoresReportedMime(t *testing.T) {
	dir := t.TempDir()
	pngBytes := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	mime, ok := detectImageMime(path)
	if !ok || mime != "image/png" {
		t.Fatalf("expected image/png detection, got %q ok=%v", mime, ok)
	}

	textPath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(textPath, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := detectImageMime(textPath); ok {
		t.Fatal("expected no image detection for plain text")
	}
}

func TestLoadAttachmentsRoutesImagesAndFiles(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.png":
			w.Write(pngBytes)
		default:
			w.Write([]byte("plain text file"))
		}
	}))
	defer srv.Close()

	s := newTestStore(t)
	m := testMeta()

	err := s.LogMessage(m, IncomingMessage{
		MessageID: "msg-1",
		Text:      "see attached",
		Attachments: []IncomingAttachment{
			{URL: srv.URL + "/image.png", Filename: "pic.png", MimeType: "application/octet-stream"},
			{URL: srv.URL + "/doc.txt", Filename: "doc.txt", MimeType: "text/plain"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.LoadAttachments(m, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(result.Images))
	}
	if result.Images[0].MimeType != "image/png" {
		t.Fatalf("expected detected image/png despite wrong reported mime, got %q", result.Images[0].MimeType)
	}
	if len(result.FilePaths) != 1 {
		t.Fatalf("expected 1 file path, got %d", len(result.FilePaths))
	}
}

func TestLoadAttachmentsFindsMostRecentEntry(t *testing.T) {
	s := newTestStore(t)
	m := testMeta()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return fixed }

	// Two log entries share a messageID across "reposts"; the most recent
	// (last) one's attachments should win.
	if err := s.LogMessage(m, IncomingMessage{MessageID: "dup", Text: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogMessage(m, IncomingMessage{MessageID: "dup", Text: "second"}); err != nil {
		t.Fatal(err)
	}

	entry, found, err := s.findLogEntry(m, "dup")
	if err != nil {
		t.Fatal(err)
	}
	if !found || entry.Text != "second" {
		t.Fatalf("expected most recent entry to win, got %+v", entry)
	}
}
