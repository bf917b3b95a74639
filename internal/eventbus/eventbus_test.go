package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// recordingDispatch captures every Dispatch call for assertions.
type recordingDispatch struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingDispatch) dispatch(_ context.Context, target message.EventTarget, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
}

func (r *recordingDispatch) waitForCalls(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.calls)
		r.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func writeEventFile(t *testing.T, dir, name string, ev message.GuppyEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestImmediateEventDispatchedOnceAndFileRemoved(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingDispatch{}
	b := New(dir, rec.dispatch)

	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	writeEventFile(t, dir, "hello", message.GuppyEvent{
		Type:   message.EventImmediate,
		Text:   "hi there",
		Target: message.EventTarget{ThreadID: "slack:C1:T1"},
	})

	calls := rec.waitForCalls(t, 1)
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d: %v", len(calls), calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "hello.json")); !os.IsNotExist(err) {
		t.Fatal("expected immediate event file to be removed after dispatch")
	}
}

func TestStaleImmediateEventFromPreviousRunIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	writeEventFile(t, dir, "stale", message.GuppyEvent{
		Type:   message.EventImmediate,
		Text:   "leftover from a crashed process",
		Target: message.EventTarget{ThreadID: "slack:C1:T1"},
	})
	// Backdate the file so its mtime predates Bus.Start's startTime.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "stale.json"), old, old); err != nil {
		t.Fatal(err)
	}

	rec := &recordingDispatch{}
	b := New(dir, rec.dispatch)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	time.Sleep(150 * time.Millisecond)
	rec.mu.Lock()
	n := len(rec.calls)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected stale leftover event to never dispatch, got %d calls", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.json")); !os.IsNotExist(err) {
		t.Fatal("expected stale event file to be removed")
	}
}

func TestOneShotInThePastFiresImmediately(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingDispatch{}
	b := New(dir, rec.dispatch)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	writeEventFile(t, dir, "due", message.GuppyEvent{
		Type:   message.EventOneShot,
		Text:   "overdue reminder",
		At:     "2000-01-01T00:00:00Z",
		Target: message.EventTarget{ChannelID: "slack:C1"},
	})

	calls := rec.waitForCalls(t, 1)
	if len(calls) != 1 {
		t.Fatalf("expected the overdue one-shot to fire immediately, got %d calls", len(calls))
	}
}

func TestMalformedEventFileIsDeletedWithoutDispatch(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingDispatch{}
	b := New(dir, rec.dispatch)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	// Missing both target fields: fails GuppyEvent.Validate.
	writeEventFile(t, dir, "bad", message.GuppyEvent{
		Type: message.EventImmediate,
		Text: "no target set",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "bad.json")); os.IsNotExist(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.json")); !os.IsNotExist(err) {
		t.Fatal("expected invalid event file to be removed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 0 {
		t.Fatalf("expected no dispatch for an invalid event, got %d", len(rec.calls))
	}
}

func TestStopCancelsPendingOneShotTimer(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingDispatch{}
	b := New(dir, rec.dispatch)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	writeEventFile(t, dir, "future", message.GuppyEvent{
		Type:   message.EventOneShot,
		Text:   "far future",
		At:     time.Now().Add(time.Hour).Format(time.RFC3339),
		Target: message.EventTarget{ThreadID: "slack:C1:T1"},
	})
	// Let the watcher pick the file up and arm its timer before stopping.
	time.Sleep(200 * time.Millisecond)
	b.mu.Lock()
	armed := b.timers["future.json"]
	b.mu.Unlock()
	if armed == nil {
		t.Fatal("expected the one-shot timer to be armed before Stop")
	}

	b.Stop()

	if armed.Stop() {
		t.Fatal("expected Stop to have already cancelled the pending one-shot timer")
	}

	rec.mu.Lock()
	n := len(rec.calls)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected the far-future one-shot to never fire before Stop, got %d calls", n)
	}
}
