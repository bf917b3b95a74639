package actor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/guppy/internal/agentrt"
	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/compaction"
	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/store"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// fakeThread records every post/edit/delete against one in-memory message,
// standing in for a real chat.Thread in tests.
type fakeThread struct {
	mu    sync.Mutex
	posts []string
	cur   *fakeSentMessage
}

func (t *fakeThread) ID() string { return "fake-thread" }

func (t *fakeThread) Post(_ context.Context, text string) (chat.SentMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.posts = append(t.posts, text)
	t.cur = &fakeSentMessage{thread: t, text: text}
	return t.cur, nil
}

func (t *fakeThread) PostRich(ctx context.Context, in chat.PostInput) (chat.SentMessage, error) {
	return t.Post(ctx, in.Raw)
}

func (t *fakeThread) lastText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return ""
	}
	return t.cur.text
}

func (t *fakeThread) deleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur != nil && t.cur.isDeleted
}

type fakeSentMessage struct {
	thread    *fakeThread
	text      string
	isDeleted bool
}

func (m *fakeSentMessage) ID() string   { return "1" }
func (m *fakeSentMessage) Text() string { return m.text }
func (m *fakeSentMessage) Edit(_ context.Context, text string) error {
	m.text = text
	return nil
}
func (m *fakeSentMessage) Delete(_ context.Context) error {
	m.isDeleted = true
	return nil
}

// fakeAgent is a minimal agentrt.Agent whose Prompt behavior is scripted
// per test.
type fakeAgent struct {
	mu       sync.Mutex
	msgs     []message.AgentMessage
	handlers []func(agentrt.Event)
	promptFn func(ctx context.Context, text string, images []message.ContentBlock) error
}

func (a *fakeAgent) ReplaceMessages(msgs []message.AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = msgs
}

func (a *fakeAgent) Prompt(ctx context.Context, text string, images []message.ContentBlock) error {
	if a.promptFn != nil {
		return a.promptFn(ctx, text, images)
	}
	a.mu.Lock()
	a.msgs = append(a.msgs, message.Assistant{
		Content:    []message.ContentBlock{{Type: message.BlockText, Text: "ok: " + text}},
		StopReason: message.StopReasonEndTurn,
	})
	a.mu.Unlock()
	return nil
}

func (a *fakeAgent) Steer(context.Context, message.AgentMessage) error { return nil }
func (a *fakeAgent) Abort()                                           {}

func (a *fakeAgent) Subscribe(handler func(agentrt.Event)) agentrt.Unsubscribe {
	a.mu.Lock()
	a.handlers = append(a.handlers, handler)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAgent) Messages() []message.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.msgs
}

func testMeta(t *testing.T) threadid.Meta {
	t.Helper()
	m, ok := threadid.Parse("fake", "fake:chan1:thread1", nil)
	if !ok {
		t.Fatal("failed to parse test thread id")
	}
	return m
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func waitForSnapshot(t *testing.T, a *Actor, want func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := a.Snapshot()
		if want(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for actor snapshot condition")
	return Snapshot{}
}

func TestActorRunsPromptAndPostsReply(t *testing.T) {
	fa := &fakeAgent{}
	a := New(testMeta(t), Deps{
		Store: testStore(t),
		Agent: func(context.Context, string) (agentrt.Agent, error) { return fa, nil },
	})
	defer a.Destroy()

	th := &fakeThread{}
	a.Deliver(Prompt{Text: "hello", Thread: th})

	waitForSnapshot(t, a, func(s Snapshot) bool { return s.PromptsHandled == 1 })
	if got := th.lastText(); got != "ok: hello" {
		t.Fatalf("expected final reply %q, got %q", "ok: hello", got)
	}
}

func TestActorSilentMarkerDiscardsStatusMessage(t *testing.T) {
	fa := &fakeAgent{promptFn: func(ctx context.Context, text string, images []message.ContentBlock) error {
		fa.mu.Lock()
		fa.msgs = append(fa.msgs, message.Assistant{
			Content:    []message.ContentBlock{{Type: message.BlockText, Text: silentMarker}},
			StopReason: message.StopReasonEndTurn,
		})
		fa.mu.Unlock()
		return nil
	}}
	a := New(testMeta(t), Deps{
		Store: testStore(t),
		Agent: func(context.Context, string) (agentrt.Agent, error) { return fa, nil },
	})
	defer a.Destroy()

	th := &fakeThread{}
	a.Deliver(Prompt{Text: "quiet please", Thread: th})

	waitForSnapshot(t, a, func(s Snapshot) bool { return s.PromptsHandled == 1 })
	if !th.deleted() {
		t.Fatal("expected the status message to be deleted for a silent reply")
	}
}

func TestActorAgentErrorRecordsLastError(t *testing.T) {
	wantErr := fmt.Errorf("boom")
	fa := &fakeAgent{promptFn: func(context.Context, string, []message.ContentBlock) error { return wantErr }}
	a := New(testMeta(t), Deps{
		Store: testStore(t),
		Agent: func(context.Context, string) (agentrt.Agent, error) { return fa, nil },
	})
	defer a.Destroy()

	th := &fakeThread{}
	a.Deliver(Prompt{Text: "fail please", Thread: th})

	snap := waitForSnapshot(t, a, func(s Snapshot) bool { return s.LastError != "" })
	if snap.PromptsHandled != 0 {
		t.Fatalf("expected PromptsHandled to stay 0 on error, got %d", snap.PromptsHandled)
	}
}

func TestActorMailboxOverflowPostsQueueFullNotice(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAgent{promptFn: func(context.Context, string, []message.ContentBlock) error {
		<-release
		return nil
	}}
	a := New(testMeta(t), Deps{
		Store:    testStore(t),
		Agent:    func(context.Context, string) (agentrt.Agent, error) { return fa, nil },
		Settings: Settings{MaxQueueDepth: 1},
	})
	defer func() {
		close(release)
		a.Destroy()
	}()

	blockingThread := &fakeThread{}
	a.Deliver(Prompt{Text: "first", Thread: blockingThread})
	time.Sleep(20 * time.Millisecond) // let the first prompt start running and block

	a.Deliver(Prompt{Text: "second", Thread: &fakeThread{}})
	overflowThread := &fakeThread{}
	a.Deliver(Prompt{Text: "third", Thread: overflowThread})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && overflowThread.lastText() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	if overflowThread.lastText() != queueFullNotice {
		t.Fatalf("expected queue-full notice, got %q", overflowThread.lastText())
	}
}

func TestActorQuiesceWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fa := &fakeAgent{promptFn: func(context.Context, string, []message.ContentBlock) error {
		close(started)
		<-release
		return nil
	}}
	a := New(testMeta(t), Deps{
		Store: testStore(t),
		Agent: func(context.Context, string) (agentrt.Agent, error) { return fa, nil },
	})

	a.Deliver(Prompt{Text: "slow", Thread: &fakeThread{}})
	<-started

	quiesceDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.Quiesce(ctx)
		close(quiesceDone)
	}()

	select {
	case <-quiesceDone:
		t.Fatal("Quiesce returned before the in-flight run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-quiesceDone:
	case <-time.After(time.Second):
		t.Fatal("Quiesce did not return after the run finished")
	}
}

func TestRunMessagePostOrEditHonorsRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1) // 1 token up front, then one per 50ms
	th := &fakeThread{}
	rm := newRunMessage(context.Background(), th, nil, limiter)

	start := time.Now()
	rm.Thinking()
	rm.ToolStart("step")
	rm.Flush()
	elapsed := time.Since(start)

	// The first status write posts the message; the second edits it.
	if len(th.posts) != 1 {
		t.Fatalf("expected 1 post followed by an edit, got %d posts", len(th.posts))
	}
	if got, want := th.lastText(), "_Thinking_\n_→ step_ …"; got != want {
		t.Fatalf("expected both status writes to reach the thread (%q), got %q", want, got)
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected the second write to wait for the rate limiter, took %v", elapsed)
	}
}

var _ compaction.Summarizer = (*fakeSummarizer)(nil)

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(context.Context, string, int) (string, error) { return "", nil }
