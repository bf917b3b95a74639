// Package eventbus watches a directory of *.json event files and dispatches
// them to threads or channels on an immediate, one-shot, or periodic
// schedule. See spec.md §4.4.
//
// Grounded on the teacher's config.Load (internal/config/config_load.go)
// for json5-with-fallback parsing, generalized from a single config file
// read once to a directory watched continuously with fsnotify and retried
// with backoff per file.
package eventbus

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// Dispatch delivers one scheduled or immediate event's formatted text to
// its target. Implemented by the Orchestrator.
type Dispatch func(ctx context.Context, target message.EventTarget, text string)

const debounceWindow = 100 * time.Millisecond

// Bus watches dir for *.json event files and schedules their dispatch.
type Bus struct {
	dir      string
	dispatch Dispatch
	clock    func() time.Time

	startTime time.Time
	watcher   *fsnotify.Watcher

	mu          sync.Mutex
	knownFiles  map[string]struct{}
	timers      map[string]*time.Timer
	crons       map[string]*cronHandle
	debouncers  map[string]*time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	watchDoneWg sync.WaitGroup
}

// New creates a Bus rooted at dir. It does not start watching until Start
// is called.
func New(dir string, dispatch Dispatch) *Bus {
	return &Bus{
		dir:        dir,
		dispatch:   dispatch,
		clock:      time.Now,
		knownFiles: map[string]struct{}{},
		timers:     map[string]*time.Timer{},
		crons:      map[string]*cronHandle{},
		debouncers: map[string]*time.Timer{},
	}
}

// Start ensures dir exists, records the startup instant (used for
// immediate-event staleness checks), scans every existing *.json file, and
// begins watching the directory for changes.
func (b *Bus) Start() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	b.startTime = b.clock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	b.watcher = w
	if err := w.Add(b.dir); err != nil {
		w.Close()
		return err
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		w.Close()
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isEventFile(e.Name()) {
			continue
		}
		b.handleFile(e.Name())
	}

	b.watchDoneWg.Add(1)
	go b.watchLoop()

	return nil
}

func isEventFile(name string) bool {
	return strings.HasSuffix(name, ".json")
}

func (b *Bus) watchLoop() {
	defer b.watchDoneWg.Done()
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !isEventFile(name) {
				continue
			}
			b.debounce(name)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("eventbus: watcher error", "error", err)
		case <-b.ctx.Done():
			return
		}
	}
}

// debounce coalesces rapid successive filesystem events for the same
// filename (editors frequently emit several writes per save) into one
// handleFile call ~100ms after the last observed change.
func (b *Bus) debounce(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.debouncers[name]; ok {
		t.Stop()
	}
	b.debouncers[name] = time.AfterFunc(debounceWindow, func() {
		b.handleFile(name)
	})
}

// handleFile re-stats name and reconciles it against knownFiles: a file
// that vanished is treated as a delete (schedule cancelled); a known file
// that still exists is re-parsed and rescheduled; an unknown file that
// exists is parsed and scheduled for the first time.
func (b *Bus) handleFile(name string) {
	path := filepath.Join(b.dir, name)
	info, err := os.Stat(path)
	missing := os.IsNotExist(err)

	b.mu.Lock()
	_, known := b.knownFiles[name]
	b.mu.Unlock()

	if missing {
		if known {
			b.forget(name)
		}
		return
	}
	if err != nil {
		slog.Warn("eventbus: stat failed", "file", name, "error", err)
		return
	}

	if known {
		b.cancelSchedule(name)
	}

	ev, ok := b.parseWithRetry(path)
	if !ok {
		_ = os.Remove(path)
		b.forget(name)
		return
	}

	b.mu.Lock()
	b.knownFiles[name] = struct{}{}
	b.mu.Unlock()

	b.schedule(name, path, ev, info.ModTime())
}

// forget cancels any schedule for name and removes it from knownFiles.
func (b *Bus) forget(name string) {
	b.cancelSchedule(name)
	b.mu.Lock()
	delete(b.knownFiles, name)
	b.mu.Unlock()
}

func (b *Bus) cancelSchedule(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[name]; ok {
		t.Stop()
		delete(b.timers, name)
	}
	if c, ok := b.crons[name]; ok {
		c.stop()
		delete(b.crons, name)
	}
}

// Stop closes the watcher and clears every pending timer, cron handle, and
// debounce timer.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.watcher != nil {
		b.watcher.Close()
	}
	b.watchDoneWg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.debouncers {
		t.Stop()
	}
	for _, t := range b.timers {
		t.Stop()
	}
	for _, c := range b.crons {
		c.stop()
	}
	b.knownFiles = map[string]struct{}{}
	b.timers = map[string]*time.Timer{}
	b.crons = map[string]*cronHandle{}
	b.debouncers = map[string]*time.Timer{}
}
