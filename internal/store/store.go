// Package store implements the Thread Store: an append-only per-channel
// message log, an atomically-persisted per-thread agent context, and
// attachment download/retrieval. See spec.md §4.2.
//
// Grounded on the teacher's internal/sessions.Manager (in-memory session
// map with mutex-guarded mutation) and internal/store/file.FileSessionStore
// (thin adapter in front of it), generalized from a single in-memory map to
// a filesystem-backed, per-thread append log plus atomic snapshot.
package store

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// ChannelMeta is the enrichable part of a channel's meta.json: name and
// DM-ness, typically unknown until the adapter is asked for it.
type ChannelMeta struct {
	ChannelKey string    `json:"channelKey"`
	Name       string    `json:"name,omitempty"`
	IsDM       bool      `json:"isDM"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Enricher asynchronously resolves a channel's display name and DM flag
// from the owning chat adapter. It is optional; when nil, meta.json keeps
// its placeholder values.
type Enricher func(meta threadid.Meta) (name string, isDM bool, err error)

// ThreadMeta is an in-memory, non-authoritative view of a thread's recent
// activity: always rederivable by replaying log.jsonl, so it is never
// persisted and resets on restart. Mirrors the teacher's
// Session.CompactionCount/LastPromptTokens bookkeeping, generalized to the
// per-thread log-append path instead of a per-session prompt loop.
type ThreadMeta struct {
	LastActivity time.Time
	MessageCount int
}

// Store is the Thread Store: one instance per process, rooted at dataDir.
type Store struct {
	dataDir string
	http    *http.Client
	enrich  Enricher
	clock   func() time.Time

	mu        sync.Mutex // serializes meta.json creation per channel dir
	threadMus sync.Map   // channelDir+threadDir string -> *sync.Mutex, serializes context.jsonl writes

	threadMetaMu sync.Mutex
	threadMeta   map[string]*ThreadMeta // ThreadDir -> counters
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithEnricher installs the async channel-metadata enrichment hook.
func WithEnricher(e Enricher) Option {
	return func(s *Store) { s.enrich = e }
}

// WithHTTPClient overrides the client used for attachment downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.http = c }
}

// WithClock overrides the time source (for deterministic tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates a Thread Store rooted at dataDir. dataDir is created if
// missing.
func New(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dataDir:    dataDir,
		http:       http.DefaultClient,
		clock:      time.Now,
		threadMeta: map[string]*ThreadMeta{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ThreadDir returns dataDir/adapter/enc(channelKey)/enc(threadKey).
func (s *Store) ThreadDir(m threadid.Meta) string { return threadid.ThreadDir(s.dataDir, m) }

// ChannelDir returns dataDir/adapter/enc(channelKey).
func (s *Store) ChannelDir(m threadid.Meta) string { return threadid.ChannelDir(s.dataDir, m) }

// TransportDir returns dataDir/adapter.
func (s *Store) TransportDir(adapter string) string { return threadid.TransportDir(s.dataDir, adapter) }

func (s *Store) logPath(m threadid.Meta) string {
	return filepath.Join(s.ChannelDir(m), "log.jsonl")
}

func (s *Store) metaPath(m threadid.Meta) string {
	return filepath.Join(s.ChannelDir(m), "meta.json")
}

func (s *Store) contextPath(m threadid.Meta) string {
	return filepath.Join(s.ThreadDir(m), "context.jsonl")
}

func (s *Store) contextTmpPath(m threadid.Meta) string {
	return filepath.Join(s.ThreadDir(m), "context.jsonl.tmp")
}

func (s *Store) attachmentsDir(m threadid.Meta) string {
	return filepath.Join(s.ThreadDir(m), "attachments")
}

// ensureDirs creates the channel and thread directories for m.
func (s *Store) ensureDirs(m threadid.Meta) error {
	if err := os.MkdirAll(s.ThreadDir(m), 0o755); err != nil {
		return err
	}
	return nil
}

func (s *Store) now() time.Time { return s.clock() }

// threadLock returns a mutex scoped to one thread's context.jsonl, so two
// concurrent saves for the same thread never interleave their
// write-then-rename. Actors already serialize this in practice (one
// drain loop per thread) but the lock makes the guarantee structural.
func (s *Store) threadLock(m threadid.Meta) *sync.Mutex {
	key := s.ThreadDir(m)
	v, _ := s.threadMus.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// touchThreadMeta bumps a thread's in-memory activity counters. Called once
// per successful log append.
func (s *Store) touchThreadMeta(m threadid.Meta) {
	key := s.ThreadDir(m)
	s.threadMetaMu.Lock()
	defer s.threadMetaMu.Unlock()
	tm, ok := s.threadMeta[key]
	if !ok {
		tm = &ThreadMeta{}
		s.threadMeta[key] = tm
	}
	tm.LastActivity = s.now()
	tm.MessageCount++
}

// GetThreadMeta returns the current activity counters for a thread. The
// zero value means no message has been logged for it yet in this process.
func (s *Store) GetThreadMeta(m threadid.Meta) ThreadMeta {
	key := s.ThreadDir(m)
	s.threadMetaMu.Lock()
	defer s.threadMetaMu.Unlock()
	if tm, ok := s.threadMeta[key]; ok {
		return *tm
	}
	return ThreadMeta{}
}
