// Package config loads the process-wide Config from JSON, the way the
// teacher's internal/config/config.go loads config.json: a struct guarded
// by a sync.RWMutex for safe hot-reads, with a Default() pass that fills
// zero-value fields so a minimal on-disk file is enough to run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Config is the process-wide configuration for a guppy core instance.
type Config struct {
	mu sync.RWMutex

	DataDir string `json:"dataDir"`

	Actor      ActorConfig      `json:"actor"`
	Compaction CompactionConfig `json:"compaction"`
	Inspect    InspectConfig    `json:"inspect,omitempty"`
}

// ActorConfig configures every Thread Actor's mailbox and transport
// behavior.
type ActorConfig struct {
	MaxQueueDepth int `json:"maxQueueDepth"`
	// PostRateLimitPerSecond caps how often a single actor may hit the
	// chat transport with a status post/edit/delete. Zero (unset) is
	// replaced by the default of 5 per second.
	PostRateLimitPerSecond float64 `json:"postRateLimitPerSecond"`
}

// CompactionConfig mirrors compaction.Settings on the wire so it can be
// loaded from JSON; cmd/serve.go copies it field by field into the
// compaction.Settings each actor receives.
type CompactionConfig struct {
	Enabled          bool `json:"enabled"`
	ContextWindow    int  `json:"contextWindow"`
	ReserveTokens    int  `json:"reserveTokens"`
	KeepRecentTokens int  `json:"keepRecentTokens"`
}

// InspectConfig configures the optional signed inspect-link feature.
type InspectConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	Secret  string `json:"secret,omitempty"`
}

const (
	defaultMaxQueueDepth          = 20
	defaultReserveTokens          = 16384
	defaultKeepRecentTokens       = 20000
	defaultContextWindow          = 200000
	defaultPostRateLimitPerSecond = 5.0
)

// Default returns a Config with every zero-value field filled to the
// documented defaults (spec.md §4.3, §4.5).
func Default() *Config {
	c := &Config{
		DataDir: "./data",
		Actor: ActorConfig{
			MaxQueueDepth:          defaultMaxQueueDepth,
			PostRateLimitPerSecond: defaultPostRateLimitPerSecond,
		},
		Compaction: CompactionConfig{
			Enabled:          true,
			ContextWindow:    defaultContextWindow,
			ReserveTokens:    defaultReserveTokens,
			KeepRecentTokens: defaultKeepRecentTokens,
		},
	}
	return c
}

// applyDefaults fills any zero-value field left unset by the loaded JSON.
func (c *Config) applyDefaults() {
	if c.Actor.MaxQueueDepth == 0 {
		c.Actor.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.Actor.PostRateLimitPerSecond == 0 {
		c.Actor.PostRateLimitPerSecond = defaultPostRateLimitPerSecond
	}
	if c.Compaction.ReserveTokens == 0 {
		c.Compaction.ReserveTokens = defaultReserveTokens
	}
	if c.Compaction.KeepRecentTokens == 0 {
		c.Compaction.KeepRecentTokens = defaultKeepRecentTokens
	}
	if c.Compaction.ContextWindow == 0 {
		c.Compaction.ContextWindow = defaultContextWindow
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Load reads and parses the JSON config file at path, filling unset fields
// with defaults. A missing file is not an error: Default() is returned
// unchanged, matching the teacher's first-run behavior.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// Snapshot returns a copy of the config safe to read without holding the
// lock further, mirroring the teacher's RLock-then-copy pattern used
// throughout config_load.go's accessor methods.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		DataDir:    c.DataDir,
		Actor:      c.Actor,
		Compaction: c.Compaction,
		Inspect:    c.Inspect,
	}
}

// MarshalJSON excludes the mutex and renders the same shape Load expects.
func (c *Config) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type alias struct {
		DataDir    string           `json:"dataDir"`
		Actor      ActorConfig      `json:"actor"`
		Compaction CompactionConfig `json:"compaction"`
		Inspect    InspectConfig    `json:"inspect,omitempty"`
	}
	return json.Marshal(alias{c.DataDir, c.Actor, c.Compaction, c.Inspect})
}
