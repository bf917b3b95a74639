package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Actor.MaxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("expected default MaxQueueDepth, got %d", c.Actor.MaxQueueDepth)
	}
	if c.DataDir != "./data" {
		t.Fatalf("expected default DataDir, got %q", c.DataDir)
	}
	if c.Actor.PostRateLimitPerSecond != defaultPostRateLimitPerSecond {
		t.Fatalf("expected default PostRateLimitPerSecond, got %v", c.Actor.PostRateLimitPerSecond)
	}
}

func TestLoadFillsUnsetFieldsWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"actor":{"maxQueueDepth":5}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Actor.MaxQueueDepth != 5 {
		t.Fatalf("expected the explicit maxQueueDepth to survive, got %d", c.Actor.MaxQueueDepth)
	}
	if c.Compaction.ContextWindow != defaultContextWindow {
		t.Fatalf("expected default ContextWindow to be filled in, got %d", c.Compaction.ContextWindow)
	}
	// Enabled has no applyDefaults rule (false is a valid explicit value),
	// so an omitted field stays false rather than being coerced to true.
	if c.Compaction.Enabled {
		t.Fatal("expected Enabled to stay false when omitted from JSON")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed config JSON")
	}
}

func TestSnapshotIsIndependentOfSourceMutex(t *testing.T) {
	c := Default()
	snap := c.Snapshot()
	if snap.DataDir != c.DataDir {
		t.Fatalf("expected snapshot to copy DataDir, got %q want %q", snap.DataDir, c.DataDir)
	}
	// Mutating the snapshot's copy must not touch c.
	snap.DataDir = "/elsewhere"
	if c.DataDir == "/elsewhere" {
		t.Fatal("expected Snapshot to return an independent copy")
	}
}

func TestMarshalJSONRoundTrips(t *testing.T) {
	c := Default()
	c.Inspect = InspectConfig{BaseURL: "https://example.test", Secret: "s3cr3t"}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	inspect, ok := decoded["inspect"].(map[string]any)
	if !ok {
		t.Fatalf("expected an inspect object in marshaled output, got %v", decoded["inspect"])
	}
	if inspect["baseUrl"] != "https://example.test" {
		t.Fatalf("expected baseUrl to round-trip, got %v", inspect["baseUrl"])
	}
}
