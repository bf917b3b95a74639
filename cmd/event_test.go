package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

func TestEventPutWritesValidatedEventFile(t *testing.T) {
	dir := t.TempDir()
	oldDataDir := dataDir
	dataDir = dir
	defer func() { dataDir = oldDataDir }()

	c := eventPutCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--target", "slack:C1:T1", "reminder", "stand up"})
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "events", "reminder.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected event file to exist: %v", err)
	}

	var ev message.GuppyEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Target.ThreadID != "slack:C1:T1" {
		t.Fatalf("expected ThreadID target, got %+v", ev.Target)
	}
	if ev.Text != "stand up" {
		t.Fatalf("expected text %q, got %q", "stand up", ev.Text)
	}
}

func TestEventPutChannelTargetUsesHashPrefix(t *testing.T) {
	dir := t.TempDir()
	oldDataDir := dataDir
	dataDir = dir
	defer func() { dataDir = oldDataDir }()

	c := eventPutCmd()
	c.SetOut(&bytes.Buffer{})
	c.SetArgs([]string{"--target", "#slack:C1", "announce", "hello everyone"})
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "events", "announce.json"))
	if err != nil {
		t.Fatal(err)
	}
	var ev message.GuppyEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Target.ChannelID != "slack:C1" {
		t.Fatalf("expected ChannelID target %q, got %+v", "slack:C1", ev.Target)
	}
	if ev.Target.ThreadID != "" {
		t.Fatalf("expected no ThreadID set for a channel target, got %q", ev.Target.ThreadID)
	}
}

func TestEventPutRejectsInvalidEvent(t *testing.T) {
	dir := t.TempDir()
	oldDataDir := dataDir
	dataDir = dir
	defer func() { dataDir = oldDataDir }()

	c := eventPutCmd()
	c.SetOut(&bytes.Buffer{})
	// periodic events require --schedule; omitting it should fail Validate.
	c.SetArgs([]string{"--target", "slack:C1:T1", "--type", string(message.EventPeriodic), "bad", "text"})
	if err := c.Execute(); err == nil {
		t.Fatal("expected an error for a periodic event missing --schedule")
	}
	if _, err := os.Stat(filepath.Join(dir, "events", "bad.json")); !os.IsNotExist(err) {
		t.Fatal("expected no event file to be written when validation fails")
	}
}
