package store

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// ensureMeta writes a placeholder meta.json the first time a channel
// directory is touched, then — if an Enricher is configured — kicks off a
// background fetch of the channel's real name/DM flag and rewrites the
// file when it resolves. Enrichment failures are logged and otherwise
// ignored; the placeholder remains authoritative until it succeeds.
func (s *Store) ensureMeta(m threadid.Meta) error {
	path := s.metaPath(m)

	s.mu.Lock()
	_, statErr := os.Stat(path)
	alreadyExists := statErr == nil
	if !alreadyExists {
		placeholder := ChannelMeta{
			ChannelKey: m.ChannelKey,
			CreatedAt:  s.now(),
			UpdatedAt:  s.now(),
		}
		writeErr := writeJSONFile(path, placeholder)
		s.mu.Unlock()
		if writeErr != nil {
			return writeErr
		}
	} else {
		s.mu.Unlock()
	}

	if !alreadyExists && s.enrich != nil {
		go s.enrichMeta(m)
	}
	return nil
}

func (s *Store) enrichMeta(m threadid.Meta) {
	name, isDM, err := s.enrich(m)
	if err != nil {
		slog.Warn("store: channel meta enrichment failed", "adapter", m.Adapter, "channel", m.ChannelKey, "error", err)
		return
	}

	path := s.metaPath(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var current ChannelMeta
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &current)
	}
	current.ChannelKey = m.ChannelKey
	current.Name = name
	current.IsDM = isDM
	current.UpdatedAt = s.now()
	if current.CreatedAt.IsZero() {
		current.CreatedAt = current.UpdatedAt
	}

	if err := writeJSONFile(path, current); err != nil {
		slog.Warn("store: failed to persist enriched channel meta", "adapter", m.Adapter, "channel", m.ChannelKey, "error", err)
	}
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
