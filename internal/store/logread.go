package store

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// readAllLogEntries reads every complete line of log.jsonl in order. A
// missing file yields no entries. A dangling partial final line (another
// writer mid-append) is skipped rather than treated as an error, per the
// shared-resource policy in spec.md §5.
func (s *Store) readAllLogEntries(m threadid.Meta) ([]message.LogEntry, error) {
	f, err := os.Open(s.logPath(m))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []message.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry message.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Partial or corrupt line (e.g. a concurrent writer mid-append).
			// Tolerate and move on rather than failing the whole read.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
