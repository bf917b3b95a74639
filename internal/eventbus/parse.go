package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

const (
	parseRetries   = 3
	parseBaseDelay = 100 * time.Millisecond
)

// parseWithRetry reads and parses path, retrying up to parseRetries times
// with exponential backoff of 100ms, 200ms, 400ms (editors often write
// non-atomically, so an early read can race a partial write). json5 is
// tried first for its tolerance of trailing commas and comments; a strict
// encoding/json pass is the fallback for files json5 still rejects
// outright.
func (b *Bus) parseWithRetry(path string) (message.GuppyEvent, bool) {
	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(parseBaseDelay * time.Duration(1<<uint(attempt-1)))
		}
		ev, err := parseEventFile(path)
		if err == nil {
			if verr := ev.Validate(); verr != nil {
				slog.Warn("eventbus: event failed validation, deleting", "file", path, "error", verr)
				return message.GuppyEvent{}, false
			}
			return ev, true
		}
		lastErr = err
	}
	slog.Warn("eventbus: event failed to parse after retries, deleting", "file", path, "error", lastErr)
	return message.GuppyEvent{}, false
}

func parseEventFile(path string) (message.GuppyEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.GuppyEvent{}, err
	}

	var ev message.GuppyEvent
	if err := json5.Unmarshal(data, &ev); err == nil {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return message.GuppyEvent{}, fmt.Errorf("eventbus: parse %s: %w", path, err)
	}
	return ev, nil
}
