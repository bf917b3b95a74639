// Package compaction keeps an actor's message list under the model's
// context window by replacing old turns with a structured summary. See
// spec.md §4.3.
//
// Grounded on the teacher's internal/agent.EstimateTokens (loop_tracing.go)
// for the char-count-heuristic shape, generalized from a flat
// providers.Message to the message.AgentMessage tagged union.
package compaction

import (
	"encoding/json"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// imageCharWeight is the per-image-block char-count substitute used when
// estimating toolResult tokens, since actual image token cost depends on
// a vision model's own tiling scheme, not input length.
const imageCharWeight = 4800

// EstimateTokens returns the char-count/4 token estimate for a single
// message, per the per-role formula in spec.md §4.3.
func EstimateTokens(m message.AgentMessage) int {
	return ceilDiv4(charCount(m))
}

func charCount(m message.AgentMessage) int {
	switch v := m.(type) {
	case message.User:
		if v.Content.IsText {
			return len(v.Content.Text)
		}
		n := 0
		for _, b := range v.Content.Blocks {
			if b.Type == message.BlockText {
				n += len(b.Text)
			}
		}
		return n
	case message.Assistant:
		n := 0
		for _, b := range v.Content {
			switch b.Type {
			case message.BlockText, message.BlockThinking:
				n += len(b.Text)
			case message.BlockToolCall:
				n += len(b.ToolName) + len(argsJSON(b.Arguments))
			}
		}
		return n
	case message.ToolResult:
		n := 0
		for _, b := range v.Content {
			switch b.Type {
			case message.BlockText:
				n += len(b.Text)
			case message.BlockImage:
				n += imageCharWeight
			}
		}
		return n
	default:
		return 0
	}
}

func argsJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func ceilDiv4(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// EstimateContextTokens scans messages newest-to-oldest looking for the
// most recent assistant turn with a usable usage report (usage present and
// the turn did not end in error or abort); its reported total, plus the
// per-message estimate of everything after it, is the context estimate.
// If no such assistant exists, the estimate is the sum over every message.
func EstimateContextTokens(msgs []message.AgentMessage) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		a, ok := msgs[i].(message.Assistant)
		if !ok || a.Usage == nil {
			continue
		}
		if a.StopReason == message.StopReasonError || a.StopReason == message.StopReasonAborted {
			continue
		}
		base := a.Usage.TotalTokens
		if base == 0 {
			base = a.Usage.Input + a.Usage.Output + a.Usage.CacheRead + a.Usage.CacheWrite
		}
		sum := base
		for j := i + 1; j < len(msgs); j++ {
			sum += EstimateTokens(msgs[j])
		}
		return sum
	}

	sum := 0
	for _, m := range msgs {
		sum += EstimateTokens(m)
	}
	return sum
}

// Settings configures when and how aggressively compaction runs.
type Settings struct {
	Enabled          bool
	ContextWindow    int
	ReserveTokens    int // default 16384
	KeepRecentTokens int // default 20000
}

const (
	defaultReserveTokens    = 16384
	defaultKeepRecentTokens = 20000
)

func (s Settings) reserve() int {
	if s.ReserveTokens > 0 {
		return s.ReserveTokens
	}
	return defaultReserveTokens
}

func (s Settings) keepRecent() int {
	if s.KeepRecentTokens > 0 {
		return s.KeepRecentTokens
	}
	return defaultKeepRecentTokens
}

// ShouldCompact reports whether the estimated token count exceeds the
// budget left after reserving headroom in the model's context window.
func ShouldCompact(tokens int, settings Settings) bool {
	if !settings.Enabled {
		return false
	}
	return tokens > settings.ContextWindow-settings.reserve()
}
