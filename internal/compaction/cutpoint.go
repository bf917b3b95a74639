package compaction

import "github.com/nextlevelbuilder/guppy/internal/message"

// FindCutPoint walks msgs from the tail accumulating per-message token
// estimates. Once the accumulator first reaches keepRecentTokens it fixes
// a candidate index, then slides toward the tail to the nearest index
// whose message is a user or assistant — never a toolResult, since cutting
// between a tool call and its result would separate a pair the model
// requires to stay adjacent.
//
// If the resulting cut lands on an assistant, the cut falls inside an
// in-progress turn (isSplitTurn=true); the caller is expected to walk
// backward from cutIndex to find the turn's opening user message.
//
// If accumulation never reaches keepRecentTokens, no cut is made:
// FindCutPoint returns (0, false).
func FindCutPoint(msgs []message.AgentMessage, keepRecentTokens int) (cutIndex int, isSplitTurn bool) {
	n := len(msgs)
	acc := 0
	candidate := -1
	for i := n - 1; i >= 0; i-- {
		acc += EstimateTokens(msgs[i])
		if acc >= keepRecentTokens {
			candidate = i
			break
		}
	}
	if candidate == -1 {
		return 0, false
	}

	cut := candidate
	for cut < n {
		if isUserOrAssistant(msgs[cut]) {
			break
		}
		cut++
	}
	if cut >= n || cut == 0 {
		return 0, false
	}

	_, split := msgs[cut].(message.Assistant)
	return cut, split
}

func isUserOrAssistant(m message.AgentMessage) bool {
	switch m.(type) {
	case message.User, message.Assistant:
		return true
	default:
		return false
	}
}

// findTurnStart walks backward from cutIndex (exclusive) to the most
// recent user message, marking where a split turn began. Returns 0 if no
// user message precedes the cut.
func findTurnStart(msgs []message.AgentMessage, cutIndex int) int {
	for i := cutIndex - 1; i >= 0; i-- {
		if _, ok := msgs[i].(message.User); ok {
			return i
		}
	}
	return 0
}
