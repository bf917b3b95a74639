package compaction

import (
	"strings"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// renderTranscript flattens a message slice into a plain-text transcript
// suitable for feeding to a summarization prompt. It is deliberately lossy
// (tool call arguments are elided) — the summary only needs to capture
// intent, not replay the conversation verbatim.
func renderTranscript(msgs []message.AgentMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch v := m.(type) {
		case message.User:
			b.WriteString("User: ")
			if v.Content.IsText {
				b.WriteString(v.Content.Text)
			} else {
				for _, blk := range v.Content.Blocks {
					if blk.Type == message.BlockText {
						b.WriteString(blk.Text)
					}
				}
			}
			b.WriteString("\n\n")
		case message.Assistant:
			b.WriteString("Assistant: ")
			b.WriteString(v.Text())
			for _, blk := range v.Content {
				if blk.Type == message.BlockToolCall {
					b.WriteString("\n  [called tool ")
					b.WriteString(blk.ToolName)
					b.WriteString("]")
				}
			}
			b.WriteString("\n\n")
		case message.ToolResult:
			b.WriteString("Tool result")
			if v.IsError {
				b.WriteString(" (error)")
			}
			b.WriteString(":\n")
			for _, blk := range v.Content {
				if blk.Type == message.BlockText {
					b.WriteString(blk.Text)
				}
			}
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
