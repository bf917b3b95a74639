package compaction

import "strings"

const summaryStructure = `Goal
Constraints
Progress
  Done
  InProgress
  Blocked
Key Decisions
Next Steps
Critical Context`

// freshSummaryPrompt asks for a summary of history with no prior summary
// to build on.
func freshSummaryPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation history for an AI agent that will ")
	b.WriteString("continue the task with no other memory of it. Use exactly this Markdown ")
	b.WriteString("structure, filling in every section (omit a bullet only if truly empty):\n\n")
	b.WriteString(summaryStructure)
	b.WriteString("\n\nConversation history:\n\n")
	b.WriteString(transcript)
	return b.String()
}

// updateSummaryPrompt asks for a merged summary given an existing one.
func updateSummaryPrompt(previousSummary, transcript string) string {
	var b strings.Builder
	b.WriteString("Update the running summary of an AI agent's task given new conversation ")
	b.WriteString("that happened since the last summary. Merge the new information into the ")
	b.WriteString("existing structure; do not just append. Use exactly this Markdown structure:\n\n")
	b.WriteString(summaryStructure)
	b.WriteString("\n\n<previous-summary>\n")
	b.WriteString(previousSummary)
	b.WriteString("\n</previous-summary>\n\nNew conversation since then:\n\n")
	b.WriteString(transcript)
	return b.String()
}

// turnPrefixPrompt asks for a short summary of an in-progress turn that is
// being cut mid-way, to be concatenated after the main history summary.
func turnPrefixPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("The following is the beginning of an in-progress agent turn that must be ")
	b.WriteString("cut short to fit the context window. Summarize what has happened in this ")
	b.WriteString("turn so far in a few sentences, preserving any file paths, commands, or ")
	b.WriteString("decisions made:\n\n")
	b.WriteString(transcript)
	return b.String()
}

const summaryOpenTag = "<compaction-summary>"
const summaryCloseTag = "</compaction-summary>"

// wrapSummary wraps body in the synthetic-user-message marker tag that
// identifies a compaction summary on a later pass.
func wrapSummary(body string) string {
	return summaryOpenTag + "\n" + body + "\n" + summaryCloseTag
}

// unwrapSummary strips the marker tag, returning the inner body and
// whether text was in fact a wrapped summary.
func unwrapSummary(text string) (string, bool) {
	start := strings.Index(text, summaryOpenTag)
	if start < 0 {
		return "", false
	}
	inner := text[start+len(summaryOpenTag):]
	end := strings.LastIndex(inner, summaryCloseTag)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(inner[:end]), true
}
