package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// Summarizer performs a single non-streaming completion call used only for
// generating compaction summaries. It is consumed, not implemented, here:
// the actor wires it to the same agent runtime that drives normal prompts.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, maxTokens int) (text string, err error)
}

// Run compacts msgs if a cut point can be found, replacing everything
// before the cut with a single synthetic summary user message. It always
// attempts the cut (callers decide whether to invoke it via ShouldCompact
// or to force it after a context-overflow error); if no cut point exists,
// or any step fails, it returns the original list unchanged, logging a
// warning in the failure case — compaction failure is never fatal to a
// run.
func Run(ctx context.Context, msgs []message.AgentMessage, settings Settings, summarizer Summarizer) ([]message.AgentMessage, bool) {
	cut, isSplit := FindCutPoint(msgs, settings.keepRecent())
	if cut == 0 {
		return msgs, false
	}

	out, err := compactAt(ctx, msgs, cut, isSplit, settings, summarizer)
	if err != nil {
		slog.Warn("compaction: failed, keeping original messages", "error", err)
		return msgs, false
	}
	return out, true
}

func compactAt(ctx context.Context, msgs []message.AgentMessage, cut int, isSplit bool, settings Settings, summarizer Summarizer) ([]message.AgentMessage, error) {
	discarded := msgs[:cut]
	kept := msgs[cut:]

	startIdx := 0
	var previousSummary string
	var hasPrevious bool
	if len(discarded) > 0 {
		if u, ok := discarded[0].(message.User); ok && u.Content.IsText {
			if body, ok := unwrapSummary(u.Content.Text); ok {
				previousSummary = body
				hasPrevious = true
				startIdx = 1
			}
		}
	}

	sets := newFileSets()
	if hasPrevious {
		sets.seedFromSummary(previousSummary)
	}

	turnStart := cut
	if isSplit {
		turnStart = findTurnStart(msgs, cut)
		if turnStart < startIdx {
			turnStart = startIdx
		}
	}

	history := discarded[startIdx:turnStart]
	var turnPrefix []message.AgentMessage
	if isSplit {
		turnPrefix = msgs[turnStart:cut]
	}

	sets.walk(history)
	sets.walk(turnPrefix)

	reserve := settings.reserve()
	historyMaxTokens := int(float64(reserve) * 0.8)
	turnMaxTokens := int(float64(reserve) * 0.5)

	var historySummary, turnSummary string
	var historyErr, turnErr error

	if isSplit && len(turnPrefix) > 0 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			historySummary, historyErr = summarizeHistory(ctx, history, previousSummary, hasPrevious, historyMaxTokens, summarizer)
		}()
		go func() {
			defer wg.Done()
			turnSummary, turnErr = summarizer.Summarize(ctx, turnPrefixPrompt(renderTranscript(turnPrefix)), turnMaxTokens)
		}()
		wg.Wait()
	} else {
		historySummary, historyErr = summarizeHistory(ctx, history, previousSummary, hasPrevious, historyMaxTokens, summarizer)
	}

	if historyErr != nil {
		return nil, fmt.Errorf("compaction: history summary: %w", historyErr)
	}
	if turnErr != nil {
		return nil, fmt.Errorf("compaction: turn summary: %w", turnErr)
	}

	body := historySummary
	if isSplit && turnSummary != "" {
		body += "\n\n## Turn Context (split turn)\n\n" + turnSummary
	}

	if block := renderFileListBlock("read-files", sets.readOnly()); block != "" {
		body += "\n\n" + block
	}
	if block := renderFileListBlock("modified-files", sets.modifiedList()); block != "" {
		body += "\n\n" + block
	}

	summaryMsg := message.User{
		Content: message.UserContent{IsText: true, Text: wrapSummary(body)},
	}

	out := make([]message.AgentMessage, 0, 1+len(kept))
	out = append(out, summaryMsg)
	out = append(out, kept...)
	return out, nil
}

func summarizeHistory(ctx context.Context, history []message.AgentMessage, previousSummary string, hasPrevious bool, maxTokens int, summarizer Summarizer) (string, error) {
	transcript := renderTranscript(history)
	var prompt string
	if hasPrevious {
		prompt = updateSummaryPrompt(previousSummary, transcript)
	} else {
		prompt = freshSummaryPrompt(transcript)
	}
	return summarizer.Summarize(ctx, prompt, maxTokens)
}
