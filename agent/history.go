package agent

import (
	"fmt"
	"math"
	"strings"

	"buddy/tokens"
	"buddy/types"
)

const (
	contextCompactKeepRecentTurns = 3
	maxCompactSummaryLines        = 24
	maxSummaryPreviewChars        = 180

	// CompactSummaryPrefix marks a synthesized summary system message so a
	// later compaction pass can find and re-fold it instead of stacking
	// summaries on top of summaries.
	CompactSummaryPrefix = "[buddy compact summary]"
)

// CompactionReport describes the effect of one history-compaction pass.
type CompactionReport struct {
	EstimatedBefore uint64
	EstimatedAfter  uint64
	RemovedMessages int
	RemovedTurns    int
}

// turnRange is a contiguous half-open [start, end) slice of messages
// beginning at a user message (or at the compaction boundary for any
// leading non-user messages).
type turnRange struct {
	start, end int
}

// CompactHistoryWithBudget collapses older conversation turns into a
// synthesized system summary once the conversation's estimated token usage
// exceeds targetFraction of contextLimit (or unconditionally when force is
// set, as for a manual compact command). Always preserves any leading
// system messages and the most recent contextCompactKeepRecentTurns turns.
func CompactHistoryWithBudget(messages []types.Message, contextLimit uint64, targetFraction float64, force bool) ([]types.Message, *CompactionReport) {
	if contextLimit == 0 || len(messages) == 0 {
		return messages, nil
	}

	estimatedBefore := tokens.EstimateMessages(messages)
	targetTokens := uint64(math.Max(math.Floor(float64(contextLimit)*targetFraction), 1))
	if !force && estimatedBefore <= targetTokens {
		return messages, nil
	}

	insertionIndex := leadingSystemCount(messages)
	var previousSummary *string
	if insertionIndex > 0 && isCompactSummaryMessage(messages[insertionIndex-1]) {
		previousSummary = messages[insertionIndex-1].Content
		messages = append(messages[:insertionIndex-1], messages[insertionIndex:]...)
		insertionIndex--
	}

	var removedMessages []types.Message
	removedTurns := 0

	for {
		estimatedNow := tokens.EstimateMessages(messages)
		turns := collectTurnRanges(messages, insertionIndex)
		if len(turns) <= contextCompactKeepRecentTurns {
			break
		}

		shouldRemove := estimatedNow > targetTokens
		if force {
			shouldRemove = shouldRemove || len(turns) > contextCompactKeepRecentTurns+1
		}
		if !shouldRemove {
			break
		}

		turn := turns[0]
		removedMessages = append(removedMessages, messages[turn.start:turn.end]...)
		messages = append(messages[:turn.start], messages[turn.end:]...)
		removedTurns++
	}

	if len(removedMessages) == 0 && previousSummary == nil {
		return messages, nil
	}

	var previousBody string
	if previousSummary != nil {
		previousBody = *previousSummary
	}
	summary := buildCompactSummary(previousBody, removedMessages)
	summaryMsg := types.NewSystemMessage(summary)
	messages = insertMessage(messages, insertionIndex, summaryMsg)

	estimatedAfter := tokens.EstimateMessages(messages)
	if estimatedAfter >= estimatedBefore {
		messages[insertionIndex] = types.NewSystemMessage(CompactSummaryPrefix + "\nOlder turns were compacted.")
		estimatedAfter = tokens.EstimateMessages(messages)
		if estimatedAfter >= estimatedBefore {
			messages = append(messages[:insertionIndex], messages[insertionIndex+1:]...)
			estimatedAfter = tokens.EstimateMessages(messages)
		}
	}

	return messages, &CompactionReport{
		EstimatedBefore: estimatedBefore,
		EstimatedAfter:  estimatedAfter,
		RemovedMessages: len(removedMessages),
		RemovedTurns:    removedTurns,
	}
}

func insertMessage(messages []types.Message, index int, msg types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, messages[:index]...)
	out = append(out, msg)
	out = append(out, messages[index:]...)
	return out
}

func leadingSystemCount(messages []types.Message) int {
	count := 0
	for _, m := range messages {
		if m.Role != types.RoleSystem {
			break
		}
		count++
	}
	return count
}

// collectTurnRanges partitions messages[startIndex:] into contiguous turns,
// each beginning at a user message boundary (or at startIndex for a
// leading run of non-user messages).
func collectTurnRanges(messages []types.Message, startIndex int) []turnRange {
	var turns []turnRange
	currentStart := -1

	for idx := startIndex; idx < len(messages); idx++ {
		if messages[idx].Role == types.RoleUser {
			if currentStart >= 0 {
				turns = append(turns, turnRange{start: currentStart, end: idx})
			}
			currentStart = idx
		} else if currentStart < 0 {
			currentStart = idx
		}
	}

	if currentStart >= 0 {
		turns = append(turns, turnRange{start: currentStart, end: len(messages)})
	}
	return turns
}

func isCompactSummaryMessage(message types.Message) bool {
	return message.Role == types.RoleSystem &&
		message.Content != nil &&
		strings.HasPrefix(*message.Content, CompactSummaryPrefix)
}

func buildCompactSummary(previousSummary string, removedMessages []types.Message) string {
	lines := []string{
		CompactSummaryPrefix,
		"Older turns were compacted to preserve room for newer context.",
	}

	if body, ok := compactSummaryBody(previousSummary); ok && body != "" {
		lines = append(lines, fmt.Sprintf("Previously compacted summary: %s", body))
	}

	added := 0
	for _, message := range removedMessages {
		if added >= maxCompactSummaryLines {
			break
		}
		if line, ok := compactMessageLine(message); ok {
			lines = append(lines, line)
			added++
		}
	}

	if len(removedMessages) > added {
		lines = append(lines, fmt.Sprintf("... %d additional compacted message(s) omitted", len(removedMessages)-added))
	}

	return strings.Join(lines, "\n")
}

func compactSummaryBody(summary string) (string, bool) {
	if summary == "" {
		return "", false
	}
	parts := strings.Split(summary, "\n")
	first := strings.TrimSpace(parts[0])
	if first != CompactSummaryPrefix {
		return "", false
	}
	body := strings.TrimSpace(strings.Join(parts[1:], " "))
	if body == "" {
		return "", false
	}
	return truncateSummaryPreview(body), true
}

func compactMessageLine(message types.Message) (string, bool) {
	switch message.Role {
	case types.RoleSystem:
		return "", false
	case types.RoleUser:
		if message.Content == nil {
			return "", false
		}
		return fmt.Sprintf("user: %s", truncateSummaryPreview(*message.Content)), true
	case types.RoleAssistant:
		var parts []string
		if message.Content != nil {
			if content := strings.TrimSpace(*message.Content); content != "" {
				parts = append(parts, fmt.Sprintf("assistant: %s", truncateSummaryPreview(content)))
			}
		}
		if len(message.ToolCalls) > 0 {
			names := make([]string, 0, len(message.ToolCalls))
			for _, call := range message.ToolCalls {
				names = append(names, call.Function.Name)
			}
			parts = append(parts, fmt.Sprintf("assistant tools: %s", truncateSummaryPreview(strings.Join(names, ", "))))
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, " | "), true
	case types.RoleTool:
		id := "<unknown>"
		if message.ToolCallID != nil {
			id = *message.ToolCallID
		}
		content := ""
		if message.Content != nil {
			content = *message.Content
		}
		return fmt.Sprintf("tool (%s): %s", id, truncateSummaryPreview(content)), true
	default:
		return "", false
	}
}

func truncateSummaryPreview(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= maxSummaryPreviewChars {
		return trimmed
	}
	cut := maxSummaryPreviewChars - 3
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + "..."
}
