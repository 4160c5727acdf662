package agent

import (
	"context"
	"encoding/json"
	"strings"

	"buddy/textutil"
	"buddy/types"
)

const maxTmuxScreenshotChars = 2500

// ToolExecutor dispatches a named tool invocation with JSON-encoded
// arguments and returns its raw JSON (or plain-text) result.
type ToolExecutor interface {
	HasTool(name string) bool
	Execute(ctx context.Context, name string, argumentsJSON string) (string, error)
}

// RefreshDynamicTmuxSnapshotPrompt rewrites the conversation's primary system
// message with a freshly captured tmux pane screenshot block, replacing any
// previous snapshot in place so history does not accumulate stale captures.
// basePrompt is the agent's configured base system prompt. If the tool
// executor has no capture-pane tool, or the capture fails or returns no
// usable text, the primary system message is reset to the base prompt alone.
func RefreshDynamicTmuxSnapshotPrompt(ctx context.Context, messages []types.Message, basePrompt string, executor ToolExecutor) []types.Message {
	base := strings.TrimSpace(basePrompt)
	if base == "" {
		return messages
	}

	block, ok := captureTmuxSnapshotPromptBlock(ctx, executor)
	if !ok {
		return setPrimarySystemMessage(messages, base)
	}
	return setPrimarySystemMessage(messages, base+"\n\n"+block)
}

func captureTmuxSnapshotPromptBlock(ctx context.Context, executor ToolExecutor) (string, bool) {
	if executor == nil || !executor.HasTool("capture-pane") {
		return "", false
	}

	result, err := executor.Execute(ctx, "capture-pane", "{}")
	if err != nil {
		return "", false
	}
	snapshot := strings.TrimSpace(toolResultText(result))
	if snapshot == "" {
		return "", false
	}
	return renderTmuxSnapshotBlock(snapshot), true
}

func setPrimarySystemMessage(messages []types.Message, content string) []types.Message {
	if len(messages) > 0 && messages[0].Role == types.RoleSystem {
		out := make([]types.Message, len(messages))
		copy(out, messages)
		out[0] = types.NewSystemMessage(content)
		return out
	}
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.NewSystemMessage(content))
	out = append(out, messages...)
	return out
}

// toolResultText unwraps a tool's JSON envelope to its "result" field when
// present, otherwise returns the raw payload unchanged.
func toolResultText(raw string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return raw
	}
	payload, ok := envelope["result"]
	if !ok {
		return raw
	}
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return text
	}
	return string(payload)
}

func renderTmuxSnapshotBlock(snapshot string) string {
	clipped := textutil.TruncateWithSuffixByChars(snapshot, maxTmuxScreenshotChars, "\n...[truncated]")
	var b strings.Builder
	b.WriteString("Current tmux pane screenshot (captured immediately before this request):\n")
	b.WriteString("```text\n")
	b.WriteString(clipped)
	b.WriteString("\n```\n")
	b.WriteString("Before running any command, inspect this screenshot. If it does not show a usable shell prompt, ")
	b.WriteString("do not run commands yet. Tell the user what is blocking the pane and offer to recover control with `send-keys`.")
	return b.String()
}
