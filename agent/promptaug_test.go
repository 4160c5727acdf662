package agent

import (
	"context"
	"strings"
	"testing"

	"buddy/types"
)

type stubExecutor struct {
	has    bool
	result string
	err    error
}

func (s stubExecutor) HasTool(name string) bool { return s.has && name == "capture-pane" }

func (s stubExecutor) Execute(ctx context.Context, name string, argumentsJSON string) (string, error) {
	return s.result, s.err
}

func TestToolResultTextPrefersResultField(t *testing.T) {
	if got := toolResultText(`{"result":"hello"}`); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestToolResultTextFallsBackToRawPayload(t *testing.T) {
	if got := toolResultText("not json"); got != "not json" {
		t.Fatalf("got %q", got)
	}
}

func TestTmuxSnapshotBlockTruncatesLargeSnapshots(t *testing.T) {
	text := strings.Repeat("x", 3000)
	rendered := renderTmuxSnapshotBlock(text)
	if !strings.Contains(rendered, "...[truncated]") {
		t.Fatalf("expected truncation marker in rendered block")
	}
}

func TestRefreshDynamicTmuxSnapshotPromptReplacesNotAppends(t *testing.T) {
	messages := []types.Message{
		types.NewSystemMessage("base prompt\n\nCurrent tmux pane screenshot (captured immediately before this request):\nold"),
		types.NewUserMessage("hi"),
	}
	executor := stubExecutor{has: true, result: `{"result":"fresh pane contents"}`}

	out := RefreshDynamicTmuxSnapshotPrompt(context.Background(), messages, "base prompt", executor)

	if len(out) != 2 {
		t.Fatalf("expected message count unchanged, got %d", len(out))
	}
	if out[0].Content == nil {
		t.Fatalf("expected primary system message content")
	}
	if strings.Contains(*out[0].Content, "old") {
		t.Fatalf("expected previous snapshot to be replaced, not appended: %q", *out[0].Content)
	}
	if !strings.Contains(*out[0].Content, "fresh pane contents") {
		t.Fatalf("expected fresh snapshot text present: %q", *out[0].Content)
	}
}

func TestRefreshDynamicTmuxSnapshotPromptFallsBackWithoutTool(t *testing.T) {
	messages := []types.Message{types.NewSystemMessage("base prompt")}
	executor := stubExecutor{has: false}

	out := RefreshDynamicTmuxSnapshotPrompt(context.Background(), messages, "base prompt", executor)
	if out[0].Content == nil || *out[0].Content != "base prompt" {
		t.Fatalf("expected bare base prompt, got %+v", out[0].Content)
	}
}
