package agent

import (
	"encoding/json"
	"testing"

	"buddy/types"
)

func TestIsReasoningKeyDetection(t *testing.T) {
	cases := map[string]bool{
		"reasoning_content": true,
		"Reasoning":         true,
		"thinking_trace":    true,
		"thought_process":   true,
		"content":           false,
		"name":              false,
	}
	for key, want := range cases {
		if got := isReasoningKey(key); got != want {
			t.Errorf("isReasoningKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestSanitizeMessageTrimsAndPrunes(t *testing.T) {
	content := "  hello world  "
	emptyToolCallID := "   "
	msg := types.Message{
		Role:       types.RoleAssistant,
		Content:    &content,
		ToolCallID: &emptyToolCallID,
		ToolCalls: []types.ToolCall{
			{ID: "", Type: "function", Function: types.FunctionCall{Name: "x", Arguments: "{}"}},
			{ID: "call_1", Type: "function", Function: types.FunctionCall{Name: "shell", Arguments: `{"command":"ls"}`}},
		},
		Extra: map[string]json.RawMessage{
			"reasoning_content": json.RawMessage(`"  thinking...  "`),
			"blank_field":       json.RawMessage(`""`),
			"null_field":        json.RawMessage(`null`),
		},
	}

	sanitized := SanitizeMessage(msg)

	if sanitized.Content == nil || *sanitized.Content != "hello world" {
		t.Fatalf("content not trimmed: %+v", sanitized.Content)
	}
	if sanitized.ToolCallID != nil {
		t.Fatalf("expected blank tool_call_id to become nil, got %+v", sanitized.ToolCallID)
	}
	if len(sanitized.ToolCalls) != 1 || sanitized.ToolCalls[0].ID != "call_1" {
		t.Fatalf("expected only well-formed tool call to survive, got %+v", sanitized.ToolCalls)
	}
	if _, ok := sanitized.Extra["blank_field"]; ok {
		t.Fatalf("expected blank_field to be pruned")
	}
	if _, ok := sanitized.Extra["null_field"]; ok {
		t.Fatalf("expected null_field to be pruned")
	}
	if _, ok := sanitized.Extra["reasoning_content"]; !ok {
		t.Fatalf("expected reasoning_content to survive sanitation")
	}
}

func TestSanitizeConversationHistoryDropsEmptyMessages(t *testing.T) {
	emptyContent := "   "
	validContent := "hi"
	toolCallID := "call_9"
	messages := []types.Message{
		{Role: types.RoleUser, Content: &emptyContent},
		{Role: types.RoleUser, Content: &validContent},
		{Role: types.RoleAssistant},
		{Role: types.RoleTool, ToolCallID: &toolCallID, Content: &validContent},
	}

	kept := SanitizeConversationHistory(messages)
	if len(kept) != 2 {
		t.Fatalf("expected 2 surviving messages, got %d: %+v", len(kept), kept)
	}
	if kept[0].Role != types.RoleUser || kept[1].Role != types.RoleTool {
		t.Fatalf("unexpected surviving roles: %+v", kept)
	}
}

func TestReasoningTracesExtractsNestedText(t *testing.T) {
	msg := types.Message{
		Role:    types.RoleAssistant,
		Content: nil,
		Extra: map[string]json.RawMessage{
			"reasoning_content": json.RawMessage(`{"summary": [{"text": "step one"}, {"text": "step one"}, {"text": "step two"}]}`),
			"unrelated_field":   json.RawMessage(`{"text": "should not appear"}`),
		},
	}

	traces := ReasoningTraces(msg)
	if len(traces) != 1 {
		t.Fatalf("expected exactly one reasoning trace, got %d: %+v", len(traces), traces)
	}
	if traces[0].Field != "reasoning_content" {
		t.Fatalf("unexpected field: %s", traces[0].Field)
	}
	if traces[0].Text != "step one\nstep two" {
		t.Fatalf("unexpected deduplicated text: %q", traces[0].Text)
	}
}

func TestReasoningTracesIgnoresNonReasoningKeys(t *testing.T) {
	msg := types.Message{
		Role: types.RoleAssistant,
		Extra: map[string]json.RawMessage{
			"vendor_metadata": json.RawMessage(`{"id": "abc"}`),
		},
	}
	if traces := ReasoningTraces(msg); traces != nil {
		t.Fatalf("expected no reasoning traces, got %+v", traces)
	}
}
