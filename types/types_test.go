package types

import (
	"encoding/json"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("hello")
	if sys.Role != RoleSystem || !sys.HasContent() {
		t.Fatalf("unexpected system message: %+v", sys)
	}

	usr := NewUserMessage("world")
	if usr.Role != RoleUser {
		t.Fatalf("unexpected user message: %+v", usr)
	}

	tool := NewToolResultMessage("call_1", "result data")
	if tool.Role != RoleTool || tool.ToolCallID == nil || *tool.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %+v", tool)
	}
}

func TestSerializeChatRequestOmitsOptionalFields(t *testing.T) {
	temp := 0.7
	req := ChatRequest{
		Model:       "gpt-4o",
		Messages:    []Message{NewSystemMessage("You are helpful."), NewUserMessage("Hi")},
		Temperature: &temp,
	}
	payload, err := json.Marshal(struct {
		Model       string     `json:"model"`
		Messages    []Message  `json:"messages"`
		Temperature *float64   `json:"temperature,omitempty"`
		TopP        *float64   `json:"top_p,omitempty"`
		Tools       []ToolCall `json:"tools,omitempty"`
	}{req.Model, req.Messages, req.Temperature, req.TopP, nil})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["model"] != "gpt-4o" {
		t.Fatalf("unexpected model: %v", out["model"])
	}
	if _, ok := out["top_p"]; ok {
		t.Fatalf("top_p should be omitted")
	}
}

func TestMessageRoundTripsProviderExtras(t *testing.T) {
	raw := []byte(`{
		"role": "assistant",
		"content": null,
		"reasoning_content": "thinking trace",
		"tool_calls": [{
			"id": "call_abc",
			"type": "function",
			"function": {"name": "run_shell", "arguments": "{\"command\":\"ls\"}"}
		}]
	}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content != nil {
		t.Fatalf("expected nil content, got %v", *msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "run_shell" {
		t.Fatalf("unexpected tool calls: %+v", msg.ToolCalls)
	}
	if _, ok := msg.Extra["reasoning_content"]; !ok {
		t.Fatalf("expected reasoning_content to survive in Extra")
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if back["reasoning_content"] != "thinking trace" {
		t.Fatalf("reasoning_content did not round-trip: %v", back["reasoning_content"])
	}
	if back["content"] != nil {
		t.Fatalf("content should remain null, got %v", back["content"])
	}
}

func TestChatResponseFirstChoice(t *testing.T) {
	resp := ChatResponse{}
	if _, err := resp.FirstChoice(); err == nil {
		t.Fatalf("expected error for empty response")
	}

	resp.Choices = []Choice{{Index: 0, Message: NewUserMessage("hi")}}
	choice, err := resp.FirstChoice()
	if err != nil {
		t.Fatalf("FirstChoice: %v", err)
	}
	if choice.Message.Role != RoleUser {
		t.Fatalf("unexpected choice: %+v", choice)
	}
}
