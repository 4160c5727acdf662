// Package types defines the canonical conversation and wire-protocol data
// model shared between the agent loop and the protocol adapter.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in the conversation history. Content is absent
// when an assistant message carries only tool calls. Extra preserves
// provider-specific fields (reasoning payloads, vendor metadata) verbatim
// across round-trips so follow-up requests stay acceptable to the provider.
type Message struct {
	Role       Role
	Content    *string
	ToolCalls  []ToolCall
	ToolCallID *string
	Name       *string
	Extra      map[string]json.RawMessage
}

// NewSystemMessage builds a system instruction message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: &content}
}

// NewUserMessage builds an end-user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: &content}
}

// NewToolResultMessage builds a tool-result message sent back after
// executing a tool call.
func NewToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: &toolCallID}
}

// NewAssistantMessage builds a plain-text assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: &content}
}

// HasContent reports whether the message carries non-empty text.
func (m Message) HasContent() bool {
	return m.Content != nil && *m.Content != ""
}

// HasToolCalls reports whether the message requested any tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// messageWire is the flat JSON shape Message (de)serializes through, so
// Extra fields flatten into the top-level object like the Rust `#[serde(flatten)]`
// original, matching what OpenAI-compatible endpoints expect on the wire.
type messageWire struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
	Name       *string    `json:"name,omitempty"`
}

var reservedMessageKeys = map[string]bool{
	"role": true, "content": true, "tool_calls": true,
	"tool_call_id": true, "name": true,
}

// MarshalJSON flattens Extra alongside the known fields.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls,
		ToolCallID: m.ToolCallID, Name: m.Name,
	}
	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if reservedMessageKeys[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits unknown top-level keys into Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if reservedMessageKeys[k] {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		extra[k] = v
	}

	m.Role = wire.Role
	m.Content = wire.Content
	m.ToolCalls = wire.ToolCalls
	m.ToolCallID = wire.ToolCallID
	m.Name = wire.Name
	if len(extra) > 0 {
		m.Extra = extra
	} else {
		m.Extra = nil
	}
	return nil
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and JSON-encoded arguments for one
// tool invocation.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is published to the model so it knows what tools it may call.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the JSON-Schema-described signature of a callable tool.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the canonical request shape the protocol adapter builds
// wire payloads from. Its JSON shape matches `/chat/completions` directly;
// the `/responses` adapter translates it into that endpoint's own shape.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

// ChatResponse is the canonical response shape the protocol adapter
// normalizes both wire modes into.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single ranked response choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage reports token accounting for one request/response round trip.
type Usage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

// FirstChoice returns the first choice or an error if the response is empty.
func (r ChatResponse) FirstChoice() (Choice, error) {
	if len(r.Choices) == 0 {
		return Choice{}, fmt.Errorf("empty response: no choices")
	}
	return r.Choices[0], nil
}
