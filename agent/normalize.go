// Package agent implements the interactive agent loop: history sanitation,
// context-budget compaction, dynamic prompt augmentation, and the
// send/tool-dispatch state machine built on top of the types, tokens, api
// and textutil packages.
package agent

import (
	"encoding/json"
	"sort"
	"strings"

	"buddy/types"
)

// ReasoningTrace pairs a provider field name with the text recovered from it.
type ReasoningTrace struct {
	Field string
	Text  string
}

// ReasoningTraces extracts normalized (field, text) reasoning tuples from a
// message's provider-specific Extra payload. Field order is sorted for
// deterministic emission regardless of map iteration order.
func ReasoningTraces(message types.Message) []ReasoningTrace {
	if len(message.Extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(message.Extra))
	for k := range message.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var traces []ReasoningTrace
	for _, key := range keys {
		if !isReasoningKey(key) {
			continue
		}
		var value any
		if err := json.Unmarshal(message.Extra[key], &value); err != nil {
			continue
		}
		if text, ok := reasoningValueToText(value); ok {
			traces = append(traces, ReasoningTrace{Field: key, Text: text})
		}
	}
	return traces
}

// isReasoningKey reports whether a top-level key likely carries provider
// reasoning/thinking content.
func isReasoningKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "reasoning") || strings.Contains(k, "thinking") || strings.Contains(k, "thought")
}

// SanitizeConversationHistory sanitizes every message in place and drops
// entries that carry no useful signal after sanitation.
func SanitizeConversationHistory(messages []types.Message) []types.Message {
	kept := messages[:0]
	for _, msg := range messages {
		sanitized := SanitizeMessage(msg)
		if shouldKeepMessage(sanitized) {
			kept = append(kept, sanitized)
		}
	}
	return kept
}

// SanitizeMessage trims content, prunes empty tool calls/ids, and drops
// empty-string or null Extra entries. Returns the sanitized copy.
func SanitizeMessage(message types.Message) types.Message {
	if message.Content != nil {
		trimmed := strings.TrimSpace(*message.Content)
		if trimmed == "" {
			message.Content = nil
		} else if trimmed != *message.Content {
			message.Content = &trimmed
		}
	}

	if len(message.ToolCalls) > 0 {
		filtered := make([]types.ToolCall, 0, len(message.ToolCalls))
		for _, tc := range message.ToolCalls {
			if strings.TrimSpace(tc.ID) == "" {
				continue
			}
			if strings.TrimSpace(tc.Function.Name) == "" {
				continue
			}
			if strings.TrimSpace(tc.Function.Arguments) == "" {
				continue
			}
			filtered = append(filtered, tc)
		}
		if len(filtered) == 0 {
			message.ToolCalls = nil
		} else {
			message.ToolCalls = filtered
		}
	}

	if message.ToolCallID != nil {
		trimmed := strings.TrimSpace(*message.ToolCallID)
		if trimmed == "" {
			message.ToolCallID = nil
		} else if trimmed != *message.ToolCallID {
			message.ToolCallID = &trimmed
		}
	}

	if len(message.Extra) > 0 {
		cleaned := make(map[string]json.RawMessage, len(message.Extra))
		for k, v := range message.Extra {
			if isEmptyJSONValue(v) {
				continue
			}
			cleaned[k] = v
		}
		if len(cleaned) == 0 {
			message.Extra = nil
		} else {
			message.Extra = cleaned
		}
	}

	return message
}

// shouldKeepMessage decides whether a sanitized message still carries
// signal worth keeping in history.
func shouldKeepMessage(message types.Message) bool {
	switch message.Role {
	case types.RoleSystem, types.RoleUser:
		return message.Content != nil
	case types.RoleAssistant:
		return message.Content != nil || len(message.ToolCalls) > 0
	case types.RoleTool:
		return message.ToolCallID != nil
	default:
		return false
	}
}

// reasoningTextKeys allowlists the nested JSON keys worth recursing into
// when hunting for reasoning text across providers' differing payload
// shapes.
var reasoningTextKeys = map[string]bool{
	"reasoning": true, "reasoning_text": true, "reasoning_content": true,
	"reasoning_stream": true, "thinking": true, "thought": true,
	"summary": true, "summary_text": true, "text": true, "content": true,
	"content_text": true, "output_text": true, "input_text": true,
	"details": true, "analysis": true, "explanation": true,
}

// reasoningValueToText renders an arbitrary reasoning JSON payload into a
// compact, deduplicated, newline-joined text block.
func reasoningValueToText(value any) (string, bool) {
	var lines []string
	collectReasoningStrings(value, "", true, &lines)

	seen := make(map[string]bool, len(lines))
	var unique []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		unique = append(unique, trimmed)
	}
	if len(unique) == 0 {
		return "", false
	}
	return strings.Join(unique, "\n"), true
}

// collectReasoningStrings recursively walks a decoded JSON value, collecting
// string leaves whose key (or whose ancestor, for array elements) is on the
// reasoning-text allowlist. rootLevel means "no key yet" (top of the value),
// which always passes.
func collectReasoningStrings(value any, key string, rootLevel bool, out *[]string) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if rootLevel || reasoningTextKeys[strings.ToLower(key)] {
			*out = append(*out, v)
		}
	case []any:
		for _, item := range v {
			collectReasoningStrings(item, key, rootLevel, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectReasoningStrings(v[k], k, false, out)
		}
	default:
		// bool/number: no text to extract
	}
}

// isEmptyJSONValue reports true for JSON null or a JSON string that is
// present but blank after trimming.
func isEmptyJSONValue(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return strings.TrimSpace(s) == ""
}
