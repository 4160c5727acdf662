package api

import (
	"encoding/json"
	"sort"
	"strings"

	"buddy/types"
)

// parseStreamingResponsesPayload parses a streaming SSE body returned by
// `POST /responses` with stream=true, folding deltas into a final
// ChatResponse once a response.completed/response.done event arrives.
func parseStreamingResponsesPayload(body string) (types.ChatResponse, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return types.ChatResponse{}, newInvalidResponseError("empty streaming response body")
	}

	// Some providers return non-streaming JSON even when stream=true.
	if strings.HasPrefix(trimmed, "{") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return types.ChatResponse{}, newInvalidResponseError("invalid JSON response: %v", err)
		}
		return parseResponsesPayload(payload)
	}

	var completedResponse map[string]any
	var outputTextDelta strings.Builder
	reasoningSummaryDeltas := map[int]*strings.Builder{}
	reasoningContentDeltas := map[int]*strings.Builder{}
	var reasoningItems []any

	for _, eventPayload := range parseSSEEventPayloads(trimmed) {
		if eventPayload == "" || eventPayload == "[DONE]" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(eventPayload), &event); err != nil {
			return types.ChatResponse{}, newInvalidResponseError("invalid streaming event payload: %v", err)
		}

		eventType, _ := event["type"].(string)
		switch eventType {
		case "response.output_text.delta":
			if delta, ok := event["delta"].(string); ok {
				outputTextDelta.WriteString(delta)
			}
		case "response.reasoning_summary_text.delta":
			index, ok := readIndex(event, "summary_index")
			delta, deltaOK := event["delta"].(string)
			if !ok || !deltaOK {
				continue
			}
			builder, present := reasoningSummaryDeltas[index]
			if !present {
				builder = &strings.Builder{}
				reasoningSummaryDeltas[index] = builder
			}
			builder.WriteString(delta)
		case "response.reasoning_text.delta":
			index, ok := readIndex(event, "content_index")
			delta, deltaOK := event["delta"].(string)
			if !ok || !deltaOK {
				continue
			}
			builder, present := reasoningContentDeltas[index]
			if !present {
				builder = &strings.Builder{}
				reasoningContentDeltas[index] = builder
			}
			builder.WriteString(delta)
		case "response.completed", "response.done":
			if response, ok := event["response"].(map[string]any); ok {
				completedResponse = response
			}
		case "response.output_item.done":
			if item, ok := event["item"].(map[string]any); ok {
				if kind, _ := item["type"].(string); kind == "reasoning" {
					reasoningItems = append(reasoningItems, item)
				}
			}
		case "response.failed":
			message := "response.failed event received"
			if response, ok := event["response"].(map[string]any); ok {
				if errObj, ok := response["error"].(map[string]any); ok {
					if m, ok := errObj["message"].(string); ok && m != "" {
						message = m
					}
				}
			}
			return types.ChatResponse{}, newInvalidResponseError("streaming response failed: %s", message)
		}
	}

	if completedResponse != nil {
		parsed, err := parseResponsesPayload(completedResponse)
		if err != nil {
			return types.ChatResponse{}, err
		}
		if len(parsed.Choices) > 0 {
			choice := &parsed.Choices[0]
			if (choice.Message.Content == nil || strings.TrimSpace(*choice.Message.Content) == "") && outputTextDelta.Len() > 0 {
				text := outputTextDelta.String()
				choice.Message.Content = &text
			}

			var streamReasoningFragments []string
			if summary := joinOrderedBuilders(reasoningSummaryDeltas); summary != "" {
				streamReasoningFragments = append(streamReasoningFragments, "summary:\n"+summary)
			}
			if details := joinOrderedBuilders(reasoningContentDeltas); details != "" {
				streamReasoningFragments = append(streamReasoningFragments, "details:\n"+details)
			}
			if len(streamReasoningFragments) > 0 {
				if choice.Message.Extra == nil {
					choice.Message.Extra = map[string]json.RawMessage{}
				}
				raw, err := json.Marshal(strings.Join(streamReasoningFragments, "\n\n"))
				if err == nil {
					choice.Message.Extra["reasoning_stream"] = raw
				}
			}

			if len(reasoningItems) > 0 {
				if choice.Message.Extra == nil || choice.Message.Extra["reasoning"] == nil {
					raw, err := json.Marshal(reasoningItems)
					if err == nil {
						if choice.Message.Extra == nil {
							choice.Message.Extra = map[string]json.RawMessage{}
						}
						choice.Message.Extra["reasoning"] = raw
					}
				}
			}
		}
		return parsed, nil
	}

	if outputTextDelta.Len() > 0 {
		text := outputTextDelta.String()
		return types.ChatResponse{
			ID: "responses-stream-unknown",
			Choices: []types.Choice{
				{Index: 0, Message: types.Message{Role: types.RoleAssistant, Content: &text}},
			},
		}, nil
	}

	return types.ChatResponse{}, newInvalidResponseError("stream closed before response.completed")
}

func readIndex(event map[string]any, key string) (int, bool) {
	v, ok := event[key].(float64)
	if !ok || v < 0 {
		return 0, false
	}
	return int(v), true
}

func joinOrderedBuilders(builders map[int]*strings.Builder) string {
	if len(builders) == 0 {
		return ""
	}
	indices := make([]int, 0, len(builders))
	for idx := range builders {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var lines []string
	for _, idx := range indices {
		text := strings.TrimSpace(builders[idx].String())
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// parseSSEEventPayloads parses an SSE stream into concatenated `data`
// payload blocks. The SSE spec allows events to contain multiple `data:`
// lines; payload lines are joined with "\n" and finalized when a blank
// line is encountered.
func parseSSEEventPayloads(stream string) []string {
	var payloads []string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payloads = append(payloads, strings.Join(dataLines, "\n"))
		dataLines = nil
	}

	for _, rawLine := range strings.Split(stream, "\n") {
		line := strings.TrimSuffix(rawLine, "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		} else {
			value = ""
		}
		if field == "data" {
			dataLines = append(dataLines, value)
		}
	}
	flush()
	return payloads
}
