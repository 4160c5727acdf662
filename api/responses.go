package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"buddy/types"
)

type responsesRequestOptions struct {
	StoreFalse bool
	Stream     bool
}

// requestResponses sends one `/responses` request and normalizes the
// provider's item-based output back into the canonical ChatResponse shape.
func requestResponses(ctx context.Context, client *http.Client, baseURL string, request types.ChatRequest, bearer string, options responsesRequestOptions) (types.ChatResponse, error) {
	payload := buildResponsesPayload(request, options.StoreFalse, options.Stream)
	body, err := json.Marshal(payload)
	if err != nil {
		return types.ChatResponse{}, newInvalidResponseError("encoding request: %v", err)
	}

	url := baseURL + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.ChatResponse{}, newTransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(bearer); token != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return types.ChatResponse{}, newTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := parseRetryAfterSecs(resp.Header)
		respBody, _ := io.ReadAll(resp.Body)
		return types.ChatResponse{}, newStatusError(resp.StatusCode, string(respBody), retryAfter)
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ChatResponse{}, newTransportError(err)
	}

	if options.Stream {
		return parseStreamingResponsesPayload(string(rawBody))
	}
	var payloadValue map[string]any
	if err := json.Unmarshal(rawBody, &payloadValue); err != nil {
		return types.ChatResponse{}, newInvalidResponseError("decoding responses payload: %v", err)
	}
	return parseResponsesPayload(payloadValue)
}

// buildResponsesPayload translates a canonical ChatRequest into the
// provider payload expected by `POST /responses`: system content moves into
// `instructions`, and every other turn becomes an `input` item.
func buildResponsesPayload(request types.ChatRequest, storeFalse, stream bool) map[string]any {
	var instructions []string
	var input []any

	for _, message := range request.Messages {
		if message.Role == types.RoleSystem {
			if message.Content != nil {
				if content := strings.TrimSpace(*message.Content); content != "" {
					instructions = append(instructions, content)
				}
			}
			continue
		}
		input = append(input, messageToResponsesItems(message)...)
	}

	var tools []map[string]any
	for _, tool := range request.Tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        tool.Function.Name,
			"description": tool.Function.Description,
			"parameters":  tool.Function.Parameters,
		})
	}

	payload := map[string]any{
		"model": request.Model,
		"input": input,
	}
	if len(instructions) > 0 {
		payload["instructions"] = strings.Join(instructions, "\n\n")
	}
	if len(tools) > 0 {
		payload["tools"] = tools
	}
	if request.Temperature != nil {
		payload["temperature"] = *request.Temperature
	}
	if request.TopP != nil {
		payload["top_p"] = *request.TopP
	}
	if storeFalse {
		payload["store"] = false
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

// messageToResponsesItems converts one chat message into zero or more
// `/responses` input items.
func messageToResponsesItems(message types.Message) []any {
	var out []any

	switch message.Role {
	case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		if message.Content != nil {
			if content := strings.TrimSpace(*message.Content); content != "" {
				contentType := "input_text"
				if message.Role == types.RoleAssistant {
					contentType = "output_text"
				}
				out = append(out, map[string]any{
					"type": "message",
					"role": roleToWire(message.Role),
					"content": []map[string]any{
						{"type": contentType, "text": content},
					},
				})
			}
		}
		for _, tc := range message.ToolCalls {
			out = append(out, map[string]any{
				"type":      "function_call",
				"call_id":   tc.ID,
				"name":      tc.Function.Name,
				"arguments": tc.Function.Arguments,
			})
		}
	case types.RoleTool:
		if message.ToolCallID == nil {
			return out
		}
		callID := strings.TrimSpace(*message.ToolCallID)
		if callID == "" {
			return out
		}
		output := ""
		if message.Content != nil {
			output = *message.Content
		}
		out = append(out, map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		})
	}

	return out
}

func roleToWire(role types.Role) string {
	return string(role)
}

// parseResponsesPayload parses one non-streaming `/responses` JSON payload
// into the canonical ChatResponse shape.
func parseResponsesPayload(payload map[string]any) (types.ChatResponse, error) {
	id := "responses-unknown"
	if v, ok := payload["id"].(string); ok && v != "" {
		id = v
	}

	var assistantText []string
	var toolCalls []types.ToolCall
	var reasoningItems []any

	if output, ok := payload["output"].([]any); ok {
		for _, raw := range output {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			kind, _ := item["type"].(string)
			switch kind {
			case "message":
				parseOutputMessageText(item, &assistantText)
			case "function_call":
				if tc, ok := parseOutputFunctionCall(item, len(toolCalls)); ok {
					toolCalls = append(toolCalls, tc)
				}
			case "reasoning":
				reasoningItems = append(reasoningItems, item)
			}
		}
	}

	if len(assistantText) == 0 {
		if text, ok := payload["output_text"].(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				assistantText = append(assistantText, trimmed)
			}
		}
	}

	assistant := types.Message{Role: types.RoleAssistant}
	if len(assistantText) > 0 {
		joined := strings.Join(assistantText, "\n")
		assistant.Content = &joined
	}
	if len(toolCalls) > 0 {
		assistant.ToolCalls = toolCalls
	}
	if len(reasoningItems) > 0 {
		raw, err := json.Marshal(reasoningItems)
		if err == nil {
			assistant.Extra = map[string]json.RawMessage{"reasoning": raw}
		}
	}

	var finishReason *string
	if status, ok := payload["status"].(string); ok {
		finishReason = &status
	}

	var usage *types.Usage
	if usageRaw, ok := payload["usage"].(map[string]any); ok {
		usage = parseUsage(usageRaw)
	}

	return types.ChatResponse{
		ID: id,
		Choices: []types.Choice{
			{Index: 0, Message: assistant, FinishReason: finishReason},
		},
		Usage: usage,
	}, nil
}

// parseOutputMessageText extracts assistant-visible text segments from a
// `/responses` message item's content parts.
func parseOutputMessageText(item map[string]any, out *[]string) {
	content, ok := item["content"].([]any)
	if !ok {
		return
	}
	for _, rawPart := range content {
		part, ok := rawPart.(map[string]any)
		if !ok {
			continue
		}
		partType, _ := part["type"].(string)
		text, ok := part["text"].(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		switch partType {
		case "output_text", "input_text", "text":
			*out = append(*out, trimmed)
		}
	}
}

// parseOutputFunctionCall parses one `function_call` output item into the
// normalized tool-call shape.
func parseOutputFunctionCall(item map[string]any, index int) (types.ToolCall, bool) {
	name, _ := item["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ToolCall{}, false
	}

	id := ""
	if v, ok := item["call_id"].(string); ok {
		id = strings.TrimSpace(v)
	}
	if id == "" {
		if v, ok := item["id"].(string); ok {
			id = strings.TrimSpace(v)
		}
	}
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}

	var args string
	switch v := item["arguments"].(type) {
	case string:
		args = v
	case nil:
		args = "{}"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return types.ToolCall{}, false
		}
		args = string(encoded)
	}

	return types.ToolCall{
		ID:   id,
		Type: "function",
		Function: types.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}, true
}

// parseUsage normalizes usage totals from either completions-style
// (prompt_tokens/completion_tokens) or responses-style
// (input_tokens/output_tokens) keys.
func parseUsage(usage map[string]any) *types.Usage {
	promptTokens, ok := readU64(usage, "prompt_tokens", "input_tokens")
	if !ok {
		return nil
	}
	completionTokens, ok := readU64(usage, "completion_tokens", "output_tokens")
	if !ok {
		return nil
	}
	totalTokens, ok := readU64(usage, "total_tokens")
	if !ok {
		totalTokens = promptTokens + completionTokens
	}
	return &types.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: totalTokens}
}

func readU64(value map[string]any, keys ...string) (uint64, bool) {
	for _, key := range keys {
		raw, present := value[key]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v >= 0 {
				return uint64(v), true
			}
		case string:
			if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
