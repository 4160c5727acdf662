package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func sseEventBlock(eventName, dataPayload string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventName, dataPayload)
}

func sseDoneBlock() string {
	return "data: [DONE]\n\n"
}

func TestParseStreamingResponsesPayloadExtractsCompletedResponse(t *testing.T) {
	sse := sseEventBlock("response.output_text.delta", `{"type":"response.output_text.delta","delta":"hel"}`) +
		sseEventBlock("response.completed", `{"type":"response.completed","response":{"id":"resp_1","status":"completed","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hello"}]}],"usage":{"input_tokens":2,"output_tokens":1,"total_tokens":3}}}`) +
		sseDoneBlock()

	parsed, err := parseStreamingResponsesPayload(sse)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != "resp_1" {
		t.Fatalf("unexpected id: %s", parsed.ID)
	}
	if parsed.Choices[0].Message.Content == nil || *parsed.Choices[0].Message.Content != "hello" {
		t.Fatalf("unexpected content: %+v", parsed.Choices[0].Message.Content)
	}
	if parsed.Usage == nil || parsed.Usage.TotalTokens != 3 {
		t.Fatalf("unexpected usage: %+v", parsed.Usage)
	}
}

func TestParseStreamingResponsesPayloadCapturesReasoningDeltas(t *testing.T) {
	sse := sseEventBlock("response.reasoning_summary_text.delta", `{"type":"response.reasoning_summary_text.delta","summary_index":0,"delta":"plan"}`) +
		sseEventBlock("response.reasoning_text.delta", `{"type":"response.reasoning_text.delta","content_index":0,"delta":"step-1"}`) +
		sseEventBlock("response.completed", `{"type":"response.completed","response":{"id":"resp_2","status":"completed","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}}`) +
		sseDoneBlock()

	parsed, err := parseStreamingResponsesPayload(sse)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg := parsed.Choices[0].Message
	if msg.Content == nil || *msg.Content != "ok" {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
	var reasoning string
	if raw, ok := msg.Extra["reasoning_stream"]; ok {
		_ = json.Unmarshal(raw, &reasoning)
	}
	if !strings.Contains(reasoning, "plan") || !strings.Contains(reasoning, "step-1") {
		t.Fatalf("expected reasoning deltas present, got %q", reasoning)
	}
}

func TestParseStreamingResponsesPayloadCapturesReasoningItems(t *testing.T) {
	sse := sseEventBlock("response.output_item.done", `{"type":"response.output_item.done","item":{"type":"reasoning","summary":[{"type":"summary_text","text":"thinking"}]}}`) +
		sseEventBlock("response.completed", `{"type":"response.completed","response":{"id":"resp_3","status":"completed","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}}`) +
		sseDoneBlock()

	parsed, err := parseStreamingResponsesPayload(sse)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := parsed.Choices[0].Message.Extra["reasoning"]; !ok {
		t.Fatalf("expected reasoning items captured")
	}
}

func TestParseStreamingResponsesPayloadSupportsMultilineSSEEvents(t *testing.T) {
	sse := ": keep-alive\n" +
		"event: response.output_text.delta\n" +
		"data: {\"type\":\"response.output_text.delta\",\n" +
		"data: \"delta\":\"hel\"}\n\n" +
		"event: response.completed\n" +
		"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_4\",\"status\":\"completed\",\"output\":[{\"type\":\"message\",\"role\":\"assistant\",\"content\":[{\"type\":\"output_text\",\"text\":\"hello\"}]}]}}\n\n" +
		"data: [DONE]\n\n"

	parsed, err := parseStreamingResponsesPayload(sse)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != "resp_4" {
		t.Fatalf("unexpected id: %s", parsed.ID)
	}
	if parsed.Choices[0].Message.Content == nil || *parsed.Choices[0].Message.Content != "hello" {
		t.Fatalf("unexpected content: %+v", parsed.Choices[0].Message.Content)
	}
}

func TestParseSSEEventPayloadsJoinsDataLinesAndSkipsComments(t *testing.T) {
	stream := ": ping\n" +
		"event: demo\n" +
		"data: one\n" +
		"data: two\n" +
		"id: 1\n" +
		"\n" +
		"data: [DONE]\n" +
		"\n"
	payloads := parseSSEEventPayloads(stream)
	if len(payloads) != 2 || payloads[0] != "one\ntwo" || payloads[1] != "[DONE]" {
		t.Fatalf("unexpected payloads: %+v", payloads)
	}
}
