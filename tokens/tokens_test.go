package tokens

import (
	"testing"

	"buddy/types"
)

func TestTrackerRecordAccumulatesTotals(t *testing.T) {
	tr := New(1000)
	tr.Record(50, 20)
	if tr.SessionTotal() != 70 {
		t.Fatalf("unexpected session total: %d", tr.SessionTotal())
	}
	tr.Record(100, 30)
	if tr.SessionTotal() != 200 {
		t.Fatalf("unexpected session total: %d", tr.SessionTotal())
	}
	if tr.LastPromptTokens != 100 || tr.LastCompletionTokens != 30 {
		t.Fatalf("unexpected last counters: %+v", tr)
	}
}

func TestTrackerRecordSaturates(t *testing.T) {
	tr := New(1000)
	tr.TotalPromptTokens = ^uint64(0) - 3
	tr.TotalCompletionTokens = ^uint64(0) - 2
	tr.Record(10, 10)
	if tr.TotalPromptTokens != ^uint64(0) || tr.TotalCompletionTokens != ^uint64(0) {
		t.Fatalf("expected saturation, got %+v", tr)
	}
}

func TestEstimateMessagesBasic(t *testing.T) {
	msgs := []types.Message{types.NewSystemMessage("You are helpful."), types.NewUserMessage("Hello world")}
	est := EstimateMessages(msgs)
	if est == 0 || est >= 100 {
		t.Fatalf("unexpected estimate: %d", est)
	}
}

func TestIsApproachingLimit(t *testing.T) {
	tr := New(100)
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	msgs := []types.Message{types.NewUserMessage(string(long))}
	if !tr.IsApproachingLimit(msgs) {
		t.Fatalf("expected approaching-limit to trip")
	}
}

func TestDefaultContextLimitCatalogRules(t *testing.T) {
	cases := map[string]uint64{
		"gpt-4o":                    128000,
		"openai/gpt-4o":              128000,
		"openai/gpt-4o:extended":     128000,
		"gpt-4.1-mini":               1047576,
		"moonshotai/kimi-k2.5":       262144,
		"anthropic/claude-opus-4.6":  1000000,
		"claude-3-sonnet":            200000,
		"llama3.2:1b":                8192,
		"unknown-model":              8192,
	}
	for model, want := range cases {
		if got := DefaultContextLimit(model); got != want {
			t.Errorf("DefaultContextLimit(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := New(500)
	tr.Record(11, 7)
	snap := tr.ToSnapshot()
	restored := FromSnapshot(snap)
	if restored.LastPromptTokens != 11 || restored.LastCompletionTokens != 7 {
		t.Fatalf("snapshot did not round-trip: %+v", restored)
	}
}
