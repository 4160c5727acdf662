package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"buddy/agent"
	"buddy/tools"
	"buddy/types"
)

type fakeClient struct {
	mu        sync.Mutex
	responses []types.ChatResponse
	errs      []error
	calls     int
	delay     time.Duration
}

func (f *fakeClient) Chat(ctx context.Context, request types.ChatRequest) (types.ChatResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return types.ChatResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	if idx < len(f.errs) && f.errs[idx] != nil {
		return types.ChatResponse{}, f.errs[idx]
	}
	if idx >= len(f.responses) {
		return types.ChatResponse{}, nil
	}
	return f.responses[idx], nil
}

func textResponse(content string) types.ChatResponse {
	return types.ChatResponse{
		ID:      "r1",
		Choices: []types.Choice{{Index: 0, Message: types.NewAssistantMessage(content)}},
	}
}

func toolCallResponse(id, name, args string) types.ChatResponse {
	msg := types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: types.FunctionCall{Name: name, Arguments: args},
	}}}
	return types.ChatResponse{ID: "r1", Choices: []types.Choice{{Index: 0, Message: msg}}}
}

type fakeExecutor struct {
	broker *tools.ApprovalBroker
}

func (e *fakeExecutor) HasTool(name string) bool { return name == "shell" }

func (e *fakeExecutor) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	approved, err := e.broker.Request(ctx, "rm -rf /tmp/scratch", &tools.ApprovalMetadata{
		Risk: tools.RiskHigh, Mutation: true, Why: "cleans up scratch files",
	})
	if err != nil {
		return "", err
	}
	if !approved {
		return "denied", nil
	}
	return "ok", nil
}

func newTestAgent(client *fakeClient, executor agent.ToolExecutor) *agent.Agent {
	return agent.New(agent.Config{
		Client:       client,
		Model:        "test-model",
		ContextLimit: 100_000,
		Executor:     executor,
	})
}

// drain collects events from stream until predicate returns true for one of
// them, or the deadline elapses.
func drain(t *testing.T, stream EventStream, deadline time.Duration, stop func(RuntimeEvent) bool) []RuntimeEvent {
	t.Helper()
	var events []RuntimeEvent
	timeout := time.After(deadline)
	for {
		select {
		case envelope, ok := <-stream:
			if !ok {
				return events
			}
			events = append(events, envelope.Event)
			if stop(envelope.Event) {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for expected event; collected so far: %#v", events)
			return events
		}
	}
}

func hasEventType[T RuntimeEvent](events []RuntimeEvent) bool {
	for _, e := range events {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func TestSubmitPromptEmitsOrderedLifecycleEvents(t *testing.T) {
	client := &fakeClient{responses: []types.ChatResponse{textResponse("hi there")}}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	if err := handle.Send(context.Background(), SubmitPromptCommand{Prompt: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(TaskCompletedEvent)
		return ok
	})

	if !hasEventType[RuntimeStartedEvent](events) {
		t.Fatalf("expected a RuntimeStartedEvent, got %#v", events)
	}
	if !hasEventType[TaskQueuedEvent](events) {
		t.Fatalf("expected a TaskQueuedEvent, got %#v", events)
	}
	if !hasEventType[TaskStartedEvent](events) {
		t.Fatalf("expected a TaskStartedEvent, got %#v", events)
	}
	if !hasEventType[ModelMessageFinalEvent](events) {
		t.Fatalf("expected a ModelMessageFinalEvent, got %#v", events)
	}
	if !hasEventType[TaskCompletedEvent](events) {
		t.Fatalf("expected a TaskCompletedEvent, got %#v", events)
	}
}

func TestSecondSubmitPromptWhileActiveIsRejected(t *testing.T) {
	client := &fakeClient{
		responses: []types.ChatResponse{textResponse("done")},
		delay:     150 * time.Millisecond,
	}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	ctx := context.Background()
	if err := handle.Send(ctx, SubmitPromptCommand{Prompt: "first"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Give the actor a moment to register the first task as active.
	time.Sleep(20 * time.Millisecond)
	if err := handle.Send(ctx, SubmitPromptCommand{Prompt: "second"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(TaskCompletedEvent)
		return ok
	})

	found := false
	for _, e := range events {
		if errEvent, ok := e.(ErrorEvent); ok && errEvent.Message == ErrTaskAlreadyRunning.Error() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an ErrorEvent for the rejected second prompt, got %#v", events)
	}
}

func TestCancelTaskMidFlightStopsTheTask(t *testing.T) {
	client := &fakeClient{
		responses: []types.ChatResponse{textResponse("too late")},
		delay:     500 * time.Millisecond,
	}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	ctx := context.Background()
	if err := handle.Send(ctx, SubmitPromptCommand{Prompt: "slow"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := handle.Send(ctx, CancelTaskCommand{TaskID: 1}); err != nil {
		t.Fatalf("Send cancel: %v", err)
	}

	events := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(TaskCompletedEvent)
		return ok
	})

	if !hasEventType[TaskCancellingEvent](events) {
		t.Fatalf("expected a TaskCancellingEvent, got %#v", events)
	}
}

func TestApprovalFlowAskThenApprove(t *testing.T) {
	client := &fakeClient{responses: []types.ChatResponse{
		toolCallResponse("call-1", "shell", `{"command":"rm -rf /tmp/scratch"}`),
		textResponse("cleaned up"),
	}}
	broker := tools.NewApprovalBroker()
	executor := &fakeExecutor{broker: broker}
	ag := newTestAgent(client, executor)
	handle, stream := Spawn(SpawnConfig{Agent: ag, Approvals: broker.Requests()})

	ctx := context.Background()
	if err := handle.Send(ctx, SubmitPromptCommand{Prompt: "clean up"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var approvalID string
	events := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		if waiting, ok := e.(TaskWaitingApprovalEvent); ok {
			approvalID = waiting.ApprovalID
			return true
		}
		return false
	})
	if approvalID == "" {
		t.Fatalf("expected a TaskWaitingApprovalEvent, got %#v", events)
	}

	if err := handle.Send(ctx, ApproveCommand{ApprovalID: approvalID, Decision: ApprovalApprove}); err != nil {
		t.Fatalf("Send approve: %v", err)
	}

	completion := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(TaskCompletedEvent)
		return ok
	})
	if !hasEventType[ToolResultEvent](completion) {
		t.Fatalf("expected a ToolResultEvent after approval, got %#v", completion)
	}
}

func TestExactlyOnceFailedDedup(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("upstream exploded")}}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	if err := handle.Send(context.Background(), SubmitPromptCommand{Prompt: "boom"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := drain(t, stream, 2*time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(TaskFailedEvent)
		return ok
	})
	// The task-done path's error arrives shortly after the agent's own
	// TaskFailedEvent; give it a beat to land and confirm it was deduped.
	time.Sleep(200 * time.Millisecond)
	drainNonBlocking(stream, &events)

	var failedCount int
	for _, e := range events {
		if _, ok := e.(TaskFailedEvent); ok {
			failedCount++
		}
	}
	if failedCount != 1 {
		t.Fatalf("expected exactly one TaskFailedEvent, got %d (%#v)", failedCount, events)
	}
}

// drainNonBlocking appends every event currently buffered on stream without
// blocking, used after a short settle delay to catch trailing events.
func drainNonBlocking(stream EventStream, events *[]RuntimeEvent) {
	for {
		select {
		case envelope, ok := <-stream:
			if !ok {
				return
			}
			*events = append(*events, envelope.Event)
		default:
			return
		}
	}
}

func TestSwitchModelCommandEmitsEvent(t *testing.T) {
	client := &fakeClient{}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	if err := handle.Send(context.Background(), SwitchModelCommand{Profile: "gpt-5"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := drain(t, stream, time.Second, func(e RuntimeEvent) bool {
		_, ok := e.(ModelProfileSwitchedEvent)
		return ok
	})
	last := events[len(events)-1].(ModelProfileSwitchedEvent)
	if last.Model != "gpt-5" {
		t.Fatalf("expected switched model gpt-5, got %q", last.Model)
	}
}

func TestShutdownStopsTheActor(t *testing.T) {
	client := &fakeClient{}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	if err := handle.Send(context.Background(), ShutdownCommand{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for envelope := range stream {
		if _, ok := envelope.Event.(RuntimeStoppedEvent); ok {
			return
		}
	}
	t.Fatal("event stream closed before a RuntimeStoppedEvent arrived")
}

func TestShutdownAwaitsActiveTaskBeforeStopping(t *testing.T) {
	client := &fakeClient{delay: 50 * time.Millisecond, responses: []types.ChatResponse{textResponse("done")}}
	ag := newTestAgent(client, nil)
	handle, stream := Spawn(SpawnConfig{Agent: ag})

	if err := handle.Send(context.Background(), SubmitPromptCommand{Prompt: "go slow"}); err != nil {
		t.Fatalf("Send(SubmitPrompt): %v", err)
	}
	if err := handle.Send(context.Background(), ShutdownCommand{}); err != nil {
		t.Fatalf("Send(Shutdown): %v", err)
	}

	var sawCompleted bool
	for envelope := range stream {
		if _, ok := envelope.Event.(TaskCompletedEvent); ok {
			sawCompleted = true
		}
		if _, ok := envelope.Event.(RuntimeStoppedEvent); ok {
			if !sawCompleted {
				t.Fatal("expected the in-flight task to complete before RuntimeStopped")
			}
			return
		}
	}
	t.Fatal("event stream closed before a RuntimeStoppedEvent arrived")
}
