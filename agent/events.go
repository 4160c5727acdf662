package agent

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Notifier receives agent-emitted lifecycle events. Concrete event struct
// types below carry no task identity of their own; the runtime actor
// type-switches over them and stamps in the active TaskRef and a
// sequence number when it builds its own event envelope.
type Notifier interface {
	Send(event any)
}

// TaskStartedEvent marks the beginning of a prompt task.
type TaskStartedEvent struct{}

// TaskCompletedEvent marks a prompt task's successful (or cancelled)
// completion.
type TaskCompletedEvent struct {
	Cancelled bool
}

// TaskFailedEvent reports a prompt task ending in an unrecoverable error.
type TaskFailedEvent struct {
	Error string
}

// ModelRequestStartedEvent marks the start of one provider round trip
// within the loop.
type ModelRequestStartedEvent struct {
	Iteration int
}

// ModelReasoningDeltaEvent carries one extracted reasoning-trace field
// from a provider's assistant message (e.g. a "reasoning_content" or
// "thinking" passthrough field) ahead of the final text response.
type ModelReasoningDeltaEvent struct {
	Field string
	Text  string
}

// ModelMessageFinalEvent carries the loop's final assistant text.
type ModelMessageFinalEvent struct {
	Content string
}

// ToolCallRequestedEvent is emitted before a tool call is dispatched.
type ToolCallRequestedEvent struct {
	ToolCallID string
	Name       string
	Arguments  string
}

// ToolResultEvent carries a dispatched tool call's outcome.
type ToolResultEvent struct {
	ToolCallID string
	Name       string
	Result     string
	IsError    bool
}

// MetricsContextUsageEvent reports estimated context-window usage ahead of
// a provider request.
type MetricsContextUsageEvent struct {
	Fraction float64
}

// MetricsTokenUsageEvent reports actual usage recorded from a provider
// response.
type MetricsTokenUsageEvent struct {
	PromptTokens     uint64
	CompletionTokens uint64
}

// WarningEvent is an advisory, non-fatal notice.
type WarningEvent struct {
	Message string
}

// ErrorEvent reports a non-fatal error rather than one that ends the
// prompt task. Send itself never emits one: a tool's execution failure is
// reported as a ToolResultEvent with IsError set.
type ErrorEvent struct {
	Message string
}

// notify delivers event to the attached Notifier, or, when none is
// attached and live output has not been suppressed, renders it straight
// to stderr. A frontend driving Agent.Send directly (no runtime actor in
// front of it) gets this as its only output path.
func (a *Agent) notify(event any) {
	a.logEvent(event)
	if a.notifier != nil {
		a.notifier.Send(event)
		return
	}
	if a.suppressLiveOutput {
		return
	}
	renderEventToStderr(event)
}

// logEvent writes the subset of events worth a structured log line — task
// failures, non-fatal errors and warnings — through the Agent's configured Logger. A
// nil Logger (the default) makes this a no-op.
func (a *Agent) logEvent(event any) {
	if a.logger == nil {
		return
	}
	switch e := event.(type) {
	case TaskFailedEvent:
		a.logger.Error().Str("error", e.Error).Msg("task failed")
	case ErrorEvent:
		a.logger.Error().Str("error", e.Message).Msg("agent error")
	case WarningEvent:
		a.logger.Warn().Msg(e.Message)
	}
}

// renderEventToStderr is the direct-render fallback for Send calls with
// neither a Notifier nor suppression configured.
func renderEventToStderr(event any) {
	switch e := event.(type) {
	case TaskFailedEvent:
		fmt.Fprintf(os.Stderr, "task failed: %s\n", e.Error)
	case ModelMessageFinalEvent:
		fmt.Fprintf(os.Stderr, "%s\n", e.Content)
	case ToolCallRequestedEvent:
		fmt.Fprintf(os.Stderr, "-> %s %s\n", e.Name, e.Arguments)
	case ToolResultEvent:
		status := "ok"
		if e.IsError {
			status = "error"
		}
		fmt.Fprintf(os.Stderr, "<- %s (%s) %s\n", e.Name, status, e.Result)
	case WarningEvent:
		fmt.Fprintf(os.Stderr, "warning: %s\n", e.Message)
	case ErrorEvent:
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
	}
}
