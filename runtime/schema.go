// Package runtime hosts the streaming actor that sits between a frontend
// and an agent.Agent: a single-writer goroutine that serializes commands
// (submit a prompt, approve a command, cancel a task, switch models,
// manage sessions) against one sequenced event stream.
package runtime

import (
	"buddy/api"
)

// TaskRef identifies the runtime task a command or event is attached to.
type TaskRef struct {
	TaskID    uint64
	SessionID string
	Iteration uint32
}

// PromptMetadata is optional caller-supplied context attached to a
// submitted prompt, carried through to task events for correlation.
type PromptMetadata struct {
	Source        string
	CorrelationID string
}

// ApprovalDecision resolves one pending shell-approval request.
type ApprovalDecision int

const (
	ApprovalApprove ApprovalDecision = iota
	ApprovalDeny
)

// RuntimeApprovalPolicy governs how the actor resolves shell-approval
// requests that arrive while a task is running.
type RuntimeApprovalPolicy struct {
	Mode ApprovalPolicyMode
	// ExpiresAtUnixMs is only meaningful when Mode is ApprovalPolicyUntil:
	// the policy behaves as ApprovalPolicyAll until this wall-clock time,
	// then self-resets to ApprovalPolicyAsk on the next check.
	ExpiresAtUnixMs uint64
	// AutoApproveGlobs lists doublestar patterns (e.g. "git status*",
	// "ls -la") matched against the literal shell command. A match bypasses
	// interactive approval regardless of Mode; it never applies under
	// ApprovalPolicyNone, which always denies.
	AutoApproveGlobs []string
}

// ApprovalPolicyMode selects one of the four approval-policy shapes.
type ApprovalPolicyMode int

const (
	ApprovalPolicyAsk ApprovalPolicyMode = iota
	ApprovalPolicyAll
	ApprovalPolicyNone
	ApprovalPolicyUntil
)

// RuntimeCommand is the sealed set of frontend-originated requests a
// runtime actor accepts. Each concrete type below implements it.
type RuntimeCommand interface {
	isRuntimeCommand()
}

type SubmitPromptCommand struct {
	Prompt   string
	Metadata PromptMetadata
}

type ApproveCommand struct {
	ApprovalID string
	Decision   ApprovalDecision
}

type CancelTaskCommand struct {
	TaskID uint64
}

type SetApprovalPolicyCommand struct {
	Policy RuntimeApprovalPolicy
}

type SwitchModelCommand struct {
	Profile string
}

type SessionNewCommand struct{}

type SessionResumeCommand struct {
	SessionID string
}

type SessionResumeLastCommand struct{}

type SessionCompactCommand struct{}

type ShutdownCommand struct{}

func (SubmitPromptCommand) isRuntimeCommand()     {}
func (ApproveCommand) isRuntimeCommand()          {}
func (CancelTaskCommand) isRuntimeCommand()       {}
func (SetApprovalPolicyCommand) isRuntimeCommand() {}
func (SwitchModelCommand) isRuntimeCommand()      {}
func (SessionNewCommand) isRuntimeCommand()       {}
func (SessionResumeCommand) isRuntimeCommand()    {}
func (SessionResumeLastCommand) isRuntimeCommand() {}
func (SessionCompactCommand) isRuntimeCommand()   {}
func (ShutdownCommand) isRuntimeCommand()         {}

// RuntimeEvent is the sealed set of events a runtime actor emits. Each
// concrete type below implements it; RuntimeEventEnvelope stamps every
// event with a monotonic sequence number and a capture timestamp.
type RuntimeEvent interface {
	isRuntimeEvent()
}

// RuntimeEventEnvelope wraps one emitted event with delivery metadata.
type RuntimeEventEnvelope struct {
	Seq      uint64
	TsUnixMs uint64
	Event    RuntimeEvent
}

// Lifecycle events.
type RuntimeStartedEvent struct{}
type RuntimeStoppedEvent struct{}
type ConfigLoadedEvent struct{}

func (RuntimeStartedEvent) isRuntimeEvent() {}
func (RuntimeStoppedEvent) isRuntimeEvent() {}
func (ConfigLoadedEvent) isRuntimeEvent()   {}

// Session events.
type SessionCreatedEvent struct{ SessionID string }
type SessionResumedEvent struct{ SessionID string }
type SessionSavedEvent struct{ SessionID string }
type SessionCompactedEvent struct{ SessionID string }

func (SessionCreatedEvent) isRuntimeEvent()   {}
func (SessionResumedEvent) isRuntimeEvent()   {}
func (SessionSavedEvent) isRuntimeEvent()     {}
func (SessionCompactedEvent) isRuntimeEvent() {}

// Task events.
type TaskQueuedEvent struct {
	Task    TaskRef
	Kind    string
	Details string
}

type TaskStartedEvent struct{ Task TaskRef }

type TaskWaitingApprovalEvent struct {
	Task       TaskRef
	ApprovalID string
	Command    string
	Risk       string
	Mutation   bool
	Privesc    bool
	Why        string
}

type TaskCancellingEvent struct{ Task TaskRef }
type TaskCompletedEvent struct{ Task TaskRef }
type TaskFailedEvent struct {
	Task    TaskRef
	Message string
}

func (TaskQueuedEvent) isRuntimeEvent()           {}
func (TaskStartedEvent) isRuntimeEvent()          {}
func (TaskWaitingApprovalEvent) isRuntimeEvent()  {}
func (TaskCancellingEvent) isRuntimeEvent()       {}
func (TaskCompletedEvent) isRuntimeEvent()        {}
func (TaskFailedEvent) isRuntimeEvent()           {}

// Model events.
type ModelProfileSwitchedEvent struct {
	Profile  string
	Model    string
	BaseURL  string
	Protocol api.Protocol
}

type ModelRequestStartedEvent struct {
	Task      TaskRef
	Iteration int
}

type ModelReasoningDeltaEvent struct {
	Task  TaskRef
	Field string
	Delta string
}

type ModelMessageFinalEvent struct {
	Task    TaskRef
	Content string
}

func (ModelProfileSwitchedEvent) isRuntimeEvent() {}
func (ModelRequestStartedEvent) isRuntimeEvent()  {}
func (ModelReasoningDeltaEvent) isRuntimeEvent()  {}
func (ModelMessageFinalEvent) isRuntimeEvent()    {}

// Tool events.
type ToolCallRequestedEvent struct {
	Task          TaskRef
	ToolCallID    string
	Name          string
	ArgumentsJSON string
}

type ToolResultEvent struct {
	Task       TaskRef
	ToolCallID string
	Name       string
	Result     string
	IsError    bool
}

func (ToolCallRequestedEvent) isRuntimeEvent() {}
func (ToolResultEvent) isRuntimeEvent()        {}

// Metrics events.
type MetricsTokenUsageEvent struct {
	Task             TaskRef
	PromptTokens     uint64
	CompletionTokens uint64
}

type MetricsContextUsageEvent struct {
	Task     TaskRef
	Fraction float64
}

func (MetricsTokenUsageEvent) isRuntimeEvent()   {}
func (MetricsContextUsageEvent) isRuntimeEvent() {}

// Advisory events.
type WarningEvent struct {
	Task    *TaskRef
	Message string
}

type ErrorEvent struct {
	Task    *TaskRef
	Message string
}

func (WarningEvent) isRuntimeEvent() {}
func (ErrorEvent) isRuntimeEvent()   {}
