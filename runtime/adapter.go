package runtime

import "buddy/agent"

// taskNotifier implements agent.Notifier, restamping every agent-local
// event with the runtime task id that owns it and forwarding the mapped
// runtime event onto the actor's buffered agent-event channel.
type taskNotifier struct {
	taskID  uint64
	eventCh chan<- RuntimeEventEnvelope
}

func (n *taskNotifier) Send(event any) {
	mapped, ok := mapAgentEvent(n.taskID, event)
	if !ok {
		return
	}
	n.eventCh <- RuntimeEventEnvelope{Event: mapped}
}

// mapAgentEvent translates one agent-package event into its runtime-level
// counterpart, stamping in the task reference the agent event itself has
// no notion of.
func mapAgentEvent(taskID uint64, event any) (RuntimeEvent, bool) {
	task := TaskRef{TaskID: taskID}

	switch e := event.(type) {
	case agent.TaskStartedEvent:
		return TaskStartedEvent{Task: task}, true
	case agent.TaskCompletedEvent:
		return TaskCompletedEvent{Task: task}, true
	case agent.TaskFailedEvent:
		return TaskFailedEvent{Task: task, Message: e.Error}, true
	case agent.ModelRequestStartedEvent:
		return ModelRequestStartedEvent{Task: task, Iteration: e.Iteration}, true
	case agent.ModelReasoningDeltaEvent:
		return ModelReasoningDeltaEvent{Task: task, Field: e.Field, Delta: e.Text}, true
	case agent.ModelMessageFinalEvent:
		return ModelMessageFinalEvent{Task: task, Content: e.Content}, true
	case agent.ToolCallRequestedEvent:
		return ToolCallRequestedEvent{
			Task: task, ToolCallID: e.ToolCallID, Name: e.Name, ArgumentsJSON: e.Arguments,
		}, true
	case agent.ToolResultEvent:
		return ToolResultEvent{
			Task: task, ToolCallID: e.ToolCallID, Name: e.Name, Result: e.Result, IsError: e.IsError,
		}, true
	case agent.MetricsContextUsageEvent:
		return MetricsContextUsageEvent{Task: task, Fraction: e.Fraction}, true
	case agent.MetricsTokenUsageEvent:
		return MetricsTokenUsageEvent{
			Task: task, PromptTokens: e.PromptTokens, CompletionTokens: e.CompletionTokens,
		}, true
	case agent.WarningEvent:
		return WarningEvent{Task: &task, Message: e.Message}, true
	case agent.ErrorEvent:
		return ErrorEvent{Task: &task, Message: e.Message}, true
	default:
		return nil, false
	}
}
