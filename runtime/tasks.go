package runtime

import (
	"context"

	"buddy/agent"
)

// activeTask is the runtime-owned bookkeeping for the one prompt task that
// may be running at a time.
type activeTask struct {
	taskID uint64
	cancel context.CancelFunc
}

// taskDone is the completion notification a spawned prompt task sends back
// to the actor loop once agent.Send returns.
type taskDone struct {
	taskID uint64
	result string
	err    error
}

// spawnPromptTask runs one prompt through the shared agent on a background
// goroutine. It points the agent's notifier at a task-stamping adapter for
// the duration of the call and restores it afterward, then reports
// completion on doneCh.
func spawnPromptTask(
	ag *agent.Agent,
	taskID uint64,
	prompt string,
	eventCh chan<- RuntimeEventEnvelope,
	doneCh chan<- taskDone,
) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ag.ResetCancel()
		ag.SetNotifier(&taskNotifier{taskID: taskID, eventCh: eventCh})
		ag.SetSuppressLiveOutput(true)
		result, err := ag.Send(ctx, prompt)
		ag.SetNotifier(nil)
		ag.SetSuppressLiveOutput(false)
		doneCh <- taskDone{taskID: taskID, result: result, err: err}
	}()

	return cancel
}
