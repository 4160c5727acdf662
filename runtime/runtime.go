package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"buddy/agent"
	"buddy/tools"
)

// manualCompactTargetFraction is the target context-usage fraction for an
// operator-invoked SessionCompact, deliberately lower than the
// auto-compaction path's target inside the agent loop since a manual
// compact is meant to buy substantial headroom, not just duck under the
// hard limit.
const manualCompactTargetFraction = 0.60

// ErrTaskAlreadyRunning is returned (via an Error event, not a Go error
// return) when SubmitPrompt arrives while a prompt task is already active.
var ErrTaskAlreadyRunning = errors.New("runtime: a prompt task is already running")

// commandQueueCapacity bounds the actor's inbound command channel, a
// generous depth above which a full queue indicates the actor has
// stopped consuming rather than genuine backpressure.
const commandQueueCapacity = 64

// eventQueueCapacity similarly bounds the outbound event channel.
const eventQueueCapacity = 256

// shutdownGracePeriod bounds how long Shutdown waits for an active prompt
// task to unwind after cancellation before giving up and closing the
// event stream anyway.
const shutdownGracePeriod = 3 * time.Second

// Handle lets a frontend send commands to a spawned runtime actor.
type Handle struct {
	commands chan<- RuntimeCommand
}

// Send enqueues one command, blocking only until the actor's queue has
// room or ctx is cancelled.
func (h *Handle) Send(ctx context.Context, command RuntimeCommand) error {
	select {
	case h.commands <- command:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventStream is the receive side of a spawned actor's sequenced event
// feed.
type EventStream <-chan RuntimeEventEnvelope

// SpawnConfig bundles the dependencies one runtime actor is wired against.
type SpawnConfig struct {
	Agent         *agent.Agent
	SessionStore  SessionStore
	ActiveSession string
	// Approvals, when non-nil, is the receive side of a tools.ApprovalBroker
	// feeding shell-approval requests into this actor.
	Approvals <-chan tools.ApprovalRequest
	// Logger, when non-nil, receives a structured log line for actor-level
	// conditions not already visible on the typed event stream (currently
	// just a shutdown grace-period timeout).
	Logger *zerolog.Logger
}

// runtimeActor owns all mutable runtime-level state; only the actor's own
// goroutine (run) ever touches these fields.
type runtimeActor struct {
	agent         *agent.Agent
	sessionStore  SessionStore
	activeSession string
	logger        *zerolog.Logger

	seq              uint64
	nextTaskID       uint64
	active           *activeTask
	approvalPolicy   RuntimeApprovalPolicy
	pendingApprovals map[string]pendingApproval
	approvalNonce    uint64
	failedTasks      map[uint64]struct{}

	agentEvents chan RuntimeEventEnvelope
	taskDone    chan taskDone
	eventOut    chan RuntimeEventEnvelope
}

// Spawn starts a runtime actor as a background goroutine and returns a
// handle to send it commands plus the channel it publishes events on.
func Spawn(config SpawnConfig) (*Handle, EventStream) {
	commands := make(chan RuntimeCommand, commandQueueCapacity)
	rt := &runtimeActor{
		agent:            config.Agent,
		sessionStore:     config.SessionStore,
		activeSession:    config.ActiveSession,
		logger:           config.Logger,
		approvalPolicy:   RuntimeApprovalPolicy{Mode: ApprovalPolicyAsk},
		pendingApprovals: make(map[string]pendingApproval),
		failedTasks:      make(map[uint64]struct{}),
		nextTaskID:       1,
		agentEvents:      make(chan RuntimeEventEnvelope, eventQueueCapacity),
		taskDone:         make(chan taskDone, 1),
		eventOut:         make(chan RuntimeEventEnvelope, eventQueueCapacity),
	}
	go rt.run(commands, config.Approvals)
	return &Handle{commands: commands}, rt.eventOut
}

func (rt *runtimeActor) run(commands <-chan RuntimeCommand, approvals <-chan tools.ApprovalRequest) {
	defer close(rt.eventOut)

	rt.emit(RuntimeStartedEvent{})
	rt.emit(ConfigLoadedEvent{})

	for {
		select {
		case command, ok := <-commands:
			if !ok {
				return
			}
			if rt.handleCommand(command) {
				rt.emit(RuntimeStoppedEvent{})
				return
			}

		case envelope := <-rt.agentEvents:
			if failed, ok := envelope.Event.(TaskFailedEvent); ok {
				if _, seen := rt.failedTasks[failed.Task.TaskID]; seen {
					continue
				}
				rt.failedTasks[failed.Task.TaskID] = struct{}{}
			}
			rt.emit(envelope.Event)

		case done := <-rt.taskDone:
			if rt.active != nil && rt.active.taskID == done.taskID {
				rt.active = nil
			}
			denyPendingApprovalsForTask(done.taskID, rt.pendingApprovals)
			rt.persistActiveSessionSnapshot()

			if done.err != nil {
				if _, seen := rt.failedTasks[done.taskID]; !seen {
					rt.failedTasks[done.taskID] = struct{}{}
					rt.emit(TaskFailedEvent{Task: TaskRef{TaskID: done.taskID}, Message: done.err.Error()})
				}
			}

		case request, ok := <-approvals:
			if !ok {
				approvals = nil
				continue
			}
			rt.handleApprovalRequest(request)
		}
	}
}

// handleCommand applies one command to actor state and returns true when
// the actor should stop after this command (Shutdown).
func (rt *runtimeActor) handleCommand(command RuntimeCommand) bool {
	switch c := command.(type) {
	case SubmitPromptCommand:
		if rt.active != nil {
			rt.emit(ErrorEvent{Message: ErrTaskAlreadyRunning.Error()})
			return false
		}
		taskID := rt.nextTaskID
		rt.nextTaskID++
		rt.emit(TaskQueuedEvent{
			Task:    TaskRef{TaskID: taskID},
			Kind:    "prompt",
			Details: truncatePreview(c.Prompt, 80),
		})
		cancel := spawnPromptTask(rt.agent, taskID, c.Prompt, rt.agentEvents, rt.taskDone)
		rt.active = &activeTask{taskID: taskID, cancel: cancel}

	case CancelTaskCommand:
		if rt.active == nil {
			rt.emit(ErrorEvent{
				Task:    &TaskRef{TaskID: c.TaskID},
				Message: fmt.Sprintf("no running task with id #%d", c.TaskID),
			})
			return false
		}
		if rt.active.taskID != c.TaskID {
			rt.emit(ErrorEvent{
				Task:    &TaskRef{TaskID: c.TaskID},
				Message: fmt.Sprintf("task #%d is not active", c.TaskID),
			})
			return false
		}
		denyPendingApprovalsForTask(c.TaskID, rt.pendingApprovals)
		rt.active.cancel()
		rt.emit(TaskCancellingEvent{Task: TaskRef{TaskID: c.TaskID}})

	case SetApprovalPolicyCommand:
		rt.approvalPolicy = c.Policy
		if decision, ok := activeApprovalDecision(&rt.approvalPolicy); ok {
			for id, pending := range rt.pendingApprovals {
				delete(rt.pendingApprovals, id)
				rt.resolvePendingApproval(pending, decision)
			}
		}
		rt.emit(WarningEvent{Message: "approval policy updated"})

	case SwitchModelCommand:
		if rt.active != nil {
			rt.emit(ErrorEvent{Message: "cannot switch model while a task is running"})
			return false
		}
		rt.agent.SwitchModel(c.Profile)
		rt.emit(ModelProfileSwitchedEvent{Profile: c.Profile, Model: c.Profile})

	case SessionNewCommand:
		if err := rt.sessionNew(); err != nil {
			rt.emit(ErrorEvent{Message: err.Error()})
		}

	case SessionResumeCommand:
		if err := rt.sessionResume(c.SessionID); err != nil {
			rt.emit(ErrorEvent{Message: err.Error()})
		}

	case SessionResumeLastCommand:
		if rt.sessionStore == nil {
			rt.emit(ErrorEvent{Message: "session store is unavailable"})
			return false
		}
		last, ok, err := rt.sessionStore.ResolveLast()
		switch {
		case err != nil:
			rt.emit(ErrorEvent{Message: fmt.Sprintf("failed to resolve last session: %v", err)})
		case !ok:
			rt.emit(ErrorEvent{Message: "no saved sessions found"})
		default:
			if err := rt.sessionResume(last); err != nil {
				rt.emit(ErrorEvent{Message: err.Error()})
			}
		}

	case SessionCompactCommand:
		if err := rt.sessionCompact(); err != nil {
			rt.emit(ErrorEvent{Message: err.Error()})
		}

	case ApproveCommand:
		pending, ok := rt.pendingApprovals[c.ApprovalID]
		if !ok {
			rt.emit(ErrorEvent{Message: fmt.Sprintf("unknown approval id `%s`", c.ApprovalID)})
			return false
		}
		delete(rt.pendingApprovals, c.ApprovalID)
		rt.resolvePendingApproval(pending, c.Decision)

	case ShutdownCommand:
		for id, pending := range rt.pendingApprovals {
			delete(rt.pendingApprovals, id)
			pending.request.Deny()
		}
		if rt.active != nil {
			rt.active.cancel()
			rt.awaitActiveShutdown()
		}
		return true
	}
	return false
}

// awaitActiveShutdown blocks until the cancelled in-flight prompt task
// reports back on rt.taskDone, or shutdownGracePeriod elapses, whichever
// comes first — so a wedged tool call can never hang process exit
// indefinitely. While waiting it keeps forwarding the task's remaining
// agentEvents the same way the main run loop would, so a final
// Task.Completed/Task.Failed emitted just before exit still reaches the
// stream instead of stranding in the buffered channel.
func (rt *runtimeActor) awaitActiveShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case envelope := <-rt.agentEvents:
				if failed, ok := envelope.Event.(TaskFailedEvent); ok {
					if _, seen := rt.failedTasks[failed.Task.TaskID]; seen {
						continue
					}
					rt.failedTasks[failed.Task.TaskID] = struct{}{}
				}
				rt.emit(envelope.Event)

			case done := <-rt.taskDone:
				if rt.active != nil && rt.active.taskID == done.taskID {
					rt.active = nil
				}
				denyPendingApprovalsForTask(done.taskID, rt.pendingApprovals)
				if done.err != nil {
					if _, seen := rt.failedTasks[done.taskID]; !seen {
						rt.failedTasks[done.taskID] = struct{}{}
						rt.emit(TaskFailedEvent{Task: TaskRef{TaskID: done.taskID}, Message: done.err.Error()})
					}
				}
				return nil

			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		rt.emit(WarningEvent{Message: "shutdown proceeding before the active task fully unwound"})
		if rt.logger != nil {
			rt.logger.Warn().Err(err).Msg("shutdown grace period elapsed before active task reported done")
		}
	}
}

// emit stamps event with the next sequence number and capture time, then
// publishes it.
func (rt *runtimeActor) emit(event RuntimeEvent) {
	envelope := RuntimeEventEnvelope{
		Seq:      rt.seq,
		TsUnixMs: uint64(time.Now().UnixMilli()),
		Event:    event,
	}
	if rt.seq != ^uint64(0) {
		rt.seq++
	}
	rt.eventOut <- envelope
}

