package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"buddy/api"
	"buddy/tokens"
	"buddy/types"
)

const (
	contextWarnFraction       = 0.80
	contextHardLimitFraction  = 0.95
	autoCompactTargetFraction = 0.82

	defaultMaxIterations = 50

	// CancelledSentinel is returned as the loop's result text whenever a
	// prompt task ends because cancellation won the race against a
	// suspension point.
	CancelledSentinel = "operation cancelled by user"
)

// Sentinel errors ending a prompt task without a successful model reply.
var (
	ErrContextLimitExceeded = errors.New("agent: context limit exceeded even after compaction")
	ErrMaxIterationsReached = errors.New("agent: maximum tool-call iterations reached")
	ErrEmptyResponse        = errors.New("agent: provider returned zero choices")
)

// SessionSnapshot is the serializable mirror of an Agent's live state.
type SessionSnapshot struct {
	Messages []types.Message `json:"messages"`
	Tracker  tokens.Snapshot `json:"tracker"`
}

// Config bundles the construction-time parameters for a new Agent.
type Config struct {
	Client           api.ModelClient
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxIterations    int
	BaseSystemPrompt string
	ContextLimit     uint64
	Tools            []types.ToolDefinition
	Executor         ToolExecutor
	Notifier         Notifier
	// Logger, when non-nil, receives a structured log line for every task
	// failure and non-fatal error/warning the loop emits, in addition to
	// whatever event sink is configured.
	Logger *zerolog.Logger
}

// Agent drives the multi-iteration request/tool-call state machine
// against a configured provider client: context-window budgeting,
// history compaction, provider-message normalization, dynamic prompt
// augmentation, and cooperative cancellation.
type Agent struct {
	mu sync.Mutex

	client        api.ModelClient
	model         string
	temperature   *float64
	topP          *float64
	maxIterations int

	baseSystemPrompt string

	tracker  *tokens.Tracker
	messages []types.Message
	toolDefs []types.ToolDefinition
	schemas  map[string]*jsonschema.Schema
	executor ToolExecutor
	notifier Notifier
	logger   *zerolog.Logger
	// suppressLiveOutput disables notify's direct-stderr fallback even
	// when notifier is nil. The runtime actor sets this for the duration
	// of each task it drives, since its own notifier already covers event
	// delivery for that span.
	suppressLiveOutput bool

	cancel *CancelSignal
}

// New constructs an Agent. The base system prompt, if non-empty, becomes
// the initial (and, while unrefreshed, only) system message.
func New(config Config) *Agent {
	maxIterations := config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	var messages []types.Message
	if config.BaseSystemPrompt != "" {
		messages = append(messages, types.NewSystemMessage(config.BaseSystemPrompt))
	}

	return &Agent{
		client:           config.Client,
		model:            config.Model,
		temperature:      config.Temperature,
		topP:             config.TopP,
		maxIterations:    maxIterations,
		baseSystemPrompt: config.BaseSystemPrompt,
		tracker:          tokens.New(config.ContextLimit),
		messages:         messages,
		toolDefs:         config.Tools,
		schemas:          compileToolSchemas(config.Tools),
		executor:         config.Executor,
		notifier:         config.Notifier,
		logger:           config.Logger,
		cancel:           NewCancelSignal(),
	}
}

// Cancel requests cooperative cancellation of any in-flight Send call.
func (a *Agent) Cancel() {
	a.cancel.Cancel()
}

// ResetCancel replaces the agent's cancellation signal with a fresh,
// untripped one. Callers driving one Agent across multiple sequential
// prompt tasks call this before starting a new task so a previous task's
// cancellation does not leak into the next.
func (a *Agent) ResetCancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = NewCancelSignal()
}

// SetNotifier replaces the event notifier in place. Callers that drive one
// shared Agent across multiple sequential tasks (each needing its own
// destination for emitted events) call this immediately before Send and
// typically clear it again immediately after.
func (a *Agent) SetNotifier(notifier Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = notifier
}

// SetSuppressLiveOutput toggles notify's direct-stderr fallback path. The
// runtime actor enables this alongside SetNotifier for the duration of
// each task it drives, and restores it to false alongside clearing the
// notifier.
func (a *Agent) SetSuppressLiveOutput(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suppressLiveOutput = v
}

// SwitchModel replaces the target model in place without resetting
// conversation state.
func (a *Agent) SwitchModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
}

// SwitchAPIConfig replaces the provider client and context limit in place
// without resetting conversation state.
func (a *Agent) SwitchAPIConfig(client api.ModelClient, contextLimit uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = client
	a.tracker.ContextLimit = contextLimit
}

// ContextLimit returns the agent's currently configured context-window
// budget in tokens.
func (a *Agent) ContextLimit() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker.ContextLimit
}

// SnapshotSession captures the agent's current conversation and token
// tracker state for persistence.
func (a *Agent) SnapshotSession() SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	messages := make([]types.Message, len(a.messages))
	copy(messages, a.messages)
	return SessionSnapshot{Messages: messages, Tracker: a.tracker.ToSnapshot()}
}

// RestoreSession replaces the agent's conversation and tracker state from
// a previously captured snapshot.
func (a *Agent) RestoreSession(snapshot SessionSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append([]types.Message{}, snapshot.Messages...)
	a.tracker = tokens.FromSnapshot(snapshot.Tracker)
}

// ResetSession clears conversation history back to the base system prompt
// and a fresh tracker at the current context limit.
func (a *Agent) ResetSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	var messages []types.Message
	if a.baseSystemPrompt != "" {
		messages = append(messages, types.NewSystemMessage(a.baseSystemPrompt))
	}
	a.messages = messages
	a.tracker = tokens.New(a.tracker.ContextLimit)
}

// Send drives one user turn through the agent loop: it appends the user
// message, then iterates provider round trips and tool dispatches until
// the model returns a final text response, an error ends the task, or
// cancellation wins a race at a suspension point.
func (a *Agent) Send(ctx context.Context, userInput string) (string, error) {
	a.mu.Lock()
	a.messages = SanitizeConversationHistory(append(a.messages, types.NewUserMessage(userInput)))
	a.mu.Unlock()

	a.notify(TaskStartedEvent{})

	if a.cancel.Cancelled() {
		a.notify(TaskCompletedEvent{Cancelled: true})
		return CancelledSentinel, nil
	}

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		a.mu.Lock()
		a.messages = RefreshDynamicTmuxSnapshotPrompt(ctx, a.messages, a.baseSystemPrompt, a.executor)
		a.mu.Unlock()

		if err := a.enforceContextBudget(); err != nil {
			a.notify(TaskFailedEvent{Error: err.Error()})
			return "", err
		}

		a.mu.Lock()
		request := types.ChatRequest{
			Model:       a.model,
			Messages:    append([]types.Message{}, a.messages...),
			Tools:       a.toolDefs,
			Temperature: a.temperature,
			TopP:        a.topP,
		}
		fraction := a.tracker.UsageFraction(a.messages)
		client := a.client
		a.mu.Unlock()

		a.notify(MetricsContextUsageEvent{Fraction: fraction})
		a.notify(ModelRequestStartedEvent{Iteration: iteration})

		response, cancelled, err := a.dispatchRacingCancel(ctx, client, request)
		if cancelled {
			a.notify(TaskCompletedEvent{Cancelled: true})
			return CancelledSentinel, nil
		}
		if err != nil {
			a.notify(TaskFailedEvent{Error: err.Error()})
			return "", err
		}

		if response.Usage != nil {
			a.mu.Lock()
			a.tracker.Record(response.Usage.PromptTokens, response.Usage.CompletionTokens)
			a.mu.Unlock()
			a.notify(MetricsTokenUsageEvent{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
			})
		}

		choice, err := response.FirstChoice()
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrEmptyResponse, err)
			a.notify(TaskFailedEvent{Error: wrapped.Error()})
			return "", wrapped
		}

		message := SanitizeMessage(choice.Message)
		for _, trace := range ReasoningTraces(message) {
			a.notify(ModelReasoningDeltaEvent{Field: trace.Field, Text: trace.Text})
		}

		a.mu.Lock()
		if shouldKeepMessage(message) {
			a.messages = append(a.messages, message)
		}
		a.mu.Unlock()

		if len(message.ToolCalls) == 0 {
			content := ""
			if message.Content != nil {
				content = *message.Content
			}
			a.notify(ModelMessageFinalEvent{Content: content})
			a.notify(TaskCompletedEvent{})
			return content, nil
		}

		cancelledMidBatch, err := a.dispatchToolCalls(ctx, message.ToolCalls)
		if err != nil {
			a.notify(TaskFailedEvent{Error: err.Error()})
			return "", err
		}
		if cancelledMidBatch {
			a.notify(TaskCompletedEvent{Cancelled: true})
			return CancelledSentinel, nil
		}
	}

	a.notify(TaskFailedEvent{Error: ErrMaxIterationsReached.Error()})
	return "", ErrMaxIterationsReached
}

// enforceContextBudget estimates usage against the configured context
// limit, warns above the warn threshold, and attempts auto-compaction
// above the hard limit, failing if usage is still too high afterward.
func (a *Agent) enforceContextBudget() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fraction := a.tracker.UsageFraction(a.messages)
	if fraction <= contextWarnFraction {
		return nil
	}
	if fraction <= contextHardLimitFraction {
		a.notify(WarningEvent{Message: fmt.Sprintf("context usage at %.0f%% of limit", fraction*100)})
		return nil
	}

	compacted, report := CompactHistoryWithBudget(a.messages, a.tracker.ContextLimit, autoCompactTargetFraction, false)
	if report != nil {
		a.messages = compacted
		a.notify(WarningEvent{Message: fmt.Sprintf(
			"auto-compacted %d turns (%d messages): estimated usage %d -> %d tokens",
			report.RemovedTurns, report.RemovedMessages, report.EstimatedBefore, report.EstimatedAfter,
		)})
	}

	if a.tracker.UsageFraction(a.messages) > contextHardLimitFraction {
		estimated := tokens.EstimateMessages(a.messages)
		return fmt.Errorf("%w: estimated %d tokens against a %d-token limit", ErrContextLimitExceeded, estimated, a.tracker.ContextLimit)
	}
	return nil
}

// dispatchRacingCancel calls the provider client, racing the call against
// the agent's cancellation signal; a cancellation that arrives mid-request
// wins immediately.
func (a *Agent) dispatchRacingCancel(ctx context.Context, client api.ModelClient, request types.ChatRequest) (types.ChatResponse, bool, error) {
	type result struct {
		response types.ChatResponse
		err      error
	}
	done := make(chan result, 1)
	go func() {
		response, err := client.Chat(ctx, request)
		done <- result{response: response, err: err}
	}()

	select {
	case <-a.cancel.Done():
		return types.ChatResponse{}, true, nil
	case <-ctx.Done():
		return types.ChatResponse{}, true, nil
	case r := <-done:
		return r.response, false, r.err
	}
}

// dispatchToolCalls executes each tool call sequentially in declared
// order. If cancellation wins mid-batch, every remaining declared tool
// call still receives a cancelled-sentinel tool-result message so
// provider-side tool-call bookkeeping stays valid.
func (a *Agent) dispatchToolCalls(ctx context.Context, calls []types.ToolCall) (cancelled bool, err error) {
	for _, call := range calls {
		if cancelled {
			a.appendToolResult(call.ID, CancelledSentinel)
			continue
		}

		a.notify(ToolCallRequestedEvent{ToolCallID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments})

		if err := a.validateToolArguments(call); err != nil {
			resultText := fmt.Sprintf("Tool error: %s", err.Error())
			a.notify(ToolResultEvent{ToolCallID: call.ID, Name: call.Function.Name, Result: resultText, IsError: true})
			a.appendToolResult(call.ID, resultText)
			continue
		}

		resultText, toolErr, raced := a.dispatchOneToolRacingCancel(ctx, call)
		if raced {
			cancelled = true
			a.appendToolResult(call.ID, CancelledSentinel)
			a.notify(ToolResultEvent{ToolCallID: call.ID, Name: call.Function.Name, Result: CancelledSentinel, IsError: true})
			continue
		}

		isError := toolErr != nil
		if isError {
			resultText = fmt.Sprintf("Tool error: %s", toolErr.Error())
		}
		a.notify(ToolResultEvent{ToolCallID: call.ID, Name: call.Function.Name, Result: resultText, IsError: isError})
		a.appendToolResult(call.ID, resultText)
	}
	return cancelled, nil
}

func (a *Agent) dispatchOneToolRacingCancel(ctx context.Context, call types.ToolCall) (result string, toolErr error, cancelled bool) {
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		if a.executor == nil {
			done <- outcome{err: fmt.Errorf("no tool executor configured for %q", call.Function.Name)}
			return
		}
		text, err := a.executor.Execute(ctx, call.Function.Name, call.Function.Arguments)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-a.cancel.Done():
		return "", nil, true
	case <-ctx.Done():
		return "", nil, true
	case o := <-done:
		return o.text, o.err, false
	}
}

func (a *Agent) appendToolResult(toolCallID, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, types.NewToolResultMessage(toolCallID, content))
}

// validateToolArguments checks a tool call's JSON-encoded arguments against
// its registered tool's JSON Schema before dispatch, so a malformed call
// surfaces as a normal tool-result error instead of reaching the executor.
// A tool with no compiled schema (unregistered, or a schema that failed to
// compile at construction time) is passed through unchecked.
func (a *Agent) validateToolArguments(call types.ToolCall) error {
	schema, ok := a.schemas[call.Function.Name]
	if !ok {
		return nil
	}
	var instance any
	decoder := json.NewDecoder(strings.NewReader(call.Function.Arguments))
	decoder.UseNumber()
	if err := decoder.Decode(&instance); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("arguments for %s failed validation: %w", call.Function.Name, err)
	}
	return nil
}

// compileToolSchemas compiles each tool definition's JSON Schema parameters
// once at construction time. A definition whose schema fails to compile is
// skipped rather than failing agent construction; its calls simply go
// unvalidated.
func compileToolSchemas(definitions []types.ToolDefinition) map[string]*jsonschema.Schema {
	schemas := make(map[string]*jsonschema.Schema, len(definitions))
	for _, def := range definitions {
		raw, err := json.Marshal(def.Function.Parameters)
		if err != nil {
			continue
		}
		resourceName := def.Function.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
			continue
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			continue
		}
		schemas[def.Function.Name] = schema
	}
	return schemas
}
