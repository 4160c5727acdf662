package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"buddy/runtime"
)

var (
	styleUser      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styleTool      = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("178"))
	styleWarning   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleError     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleStatus    = lipgloss.NewStyle().Faint(true)
)

// runtimeEventMsg wraps one sequenced event so bubbletea can route it
// through Update like any other message.
type runtimeEventMsg struct {
	envelope runtime.RuntimeEventEnvelope
	ok       bool
}

// replModel is the bubbletea model driving an interactive session against
// a spawned runtime actor: a text input for prompts and a scrolling feed of
// rendered runtime events.
type replModel struct {
	ctx               context.Context
	handle            *runtime.Handle
	events            runtime.EventStream
	metrics           *runtimeMetrics
	input             textinput.Model
	lines             []string
	taskBusy          bool
	quitting          bool
	render            *glamour.TermRenderer
	pendingApprovalID string
}

func newReplModel(ctx context.Context, handle *runtime.Handle, events runtime.EventStream, metrics *runtimeMetrics) replModel {
	in := textinput.New()
	in.Placeholder = "ask something, or /new /resume /compact /quit"
	in.Focus()
	in.CharLimit = 0

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())

	return replModel{
		ctx:     ctx,
		handle:  handle,
		events:  events,
		metrics: metrics,
		input:   in,
		render:  renderer,
	}
}

func (m replModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m replModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		envelope, ok := <-m.events
		return runtimeEventMsg{envelope: envelope, ok: ok}
	}
}

func (m replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			_ = m.handle.Send(m.ctx, runtime.ShutdownCommand{})
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	case runtimeEventMsg:
		if !msg.ok {
			m.quitting = true
			return m, tea.Quit
		}
		m.metrics.observe(msg.envelope.Event)
		m.appendEvent(msg.envelope.Event)
		return m, m.waitForEvent()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m replModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if text == "" {
		return m, nil
	}

	if m.pendingApprovalID != "" {
		decision := runtime.ApprovalDeny
		if text == "y" || text == "yes" {
			decision = runtime.ApprovalApprove
		}
		id := m.pendingApprovalID
		m.pendingApprovalID = ""
		_ = m.handle.Send(m.ctx, runtime.ApproveCommand{ApprovalID: id, Decision: decision})
		return m, nil
	}

	switch text {
	case "/quit", "/exit":
		m.quitting = true
		_ = m.handle.Send(m.ctx, runtime.ShutdownCommand{})
		return m, tea.Quit
	case "/new":
		_ = m.handle.Send(m.ctx, runtime.SessionNewCommand{})
		return m, nil
	case "/resume":
		_ = m.handle.Send(m.ctx, runtime.SessionResumeLastCommand{})
		return m, nil
	case "/compact":
		_ = m.handle.Send(m.ctx, runtime.SessionCompactCommand{})
		return m, nil
	}

	if m.taskBusy {
		m.lines = append(m.lines, styleWarning.Render("a prompt is already running; wait or /quit"))
		return m, nil
	}

	m.lines = append(m.lines, styleUser.Render("> "+text))
	m.taskBusy = true
	if err := m.handle.Send(m.ctx, runtime.SubmitPromptCommand{Prompt: text}); err != nil {
		m.lines = append(m.lines, styleError.Render("send failed: "+err.Error()))
	}
	return m, nil
}

func (m *replModel) appendEvent(event runtime.RuntimeEvent) {
	switch e := event.(type) {
	case runtime.TaskStartedEvent:
		// no output; the user's own "> " echo already announced the prompt.
	case runtime.ModelReasoningDeltaEvent:
		m.lines = append(m.lines, styleTool.Render(fmt.Sprintf("[%s] %s", e.Field, truncateLine(e.Delta, 160))))
	case runtime.ModelMessageFinalEvent:
		body := e.Content
		if m.render != nil {
			if rendered, err := m.render.Render(body); err == nil {
				body = strings.TrimRight(rendered, "\n")
			}
		}
		m.lines = append(m.lines, styleAssistant.Render(body))
	case runtime.TaskCompletedEvent:
		m.taskBusy = false
	case runtime.TaskFailedEvent:
		m.taskBusy = false
		m.lines = append(m.lines, styleError.Render("task failed: "+e.Message))
	case runtime.ToolCallRequestedEvent:
		m.lines = append(m.lines, styleTool.Render(fmt.Sprintf("→ %s %s", e.Name, truncateLine(e.ArgumentsJSON, 100))))
	case runtime.ToolResultEvent:
		status := "ok"
		if e.IsError {
			status = "error"
		}
		m.lines = append(m.lines, styleTool.Render(fmt.Sprintf("← %s (%s) %s", e.Name, status, truncateLine(e.Result, 100))))
	case runtime.TaskWaitingApprovalEvent:
		m.pendingApprovalID = e.ApprovalID
		m.lines = append(m.lines, styleWarning.Render(fmt.Sprintf("approve? [%s risk=%s]: %s (%s) — reply y/N", e.ApprovalID, e.Risk, e.Command, e.Why)))
	case runtime.WarningEvent:
		m.lines = append(m.lines, styleWarning.Render("warning: "+e.Message))
	case runtime.ErrorEvent:
		m.lines = append(m.lines, styleError.Render("error: "+e.Message))
	case runtime.SessionCreatedEvent:
		m.lines = append(m.lines, styleStatus.Render("session created: "+e.SessionID))
	case runtime.SessionResumedEvent:
		m.lines = append(m.lines, styleStatus.Render("session resumed: "+e.SessionID))
	case runtime.SessionCompactedEvent:
		m.lines = append(m.lines, styleStatus.Render("session compacted"))
	case runtime.SessionSavedEvent:
		m.lines = append(m.lines, styleStatus.Render("session saved: "+e.SessionID))
	case runtime.TaskCancellingEvent:
		m.lines = append(m.lines, styleWarning.Render("cancelling…"))
	default:
		// RuntimeStarted/Stopped, ConfigLoaded, TaskQueued, ModelProfileSwitched,
		// ModelRequestStarted, MetricsTokenUsage, and MetricsContextUsage carry
		// nothing a user needs mid-task, so the feed adds no line for them.
	}
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\r", "")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func (m replModel) View() string {
	var b strings.Builder
	start := 0
	if len(m.lines) > 200 {
		start = len(m.lines) - 200
	}
	for _, line := range m.lines[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if !m.quitting {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	return b.String()
}

// runREPL blocks until the user quits or the runtime's event stream
// closes, driving the bubbletea program on the primary screen buffer so
// scrollback survives in the host terminal (matching the teacher's choice
// not to use the alternate screen).
func runREPL(ctx context.Context, handle *runtime.Handle, events runtime.EventStream, metrics *runtimeMetrics) error {
	model := newReplModel(ctx, handle, events, metrics)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}
