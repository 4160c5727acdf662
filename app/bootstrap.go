package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"buddy/agent"
	"buddy/api"
	"buddy/config"
	"buddy/runtime"
	"buddy/tools"
)

const (
	requestTimeout  = 120 * time.Second
	sessionsDirName = "buddy/sessions"
)

// Application holds every wired dependency for one interactive run and
// drives it to completion.
type Application struct {
	Config         config.Config
	Agent          *agent.Agent
	Handle         *runtime.Handle
	Events         runtime.EventStream
	Metrics        *runtimeMetrics
	metricsAddr    string
	stopMetrics    func()
	sessionToStart runtime.RuntimeCommand
}

// RunOptions are the CLI-level knobs the run/session commands translate
// into Bootstrap's wiring.
type RunOptions struct {
	ConfigPath  string
	ResumeLast  bool
	ResumeID    string
	MetricsAddr string
	Verbose     bool
}

// Bootstrap resolves configuration, wires the protocol client, agent loop,
// shell tool, approval broker, and spawns the runtime actor. Each phase is
// a separate function so tests can exercise them independently.
func Bootstrap(ctx context.Context, opts RunOptions) (*Application, error) {
	logger := newLogger(opts.Verbose)

	cfg, warnings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	client := api.New(api.Config{
		BaseURL:  cfg.API.BaseURL,
		APIKey:   cfg.API.APIKey,
		Protocol: api.Protocol(cfg.API.Protocol),
		Profile:  cfg.API.Model,
		Logger:   &logger,
	}, requestTimeout)

	broker := tools.NewApprovalBroker()
	registry := buildToolRegistry(cfg.Tools, broker)

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful coding assistant with access to tools."
	}
	maxIterations := cfg.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 20
	}
	contextLimit := cfg.API.ContextLimit
	if contextLimit == 0 {
		contextLimit = 128_000
	}

	ag := agent.New(agent.Config{
		Client:           client,
		Model:            cfg.API.Model,
		Temperature:      cfg.Agent.Temperature,
		TopP:             cfg.Agent.TopP,
		MaxIterations:    maxIterations,
		BaseSystemPrompt: systemPrompt,
		ContextLimit:     contextLimit,
		Tools:            registry.definitions(),
		Executor:         registry,
		Logger:           &logger,
	})

	sessionsDir, err := resolveSessionsDir()
	if err != nil {
		return nil, fmt.Errorf("resolving sessions dir: %w", err)
	}
	store, err := runtime.NewFileSessionStore(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	handle, events := runtime.Spawn(runtime.SpawnConfig{
		Agent:        ag,
		SessionStore: store,
		Approvals:    broker.Requests(),
		Logger:       &logger,
	})

	metrics := newRuntimeMetrics()
	var stopMetrics func()
	if opts.MetricsAddr != "" {
		stopMetrics = serveMetrics(opts.MetricsAddr, logger)
	} else {
		stopMetrics = func() {}
	}

	var startCmd runtime.RuntimeCommand = runtime.SessionNewCommand{}
	switch {
	case opts.ResumeID != "":
		startCmd = runtime.SessionResumeCommand{SessionID: opts.ResumeID}
	case opts.ResumeLast:
		startCmd = runtime.SessionResumeLastCommand{}
	}

	return &Application{
		Config:         cfg,
		Agent:          ag,
		Handle:         handle,
		Events:         events,
		Metrics:        metrics,
		metricsAddr:    opts.MetricsAddr,
		stopMetrics:    stopMetrics,
		sessionToStart: startCmd,
	}, nil
}

// resolveSessionsDir returns (creating if needed) the directory sessions
// are persisted under, rooted at $XDG_STATE_HOME or ~/.local/state.
func resolveSessionsDir() (string, error) {
	root := os.Getenv("XDG_STATE_HOME")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		root = home + "/.local/state"
	}
	dir := root + "/" + sessionsDirName
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Run starts the chosen session command and blocks on the REPL until the
// user quits or the runtime actor's event stream closes.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.stopMetrics()

	if err := a.Handle.Send(ctx, a.sessionToStart); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	return runREPL(ctx, a.Handle, a.Events, a.Metrics)
}
