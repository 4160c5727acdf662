package app

import (
	"context"
	"fmt"

	"buddy/config"
	"buddy/tools"
	"buddy/types"
)

// tool is the minimal shape every concrete tool implementation satisfies;
// toolRegistry dispatches against it without caring which concrete tool it
// is holding.
type tool interface {
	Name() string
	Definition() types.ToolDefinition
	Execute(ctx context.Context, argumentsJSON string) (string, error)
}

// toolRegistry implements agent.ToolExecutor by name-dispatching to
// whichever concrete tools the run was configured with.
type toolRegistry struct {
	byName map[string]tool
	order  []string
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{byName: make(map[string]tool)}
}

func (r *toolRegistry) register(t tool) {
	name := t.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
}

func (r *toolRegistry) HasTool(name string) bool {
	_, ok := r.byName[name]
	return ok
}

func (r *toolRegistry) Execute(ctx context.Context, name string, argumentsJSON string) (string, error) {
	t, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("no tool registered under name %q", name)
	}
	return t.Execute(ctx, argumentsJSON)
}

func (r *toolRegistry) definitions() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Definition())
	}
	return defs
}

// buildToolRegistry wires every tool enabled in cfg.Tools against a shared
// approval broker. Only run_shell has a concrete implementation today;
// Fetch/Files/Search remain config-only switches until those tools exist.
func buildToolRegistry(cfg config.ToolsConfig, broker *tools.ApprovalBroker) *toolRegistry {
	registry := newToolRegistry()
	if cfg.ShellEnabled {
		registry.register(&tools.ShellTool{
			Confirm:  cfg.ShellConfirm,
			Approval: broker,
		})
	}
	return registry
}
