package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration values for a buddy run.
type Config struct {
	API     ApiConfig     `toml:"api"`
	Agent   AgentConfig   `toml:"agent"`
	Tools   ToolsConfig   `toml:"tools"`
	Display DisplayConfig `toml:"display"`
}

// ApiConfig holds the provider connection settings.
type ApiConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	APIKeyEnv    string `toml:"api_key_env"`
	APIKeyFile   string `toml:"api_key_file"`
	Model        string `toml:"model"`
	Protocol     string `toml:"protocol"` // "completions" or "responses"
	ContextLimit uint64 `toml:"context_limit"`
}

// AgentConfig holds agent-loop behavior settings.
type AgentConfig struct {
	SystemPrompt  string   `toml:"system_prompt"`
	MaxIterations int      `toml:"max_iterations"`
	Temperature   *float64 `toml:"temperature"`
	TopP          *float64 `toml:"top_p"`
}

// ToolsConfig controls which built-in tools are wired up.
type ToolsConfig struct {
	ShellEnabled  bool `toml:"shell_enabled"`
	FetchEnabled  bool `toml:"fetch_enabled"`
	FilesEnabled  bool `toml:"files_enabled"`
	SearchEnabled bool `toml:"search_enabled"`
	ShellConfirm  bool `toml:"shell_confirm"`
}

// DisplayConfig controls REPL rendering preferences.
type DisplayConfig struct {
	Color         bool `toml:"color"`
	ShowTokens    bool `toml:"show_tokens"`
	ShowToolCalls bool `toml:"show_tool_calls"`
}

// DefaultConfig returns a Config with all built-in defaults populated.
func DefaultConfig() Config {
	return Config{
		API: ApiConfig{
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-5.2-codex",
			Protocol: "completions",
		},
		Agent: AgentConfig{
			MaxIterations: 20,
		},
		Tools: ToolsConfig{
			ShellEnabled:  true,
			FetchEnabled:  true,
			FilesEnabled:  true,
			SearchEnabled: true,
			ShellConfirm:  true,
		},
		Display: DisplayConfig{
			Color:         true,
			ShowToolCalls: true,
		},
	}
}

// configSearchPaths returns the ordered list of candidate config files to
// try, highest-precedence first: an explicit --config path override, then
// ./buddy.toml, then the legacy ./agent.toml, then the XDG global config
// (and its legacy ~/.config/agent/agent.toml sibling).
func configSearchPaths(pathOverride string) []string {
	if pathOverride != "" {
		return []string{pathOverride}
	}
	paths := []string{"buddy.toml", "agent.toml"}
	if dir := configRootDir(); dir != "" {
		paths = append(paths,
			filepath.Join(dir, "buddy", "buddy.toml"),
			filepath.Join(dir, "agent", "agent.toml"),
		)
	}
	return paths
}

// configRootDir resolves $XDG_CONFIG_HOME, falling back to ~/.config.
func configRootDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// Load resolves configuration from the first matching file in
// configSearchPaths, then applies BUDDY_*/AGENT_* environment overrides on
// top. pathOverride is the --config flag value, or "" when unset. Warnings
// name unrecognized TOML keys (likely typos), never failing the load.
func Load(pathOverride string) (Config, []string, error) {
	cfg := DefaultConfig()

	var warnings []string
	if pathOverride != "" {
		data, err := os.ReadFile(pathOverride)
		if err != nil {
			return Config{}, nil, fmt.Errorf("loading config %s: %w", pathOverride, err)
		}
		warnings, err = decodeOnto(&cfg, string(data))
		if err != nil {
			return Config{}, nil, fmt.Errorf("parsing config %s: %w", pathOverride, err)
		}
	} else {
		for _, path := range configSearchPaths("") {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			warnings, err = decodeOnto(&cfg, string(data))
			if err != nil {
				return Config{}, nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
			break
		}
	}

	if err := resolveAPIKey(&cfg.API); err != nil {
		return Config{}, nil, err
	}
	applyEnvOverrides(&cfg.API)

	return cfg, warnings, nil
}

// decodeOnto overlays the TOML document in text onto cfg, returning
// warnings for any key the Config shape does not recognize.
func decodeOnto(cfg *Config, text string) ([]string, error) {
	meta, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, err
	}
	var warnings []string
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", key))
	}
	return warnings, nil
}

// resolveAPIKey applies the key-source precedence: BUDDY_API_KEY/
// AGENT_API_KEY env override, then api.api_key_env (a named env var), then
// api.api_key_file (file contents), then the literal api.api_key value.
func resolveAPIKey(api *ApiConfig) error {
	if key := firstEnv("BUDDY_API_KEY", "AGENT_API_KEY"); key != "" {
		api.APIKey = key
		return nil
	}
	if api.APIKeyEnv != "" {
		if key := os.Getenv(api.APIKeyEnv); key != "" {
			api.APIKey = key
			return nil
		}
	}
	if api.APIKeyFile != "" {
		data, err := os.ReadFile(api.APIKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read api.api_key_file %q: %w", api.APIKeyFile, err)
		}
		api.APIKey = strings.TrimSpace(string(data))
	}
	return nil
}

// applyEnvOverrides applies BUDDY_BASE_URL/BUDDY_MODEL (with legacy AGENT_*
// fallback) on top of whatever base_url/model the config file set.
func applyEnvOverrides(api *ApiConfig) {
	if url := firstEnv("BUDDY_BASE_URL", "AGENT_BASE_URL"); url != "" {
		api.BaseURL = url
	}
	if model := firstEnv("BUDDY_MODEL", "AGENT_MODEL"); model != "" {
		api.Model = model
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
