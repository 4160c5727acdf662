// Package tokens tracks token usage and estimates context-window pressure
// for the agent loop's budgeting checks.
package tokens

import (
	"embed"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"buddy/types"
)

//go:embed templates/models.toml
var templatesFS embed.FS

// Tracker accounts for token usage across a conversation session. All
// arithmetic saturates rather than overflowing.
type Tracker struct {
	ContextLimit          uint64
	TotalPromptTokens     uint64
	TotalCompletionTokens uint64
	LastPromptTokens      uint64
	LastCompletionTokens  uint64
}

// Snapshot is the persistable mirror of a Tracker.
type Snapshot struct {
	ContextLimit          uint64 `json:"context_limit"`
	TotalPromptTokens     uint64 `json:"total_prompt_tokens"`
	TotalCompletionTokens uint64 `json:"total_completion_tokens"`
	LastPromptTokens      uint64 `json:"last_prompt_tokens"`
	LastCompletionTokens  uint64 `json:"last_completion_tokens"`
}

// New creates a fresh tracker for a model with the given context limit.
func New(contextLimit uint64) *Tracker {
	return &Tracker{ContextLimit: contextLimit}
}

// ToSnapshot captures a serializable snapshot of the tracker.
func (t *Tracker) ToSnapshot() Snapshot {
	return Snapshot{
		ContextLimit: t.ContextLimit, TotalPromptTokens: t.TotalPromptTokens,
		TotalCompletionTokens: t.TotalCompletionTokens, LastPromptTokens: t.LastPromptTokens,
		LastCompletionTokens: t.LastCompletionTokens,
	}
}

// FromSnapshot rebuilds a live tracker from a serialized snapshot.
func FromSnapshot(s Snapshot) *Tracker {
	return &Tracker{
		ContextLimit: s.ContextLimit, TotalPromptTokens: s.TotalPromptTokens,
		TotalCompletionTokens: s.TotalCompletionTokens, LastPromptTokens: s.LastPromptTokens,
		LastCompletionTokens: s.LastCompletionTokens,
	}
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// Record stores token counts from an API response's usage field.
func (t *Tracker) Record(promptTokens, completionTokens uint64) {
	t.LastPromptTokens = promptTokens
	t.LastCompletionTokens = completionTokens
	t.TotalPromptTokens = saturatingAdd(t.TotalPromptTokens, promptTokens)
	t.TotalCompletionTokens = saturatingAdd(t.TotalCompletionTokens, completionTokens)
}

// SessionTotal returns the cumulative tokens consumed across the session.
func (t *Tracker) SessionTotal() uint64 {
	return saturatingAdd(t.TotalPromptTokens, t.TotalCompletionTokens)
}

// EstimateMessages estimates how many tokens a set of messages would
// consume: roughly one token per four characters plus per-message framing
// overhead, matching the provider-agnostic pre-flight heuristic.
func EstimateMessages(messages []types.Message) uint64 {
	var chars uint64
	for _, msg := range messages {
		chars += 16 // per-message role/framing overhead
		if msg.Content != nil {
			chars += uint64(len(*msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			chars += uint64(len(tc.Function.Name))
			chars += uint64(len(tc.Function.Arguments))
		}
		for _, raw := range msg.Extra {
			chars += uint64(len(raw))
		}
	}
	return chars / 4
}

// UsageFraction returns the fraction of the context window these messages
// are estimated to consume.
func (t *Tracker) UsageFraction(messages []types.Message) float64 {
	if t.ContextLimit == 0 {
		return 0
	}
	return float64(EstimateMessages(messages)) / float64(t.ContextLimit)
}

// IsApproachingLimit reports whether estimated usage exceeds 80% of the
// context window.
func (t *Tracker) IsApproachingLimit(messages []types.Message) bool {
	return t.UsageFraction(messages) > 0.8
}

// --- Model context-limit catalog ---

type matchKind string

const (
	matchExact    matchKind = "exact"
	matchPrefix   matchKind = "prefix"
	matchContains matchKind = "contains"
)

type catalogRule struct {
	Kind          matchKind `toml:"match"`
	Pattern       string    `toml:"pattern"`
	ContextWindow uint64    `toml:"context_window"`
}

type modelCatalog struct {
	DefaultContextWindow uint64        `toml:"default_context_window"`
	Rules                []catalogRule `toml:"rule"`
}

func (c *modelCatalog) lookup(model string) (uint64, bool) {
	normalized := normalizeModelName(model)
	if normalized == "" {
		return 0, false
	}
	candidates := []string{normalized}
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		tail := normalized[idx+1:]
		if tail != "" && tail != normalized {
			candidates = append(candidates, tail)
		}
	}

	for _, rule := range c.Rules {
		pattern := normalizeModelName(rule.Pattern)
		if pattern == "" {
			continue
		}
		matched := false
		for _, candidate := range candidates {
			switch rule.Kind {
			case matchExact:
				matched = candidate == pattern
			case matchPrefix:
				matched = strings.HasPrefix(candidate, pattern)
			case matchContains:
				matched = strings.Contains(candidate, pattern)
			}
			if matched {
				return rule.ContextWindow, true
			}
		}
	}
	return 0, false
}

func normalizeModelName(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if idx := strings.Index(m, ":"); idx >= 0 {
		return strings.TrimSpace(m[:idx])
	}
	return m
}

var (
	catalogOnce sync.Once
	catalog     *modelCatalog
)

func loadCatalog() *modelCatalog {
	catalogOnce.Do(func() {
		data, err := templatesFS.ReadFile("templates/models.toml")
		if err != nil {
			return
		}
		var parsed modelCatalog
		if _, err := toml.Decode(string(data), &parsed); err != nil {
			return
		}
		catalog = &parsed
	})
	return catalog
}

const defaultUnknownContextLimit = 8192

// legacyDefaultContextLimit is the hardcoded fallback used only if the
// embedded catalog somehow fails to parse.
func legacyDefaultContextLimit(model string) uint64 {
	m := normalizeModelName(model)
	switch {
	case strings.HasPrefix(m, "gpt-5"):
		return 400000
	case strings.HasPrefix(m, "gpt-4.1"):
		return 1047576
	case strings.HasPrefix(m, "gpt-4o"):
		return 128000
	case strings.HasPrefix(m, "gpt-4-turbo"):
		return 128000
	case strings.HasPrefix(m, "gpt-4"):
		return 8192
	case strings.HasPrefix(m, "gpt-3.5"):
		return 16385
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return 200000
	case strings.Contains(m, "claude"):
		return 200000
	case strings.Contains(m, "gemini"):
		return 1048576
	case strings.Contains(m, "kimi"):
		return 131072
	case strings.Contains(m, "llama"):
		return 8192
	case strings.Contains(m, "mistral"), strings.Contains(m, "qwen"):
		return 32768
	case strings.Contains(m, "gemma"):
		return 8192
	case strings.Contains(m, "deepseek"):
		return 64000
	default:
		return defaultUnknownContextLimit
	}
}

// DefaultContextLimit returns a best-effort context window for a model id.
// Prefers the embedded catalog; falls back to conservative built-in
// heuristics if the catalog is unavailable. Always overridable via
// explicit per-profile configuration.
func DefaultContextLimit(model string) uint64 {
	if c := loadCatalog(); c != nil {
		if limit, ok := c.lookup(model); ok {
			return limit
		}
		return c.DefaultContextWindow
	}
	return legacyDefaultContextLimit(model)
}
