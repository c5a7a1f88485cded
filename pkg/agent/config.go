package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// FileConfig is the YAML shape of an agent config file. Keys are snake_case;
// unknown keys are a parse error.
type FileConfig struct {
	// ModelID selects the model, e.g. "gpt-5.2" or "claude-opus-4-5".
	ModelID string `yaml:"model_id"`

	// SystemPrompt is sent with every call.
	SystemPrompt string `yaml:"system_prompt"`

	// APIKey can be a literal key or "${ENV_VAR}".
	APIKey string `yaml:"api_key"`

	// SessionID tags provider calls for request affinity/telemetry.
	SessionID string `yaml:"session_id"`

	// MaxTokens caps the response length (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness (nil = provider default).
	Temperature *float64 `yaml:"temperature"`

	// ReasoningLevel: "off" | "minimal" | "low" | "medium" | "high" | "xhigh".
	// Empty means off.
	ReasoningLevel string `yaml:"reasoning_level"`

	// ThinkingBudgets sets per-level thinking-token budgets.
	ThinkingBudgets *ai.ThinkingBudgets `yaml:"thinking_budgets"`

	// MaxRetryDelayMS caps the stream layer's retry backoff in
	// milliseconds. Unset = 60000; 0 disables the cap.
	MaxRetryDelayMS *int `yaml:"max_retry_delay_ms"`

	// MaxTurns caps model calls per run (0 = unlimited).
	MaxTurns int `yaml:"max_turns"`

	// SteeringMode / FollowUpMode: "one-at-a-time" (default) | "all".
	SteeringMode string `yaml:"steering_mode"`
	FollowUpMode string `yaml:"follow_up_mode"`

	// Compaction controls automatic context compaction.
	Compaction CompactionFileConfig `yaml:"compaction"`
}

// CompactionFileConfig mirrors CompactionConfig with YAML tags.
type CompactionFileConfig struct {
	Enabled          bool `yaml:"enabled"`
	ContextWindow    int  `yaml:"context_window"`
	ReserveTokens    int  `yaml:"reserve_tokens"`
	KeepRecentTokens int  `yaml:"keep_recent_tokens"`
}

// LoadFileConfig reads and parses a YAML config file, expanding ${ENV_VAR}
// references before parsing. Unknown fields are rejected.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := ParseFileConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFileConfig parses raw YAML config bytes.
func ParseFileConfig(data []byte) (*FileConfig, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.UnmarshalWithOptions([]byte(expanded), &cfg, yaml.Strict()); err != nil {
		return nil, err
	}
	if err := validateFileConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateFileConfig(cfg *FileConfig) error {
	if strings.TrimSpace(cfg.ModelID) == "" {
		return fmt.Errorf("model_id is required")
	}
	if cfg.ReasoningLevel != "" && !ai.ReasoningLevel(cfg.ReasoningLevel).Valid() {
		return fmt.Errorf("invalid reasoning_level %q", cfg.ReasoningLevel)
	}
	if cfg.MaxRetryDelayMS != nil && *cfg.MaxRetryDelayMS < 0 {
		return fmt.Errorf("max_retry_delay_ms must be >= 0")
	}
	for name, mode := range map[string]string{
		"steering_mode":  cfg.SteeringMode,
		"follow_up_mode": cfg.FollowUpMode,
	} {
		switch QueueMode(mode) {
		case "", QueueOneAtATime, QueueAll:
		default:
			return fmt.Errorf("invalid %s %q", name, mode)
		}
	}
	if cfg.Compaction.Enabled && cfg.Compaction.ContextWindow <= 0 {
		return fmt.Errorf("compaction.context_window is required when compaction is enabled")
	}
	return nil
}

// Reasoning returns the configured reasoning level, defaulting to off.
func (c *FileConfig) Reasoning() ai.ReasoningLevel {
	if c.ReasoningLevel == "" {
		return ai.ReasoningOff
	}
	return ai.ReasoningLevel(c.ReasoningLevel)
}

// StreamOptions resolves the file config into per-call stream options.
func (c *FileConfig) StreamOptions() ai.StreamOptions {
	opts := ai.StreamOptions{
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		APIKey:      c.APIKey,
		SessionID:   c.SessionID,
	}
	switch {
	case c.MaxRetryDelayMS == nil:
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	case *c.MaxRetryDelayMS == 0:
		opts.MaxRetryDelay = NoRetryDelayCap
	default:
		opts.MaxRetryDelay = time.Duration(*c.MaxRetryDelayMS) * time.Millisecond
	}
	return opts
}

// CompactionConfig resolves the compaction section.
func (c *FileConfig) CompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:          c.Compaction.Enabled,
		ContextWindow:    c.Compaction.ContextWindow,
		ReserveTokens:    c.Compaction.ReserveTokens,
		KeepRecentTokens: c.Compaction.KeepRecentTokens,
	}
}

// AgentOptions builds agent Options from the file config. Provider and tools
// are runtime objects and stay the caller's responsibility.
func (c *FileConfig) AgentOptions(provider ai.Provider) Options {
	opts := Options{
		SystemPrompt:  c.SystemPrompt,
		Model:         c.ModelID,
		Provider:      provider,
		Compaction:    c.CompactionConfig(),
		StreamOptions: c.StreamOptions(),
		Reasoning:     c.Reasoning(),
		SteeringMode:  QueueMode(c.SteeringMode),
		FollowUpMode:  QueueMode(c.FollowUpMode),
	}
	if c.ThinkingBudgets != nil {
		opts.ThinkingBudgets = *c.ThinkingBudgets
	}
	return opts
}
