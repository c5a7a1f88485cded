package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

const validConfig = `
model_id: gpt-5.2
system_prompt: be helpful
max_tokens: 4096
reasoning_level: high
thinking_budgets:
  low: 1024
  medium: 4096
  high: 16384
max_retry_delay_ms: 30000
steering_mode: all
compaction:
  enabled: true
  context_window: 200000
  reserve_tokens: 16384
  keep_recent_tokens: 20000
`

func TestParseFileConfig_Valid(t *testing.T) {
	cfg, err := ParseFileConfig([]byte(validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelID != "gpt-5.2" {
		t.Errorf("ModelID = %q", cfg.ModelID)
	}
	if cfg.Reasoning() != ai.ReasoningHigh {
		t.Errorf("Reasoning() = %q, want high", cfg.Reasoning())
	}
	if cfg.ThinkingBudgets == nil || cfg.ThinkingBudgets.High != 16384 {
		t.Errorf("ThinkingBudgets = %+v", cfg.ThinkingBudgets)
	}
	if got := cfg.StreamOptions().MaxRetryDelay; got != 30*time.Second {
		t.Errorf("MaxRetryDelay = %v, want 30s", got)
	}
	cc := cfg.CompactionConfig()
	if !cc.Enabled || cc.ContextWindow != 200000 {
		t.Errorf("CompactionConfig = %+v", cc)
	}
}

func TestParseFileConfig_UnknownKeyRejected(t *testing.T) {
	_, err := ParseFileConfig([]byte("model_id: m\nmodle_typo: x\n"))
	if err == nil {
		t.Fatal("unknown key should be a parse error")
	}
}

func TestParseFileConfig_ModelRequired(t *testing.T) {
	_, err := ParseFileConfig([]byte("max_tokens: 10\n"))
	if err == nil || !strings.Contains(err.Error(), "model_id") {
		t.Fatalf("err = %v, want model_id requirement", err)
	}
}

func TestParseFileConfig_InvalidReasoningLevel(t *testing.T) {
	_, err := ParseFileConfig([]byte("model_id: m\nreasoning_level: turbo\n"))
	if err == nil || !strings.Contains(err.Error(), "reasoning_level") {
		t.Fatalf("err = %v, want reasoning_level rejection", err)
	}
}

func TestParseFileConfig_InvalidQueueMode(t *testing.T) {
	_, err := ParseFileConfig([]byte("model_id: m\nsteering_mode: batched\n"))
	if err == nil {
		t.Fatal("invalid steering_mode should be rejected")
	}
}

func TestParseFileConfig_CompactionNeedsWindow(t *testing.T) {
	_, err := ParseFileConfig([]byte("model_id: m\ncompaction:\n  enabled: true\n"))
	if err == nil {
		t.Fatal("enabled compaction without context_window should be rejected")
	}
}

func TestParseFileConfig_RetryDelayResolution(t *testing.T) {
	// Unset → default cap.
	cfg, err := ParseFileConfig([]byte("model_id: m\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.StreamOptions().MaxRetryDelay; got != DefaultMaxRetryDelay {
		t.Errorf("unset MaxRetryDelay = %v, want %v", got, DefaultMaxRetryDelay)
	}

	// Explicit zero → cap disabled.
	cfg, err = ParseFileConfig([]byte("model_id: m\nmax_retry_delay_ms: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.StreamOptions().MaxRetryDelay; got != NoRetryDelayCap {
		t.Errorf("zero MaxRetryDelay = %v, want NoRetryDelayCap", got)
	}

	// Negative → rejected.
	if _, err := ParseFileConfig([]byte("model_id: m\nmax_retry_delay_ms: -5\n")); err == nil {
		t.Error("negative max_retry_delay_ms should be rejected")
	}
}

func TestLoadFileConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_AGENT_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("model_id: m\napi_key: ${TEST_AGENT_KEY}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.APIKey)
	}
}

func TestResolveRetryDelay(t *testing.T) {
	if got := resolveRetryDelay(0); got != DefaultMaxRetryDelay {
		t.Errorf("resolveRetryDelay(0) = %v", got)
	}
	if got := resolveRetryDelay(NoRetryDelayCap); got != 0 {
		t.Errorf("resolveRetryDelay(NoRetryDelayCap) = %v, want 0", got)
	}
	if got := resolveRetryDelay(5 * time.Second); got != 5*time.Second {
		t.Errorf("resolveRetryDelay(5s) = %v", got)
	}
}
