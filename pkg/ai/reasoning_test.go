package ai

import "testing"

func TestEffortForModel(t *testing.T) {
	cases := []struct {
		level ReasoningLevel
		model string
		want  Effort
	}{
		{ReasoningOff, "gpt-5.2", ""},
		{"", "gpt-5.2", ""},
		{ReasoningMinimal, "claude-opus-4-5", EffortLow},
		{ReasoningLow, "claude-opus-4-5", EffortLow},
		{ReasoningMedium, "claude-opus-4-5", EffortMedium},
		{ReasoningHigh, "claude-opus-4-5", EffortHigh},
		{ReasoningXHigh, "gpt-5.2", EffortXHigh},
		{ReasoningXHigh, "gpt-5.2-mini", EffortXHigh},
		{ReasoningXHigh, "claude-opus-4-5", EffortHigh},
		{ReasoningXHigh, "gpt-5.1", EffortHigh},
	}
	for _, c := range cases {
		if got := EffortForModel(c.level, c.model); got != c.want {
			t.Errorf("EffortForModel(%q, %q) = %q, want %q", c.level, c.model, got, c.want)
		}
	}
}

func TestReasoningLevelValid(t *testing.T) {
	for _, l := range []ReasoningLevel{ReasoningOff, ReasoningMinimal, ReasoningLow, ReasoningMedium, ReasoningHigh, ReasoningXHigh} {
		if !l.Valid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if ReasoningLevel("turbo").Valid() {
		t.Error("unknown level should be invalid")
	}
	if ReasoningLevel("").Valid() {
		t.Error("empty level should be invalid")
	}
}

func TestBudgetFor(t *testing.T) {
	b := ThinkingBudgets{Minimal: 256, Low: 1024, Medium: 4096, High: 16384}
	cases := []struct {
		level ReasoningLevel
		want  int
	}{
		{ReasoningOff, 0},
		{ReasoningMinimal, 256},
		{ReasoningLow, 1024},
		{ReasoningMedium, 4096},
		{ReasoningHigh, 16384},
		{ReasoningXHigh, 16384}, // xhigh has no budget of its own
	}
	for _, c := range cases {
		if got := b.BudgetFor(c.level); got != c.want {
			t.Errorf("BudgetFor(%q) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestResolveReasoning(t *testing.T) {
	budgets := ThinkingBudgets{High: 16384}

	var opts StreamOptions
	ResolveReasoning(&opts, ReasoningXHigh, "claude-opus-4-5", budgets)
	if opts.ReasoningEffort != EffortHigh || opts.ThinkingBudget != 16384 {
		t.Errorf("opts = %+v", opts)
	}

	opts = StreamOptions{ThinkingBudget: 999}
	ResolveReasoning(&opts, ReasoningOff, "claude-opus-4-5", budgets)
	if opts.ReasoningEffort != "" || opts.ThinkingBudget != 0 {
		t.Errorf("off must clear reasoning fields, got %+v", opts)
	}
}
