package ai

import "strings"

// ReasoningLevel is the application-facing reasoning setting. It is resolved
// per call into a provider Effort and an optional thinking-token budget.
type ReasoningLevel string

const (
	ReasoningOff     ReasoningLevel = "off"
	ReasoningMinimal ReasoningLevel = "minimal"
	ReasoningLow     ReasoningLevel = "low"
	ReasoningMedium  ReasoningLevel = "medium"
	ReasoningHigh    ReasoningLevel = "high"
	ReasoningXHigh   ReasoningLevel = "xhigh"
)

// Valid reports whether l is a known reasoning level.
func (l ReasoningLevel) Valid() bool {
	switch l {
	case ReasoningOff, ReasoningMinimal, ReasoningLow, ReasoningMedium,
		ReasoningHigh, ReasoningXHigh:
		return true
	}
	return false
}

// Effort is the provider-facing reasoning effort. Empty means the field is
// omitted from the request.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
	EffortXHigh  Effort = "xhigh"
)

// EffortForModel maps a reasoning level to the effort sent on the wire.
// "minimal" collapses to low. "xhigh" passes through only for models that
// support it; everything else is clamped to high.
func EffortForModel(level ReasoningLevel, modelID string) Effort {
	switch level {
	case ReasoningOff, "":
		return ""
	case ReasoningMinimal, ReasoningLow:
		return EffortLow
	case ReasoningMedium:
		return EffortMedium
	case ReasoningHigh:
		return EffortHigh
	case ReasoningXHigh:
		if strings.Contains(modelID, "gpt-5.2") {
			return EffortXHigh
		}
		return EffortHigh
	}
	return ""
}

// ThinkingBudgets sets per-level thinking-token budgets for providers that
// take a budget rather than an effort. There is no xhigh budget: xhigh uses
// the high budget. A zero budget leaves the field unset.
type ThinkingBudgets struct {
	Minimal int `yaml:"minimal" json:"minimal"`
	Low     int `yaml:"low" json:"low"`
	Medium  int `yaml:"medium" json:"medium"`
	High    int `yaml:"high" json:"high"`
}

// BudgetFor returns the thinking budget for a level, 0 when reasoning is off
// or no budget is configured.
func (b ThinkingBudgets) BudgetFor(level ReasoningLevel) int {
	switch level {
	case ReasoningMinimal:
		return b.Minimal
	case ReasoningLow:
		return b.Low
	case ReasoningMedium:
		return b.Medium
	case ReasoningHigh, ReasoningXHigh:
		return b.High
	}
	return 0
}

// ResolveReasoning applies a reasoning level to stream options in place.
func ResolveReasoning(opts *StreamOptions, level ReasoningLevel, modelID string, budgets ThinkingBudgets) {
	opts.ReasoningEffort = EffortForModel(level, modelID)
	if opts.ReasoningEffort == "" {
		opts.ThinkingBudget = 0
		return
	}
	opts.ThinkingBudget = budgets.BudgetFor(level)
}
