// Package tools defines the Tool interface, the named registry the runner
// dispatches against, and JSON Schema validation of model-supplied arguments.
package tools

import (
	"context"
	"encoding/json"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// Result is the output of a tool execution.
type Result struct {
	// Content is sent back to the model (text or images).
	Content []ai.ContentBlock
	// Details is arbitrary structured data for UIs/logging, never sent to
	// the model.
	Details any
}

// UpdateFn streams partial results to a UI while a tool runs.
type UpdateFn func(partial Result)

// Tool is implemented by every executable tool. Register it with a Registry;
// the agent's runner calls Execute serially.
type Tool interface {
	// Definition returns the manifest handed to the model.
	Definition() ai.ToolDefinition

	// Execute runs the tool. ctx carries the run's cancel signal. onUpdate
	// may be nil; implementations must guard before calling it. A returned
	// error becomes an is_error tool result, not a run failure.
	Execute(ctx context.Context, callID string, args map[string]any, onUpdate UpdateFn) (Result, error)
}

// TextResult wraps plain text in a Result.
func TextResult(text string) Result {
	return Result{Content: []ai.ContentBlock{ai.Text(text)}}
}

// ErrorResult wraps an error's message in a Result.
func ErrorResult(err error) Result {
	return TextResult("error: " + err.Error())
}

// SimpleSchema builds flat object schemas inline.
type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns the JSON Schema for s, panicking on marshal failure.
func MustSchema(s SimpleSchema) json.RawMessage {
	obj := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		obj["required"] = s.Required
	}
	b, err := json.Marshal(obj)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
