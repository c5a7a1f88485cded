package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bitop-dev/agentcore/pkg/ai"
	"github.com/bitop-dev/agentcore/pkg/tools"
)

// skippedResultText is the body of the synthetic result a tool call receives
// when steering interrupts the batch before it runs.
const skippedResultText = "Skipped"

// executeToolCalls runs a batch of tool calls serially, in content order.
// Every call gets exactly one ToolResultMessage appended to the history,
// with the full tool_execution_start/end and message_start/end event pairs.
//
// Steering is polled after each call; when a steering message arrives, the
// remaining calls are not executed — each gets a synthetic error result so
// the conversation stays well formed — and the steering messages are returned
// for injection into the next turn.
//
// Cancellation is checked before each call. Once the run is aborted no
// further tool_execution_start is emitted; the remaining calls still get
// synthetic error results so every call in the batch has one.
func (a *Agent) executeToolCalls(
	ctx context.Context,
	toolCalls []ai.ToolCall,
	cfg Config,
	emit func(Event),
) ([]ai.ToolResultMessage, []ai.Message) {
	var results []ai.ToolResultMessage
	var steering []ai.Message

	record := func(tc ai.ToolCall, result tools.Result, isError bool) {
		msg := ai.ToolResultMessage{
			Role:       ai.RoleToolResult,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    append([]ai.ContentBlock(nil), result.Content...),
			Details:    result.Details,
			IsError:    isError,
			Timestamp:  time.Now().UnixMilli(),
		}
		results = append(results, msg)
		a.appendMsg(msg)
		emit(Event{Type: EventMessageStart, Message: msg})
		emit(Event{Type: EventMessageEnd, Message: msg})
	}

	for i, tc := range toolCalls {
		if ctx.Err() != nil {
			a.log.Debug("run cancelled mid-batch", "skipped_calls", len(toolCalls)-i)
			for _, skipped := range toolCalls[i:] {
				record(skipped, tools.TextResult(skippedResultText), true)
			}
			break
		}

		emit(Event{
			Type:       EventToolExecutionStart,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Arguments,
		})
		a.setPendingCall(tc.ID, true)

		result, isError := a.executeSingleTool(ctx, tc, emit)

		a.setPendingCall(tc.ID, false)
		emit(Event{
			Type:       EventToolExecutionEnd,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Arguments,
			ToolResult: &result,
			IsError:    isError,
		})
		record(tc, result, isError)

		if cfg.GetSteeringMessages == nil || i == len(toolCalls)-1 {
			continue
		}
		queued, _ := cfg.GetSteeringMessages()
		if len(queued) == 0 {
			continue
		}
		steering = queued
		a.log.Debug("steering interrupt", "skipped_calls", len(toolCalls)-i-1)
		for _, skipped := range toolCalls[i+1:] {
			emit(Event{
				Type:       EventToolExecutionStart,
				ToolCallID: skipped.ID,
				ToolName:   skipped.Name,
				ToolArgs:   skipped.Arguments,
			})
			skippedResult := tools.TextResult(skippedResultText)
			emit(Event{
				Type:       EventToolExecutionEnd,
				ToolCallID: skipped.ID,
				ToolName:   skipped.Name,
				ToolArgs:   skipped.Arguments,
				ToolResult: &skippedResult,
				IsError:    true,
			})
			record(skipped, skippedResult, true)
		}
		break
	}

	return results, steering
}

// executeSingleTool looks up, validates, and runs one tool call. All failure
// modes — unknown tool, invalid arguments, returned error, panic — collapse
// into an error result; nothing here can take the run down.
func (a *Agent) executeSingleTool(
	ctx context.Context,
	tc ai.ToolCall,
	emit func(Event),
) (result tools.Result, isError bool) {
	tool, ok := a.tools.Get(tc.Name)
	if !ok {
		return tools.TextResult(fmt.Sprintf("Tool not found: %s", tc.Name)), true
	}

	args, err := tools.ValidateAndCoerce(tool, tc.Arguments)
	if err != nil {
		return tools.ErrorResult(err), true
	}

	onUpdate := func(partial tools.Result) {
		emit(Event{
			Type:       EventToolExecutionUpdate,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Arguments,
			ToolResult: &partial,
		})
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Debug("tool panicked", "tool", tc.Name, "panic", r)
			result = tools.ErrorResult(fmt.Errorf("tool %q panicked: %v", tc.Name, r))
			isError = true
		}
	}()

	res, err := tool.Execute(ctx, tc.ID, args, onUpdate)
	if err != nil {
		return tools.ErrorResult(err), true
	}
	return res, false
}

func (a *Agent) setPendingCall(id string, inFlight bool) {
	a.mu.Lock()
	if inFlight {
		a.pendingCalls[id] = true
	} else {
		delete(a.pendingCalls, id)
	}
	a.mu.Unlock()
}
