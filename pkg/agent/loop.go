package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// runLoop is the core agentic loop:
//  1. Discharge pending messages (prompt, steering, follow-ups) into history.
//  2. Compact the context if it is over budget.
//  3. Stream one assistant response.
//  4. Execute its tool calls serially, polling steering after each.
//  5. Repeat until no tool calls remain, then poll follow-ups before ending.
func (a *Agent) runLoop(
	ctx context.Context,
	newMsgs []ai.Message, // nil = continue from existing context
	cfg Config,
) error {
	emit := func(e Event) { a.broadcast(e) }

	startIdx := len(a.snapshotMessages())
	emit(Event{Type: EventAgentStart})
	defer func() {
		all := a.snapshotMessages()
		var added []ai.Message
		if startIdx < len(all) {
			added = all[startIdx:]
		}
		emit(Event{Type: EventAgentEnd, NewMessages: added})
	}()

	a.log.Debug("run started", "new_messages", len(newMsgs))

	pending := append([]ai.Message(nil), newMsgs...)

	// Steering queued before the run starts rides along with the prompt.
	if cfg.GetSteeringMessages != nil {
		if queued, err := cfg.GetSteeringMessages(); err == nil {
			pending = append(pending, queued...)
		}
	}

	turnCount := 0
	for {
		hasToolCalls := true
		var steeringAfterTools []ai.Message

		for hasToolCalls || len(pending) > 0 {
			// A run aborted during the tool batch must not reach the model
			// again, even through a provider that ignores its context.
			if ctx.Err() != nil {
				a.log.Debug("run aborted", "turns", turnCount)
				return nil
			}
			if cfg.MaxTurns > 0 && turnCount >= cfg.MaxTurns {
				a.log.Debug("turn limit reached", "turns", turnCount)
				emit(Event{Type: EventTurnLimit})
				return nil
			}
			turnCount++
			turnStarted := time.Now()
			emit(Event{Type: EventTurnStart})

			for _, m := range pending {
				a.appendMsg(m)
				emit(Event{Type: EventMessageStart, Message: m})
				emit(Event{Type: EventMessageEnd, Message: m})
			}
			pending = nil

			if err := a.maybeCompact(ctx, cfg, emit); err != nil {
				a.setError(err)
				return err
			}

			assistant, err := a.streamTurn(ctx, cfg, emit)
			if err != nil {
				a.setError(err)
				return err
			}

			if assistant.StopReason == ai.StopReasonError ||
				assistant.StopReason == ai.StopReasonAborted {
				emit(Event{
					Type:         EventTurnEnd,
					Message:      assistant,
					ContextUsage: EstimateContextTokens(a.snapshotMessages()),
					TurnDuration: time.Since(turnStarted),
				})
				a.log.Debug("run stopped", "stop_reason", assistant.StopReason)
				return nil
			}

			toolCalls := assistant.ToolCalls()
			hasToolCalls = len(toolCalls) > 0

			var toolResults []ai.ToolResultMessage
			if hasToolCalls {
				toolResults, steeringAfterTools = a.executeToolCalls(ctx, toolCalls, cfg, emit)
			}

			emit(Event{
				Type:         EventTurnEnd,
				Message:      assistant,
				ToolResults:  toolResults,
				ContextUsage: EstimateContextTokens(a.snapshotMessages()),
				TurnDuration: time.Since(turnStarted),
			})

			if len(steeringAfterTools) > 0 {
				pending = steeringAfterTools
				steeringAfterTools = nil
			} else if cfg.GetSteeringMessages != nil {
				pending, _ = cfg.GetSteeringMessages()
			}
		}

		// Natural termination — check for follow-up work.
		if cfg.GetFollowUpMessages != nil {
			followUp, _ := cfg.GetFollowUpMessages()
			if len(followUp) > 0 {
				a.log.Debug("follow-up messages queued", "count", len(followUp))
				pending = followUp
				continue
			}
		}
		break
	}

	a.log.Debug("run finished", "turns", turnCount)
	return nil
}

// streamTurn sends the conversation to the provider and folds the stream into
// one assistant message. The in-progress partial sits at the tail of the
// history so nested calls (e.g. compaction) see a consistent conversation.
//
// Provider failures are not fatal: they finalize the turn with
// StopReasonError. A stream that closes without done or error finalizes as
// aborted — truncation is never silent.
func (a *Agent) streamTurn(
	ctx context.Context,
	cfg Config,
	emit func(Event),
) (ai.AssistantMessage, error) {
	history := a.snapshotMessages()

	if cfg.TransformContext != nil {
		var err error
		history, err = cfg.TransformContext(ctx, history)
		if err != nil {
			return ai.AssistantMessage{}, fmt.Errorf("transform context: %w", err)
		}
	}

	var llmMsgs []ai.Message
	if cfg.ConvertToLLM != nil {
		var err error
		llmMsgs, err = cfg.ConvertToLLM(history)
		if err != nil {
			return ai.AssistantMessage{}, fmt.Errorf("convert to llm: %w", err)
		}
	} else {
		llmMsgs = defaultConvertToLLM(history)
	}

	llmCtx := ai.Context{
		SystemPrompt: a.systemPrompt,
		Messages:     llmMsgs,
		Tools:        a.tools.Definitions(),
	}

	opts := a.resolveStreamOpts(cfg)
	events, wait := a.provider.Stream(ctx, a.model, llmCtx, opts)

	partial := &ai.AssistantMessage{
		Role:      ai.RoleAssistant,
		Model:     a.model,
		Provider:  a.provider.Name(),
		Timestamp: time.Now().UnixMilli(),
	}
	a.appendMsg(*partial)
	emit(Event{Type: EventMessageStart, Message: *partial})

	sawDone := false
	sawError := false
	for ev := range events {
		switch ev.Type {
		case ai.StreamEventStart:
			if ev.Partial != nil {
				partial = ev.Partial
				a.replaceTail(*partial)
			}
		case ai.StreamEventTextStart, ai.StreamEventTextDelta, ai.StreamEventTextEnd,
			ai.StreamEventThinkingStart, ai.StreamEventThinkingDelta, ai.StreamEventThinkingEnd,
			ai.StreamEventToolCallStart, ai.StreamEventToolCallDelta, ai.StreamEventToolCallEnd:
			if ev.Partial != nil {
				partial = ev.Partial
				a.replaceTail(*partial)
			}
			emit(Event{Type: EventMessageUpdate, Message: *partial, StreamEvent: &ev})
		case ai.StreamEventDone:
			sawDone = true
			if ev.Partial != nil {
				partial = ev.Partial
			}
		case ai.StreamEventError:
			sawError = true
			// The provider's error payload supersedes the accumulated
			// partial when it carries content.
			if ev.Partial != nil && len(ev.Partial.Content) > 0 {
				partial = ev.Partial
			}
			partial.StopReason = ai.StopReasonError
			if ev.Error != nil {
				partial.ErrorMessage = ev.Error.Error()
			}
		}
	}

	finalPtr, waitErr := wait()

	var final ai.AssistantMessage
	switch {
	case !sawDone && !sawError:
		// Cancelled or truncated mid-stream.
		final = *partial
		final.Content = []ai.ContentBlock{ai.Text("Aborted")}
		final.StopReason = ai.StopReasonAborted
		final.ErrorMessage = ""
	case sawError:
		final = *partial
		final.StopReason = ai.StopReasonError
	case waitErr != nil:
		final = *partial
		final.StopReason = ai.StopReasonError
		final.ErrorMessage = waitErr.Error()
	case finalPtr != nil:
		final = *finalPtr
	default:
		final = *partial
	}

	a.replaceTail(final)
	emit(Event{Type: EventMessageEnd, Message: final})
	return final, nil
}

// defaultConvertToLLM filters to the three message kinds models understand.
// Application-defined variants are dropped from the wire conversation.
func defaultConvertToLLM(msgs []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.(type) {
		case ai.UserMessage, ai.AssistantMessage, ai.ToolResultMessage:
			out = append(out, m)
		}
	}
	return out
}
