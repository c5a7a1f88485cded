package agent

import (
	"encoding/json"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// imageSurrogateBytes is the fixed byte cost charged per image block
// (~1,200 tokens).
const imageSurrogateBytes = 4800

// EstimateContextTokens estimates the total token count of a conversation
// with a two-part strategy:
//
//  1. Anchor on the newest AssistantMessage whose usage can be trusted (not
//     an error or aborted turn, usage actually populated). The provider's
//     count covers everything up to and including that message.
//  2. Estimate everything after the anchor (tool results, steering, new user
//     messages) at ceil(bytes/4) each.
//
// Without an anchor the whole conversation is estimated.
func EstimateContextTokens(msgs []ai.Message) ContextUsage {
	anchorIdx := -1
	var anchorUsage ai.Usage
	for i := len(msgs) - 1; i >= 0; i-- {
		am, ok := msgs[i].(ai.AssistantMessage)
		if !ok {
			continue
		}
		if am.StopReason == ai.StopReasonError || am.StopReason == ai.StopReasonAborted {
			continue
		}
		if am.Usage.IsZero() {
			continue
		}
		anchorIdx = i
		anchorUsage = am.Usage
		break
	}

	if anchorIdx == -1 {
		total := 0
		for _, m := range msgs {
			total += EstimateTokens(m)
		}
		return ContextUsage{Tokens: total, TrailingTokens: total, AnchorIndex: -1}
	}

	trailing := 0
	for _, m := range msgs[anchorIdx+1:] {
		trailing += EstimateTokens(m)
	}

	usageTokens := anchorUsage.ContextTokens()
	return ContextUsage{
		Tokens:         usageTokens + trailing,
		UsageTokens:    usageTokens,
		TrailingTokens: trailing,
		AnchorIndex:    anchorIdx,
	}
}

// EstimateTokens estimates the token count of a single message at
// ceil(bytes/4). Images are charged a fixed surrogate; tool calls charge the
// tool name plus the serialized arguments. Unknown message variants estimate
// to zero.
func EstimateTokens(m ai.Message) int {
	bytes := 0
	switch msg := m.(type) {
	case ai.UserMessage:
		bytes = contentBytes(msg.Content)
	case ai.AssistantMessage:
		bytes = contentBytes(msg.Content)
	case ai.ToolResultMessage:
		bytes = contentBytes(msg.Content)
	}
	return (bytes + 3) / 4
}

func contentBytes(blocks []ai.ContentBlock) int {
	n := 0
	for _, b := range blocks {
		switch blk := b.(type) {
		case ai.TextContent:
			n += len(blk.Text)
		case ai.ThinkingContent:
			n += len(blk.Thinking)
		case ai.ImageContent:
			n += imageSurrogateBytes
		case ai.ToolCall:
			n += len(blk.Name)
			if j, err := json.Marshal(blk.Arguments); err == nil {
				n += len(j)
			}
		}
	}
	return n
}
