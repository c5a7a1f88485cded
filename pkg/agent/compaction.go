// Context compaction.
//
// When the estimated context size exceeds ContextWindow - ReserveTokens, the
// older portion of the conversation is summarized with the model and replaced
// by a single checkpoint message, keeping the most recent KeepRecentTokens of
// conversation intact. The cut may land inside a turn (on an assistant
// message); the partial turn then gets its own prefix summary merged into the
// checkpoint. File operations performed through Read/Write/Edit tools are
// carried across compactions so the model keeps track of what it has touched.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// CompactionConfig controls when and how compaction runs.
type CompactionConfig struct {
	// Enabled turns auto-compaction on or off. Default: false.
	Enabled bool

	// ContextWindow is the model's maximum context size in tokens. Required
	// for auto-compaction.
	ContextWindow int

	// ReserveTokens is the free-token buffer to maintain. Compaction
	// triggers when usage > ContextWindow - ReserveTokens. It also sizes
	// the summary budgets. Default: 16384.
	ReserveTokens int

	// KeepRecentTokens is how many tokens of recent history to preserve
	// after compaction. Default: 20000.
	KeepRecentTokens int
}

func (c CompactionConfig) reserveTokens() int {
	if c.ReserveTokens > 0 {
		return c.ReserveTokens
	}
	return 16384
}

func (c CompactionConfig) keepRecentTokens() int {
	if c.KeepRecentTokens > 0 {
		return c.KeepRecentTokens
	}
	return 20000
}

// ShouldCompact reports whether the context is over budget. The comparison
// is strict: a context sitting exactly at the threshold does not compact.
func ShouldCompact(contextTokens int, cfg CompactionConfig) bool {
	if !cfg.Enabled || cfg.ContextWindow <= 0 {
		return false
	}
	return contextTokens > cfg.ContextWindow-cfg.reserveTokens()
}

// ---------------------------------------------------------------------------
// Cut-point detection
// ---------------------------------------------------------------------------

// CutPoint describes where compaction splits the conversation.
type CutPoint struct {
	// FirstKeptIndex is the index of the first message preserved verbatim.
	// <= 0 means no usable cut exists.
	FirstKeptIndex int

	// TurnStartIndex is the index of the user message that opened the turn
	// the cut landed in, when the cut falls on an assistant message.
	TurnStartIndex int

	// IsSplitTurn is true when the cut lands mid-turn.
	IsSplitTurn bool
}

// FindCutPoint picks the first message to keep, targeting the most recent
// keepRecentTokens of conversation.
//
// A cut is valid on a user message, an assistant message, or an
// application-defined variant — never on a tool result, so a tool-call /
// tool-result pair is never separated. When the cut lands on an assistant
// message the turn is split: the messages from the turn's opening user
// message up to the cut are summarized separately.
func FindCutPoint(msgs []ai.Message, keepRecentTokens int) CutPoint {
	none := CutPoint{FirstKeptIndex: -1, TurnStartIndex: -1}
	if len(msgs) < 4 { // too short to be worth compacting
		return none
	}

	// Walk backward accumulating estimates until the kept suffix is big
	// enough.
	accumulated := 0
	candidate := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		accumulated += EstimateTokens(msgs[i])
		if accumulated > keepRecentTokens {
			candidate = i
			break
		}
	}
	if candidate <= 0 {
		return none // everything fits in the keep budget
	}

	cutIdx := -1
	for j := candidate; j < len(msgs); j++ {
		if validCut(msgs[j]) {
			cutIdx = j
			break
		}
	}
	if cutIdx == -1 {
		// No valid cut at or after the candidate — fall back to the oldest
		// valid cut so a non-empty suffix is still kept.
		for j := 1; j < len(msgs); j++ {
			if validCut(msgs[j]) {
				cutIdx = j
				break
			}
		}
	}
	if cutIdx <= 0 {
		return none
	}

	cut := CutPoint{FirstKeptIndex: cutIdx, TurnStartIndex: -1}
	if _, ok := msgs[cutIdx].(ai.AssistantMessage); ok {
		for j := cutIdx - 1; j >= 0; j-- {
			if _, ok := msgs[j].(ai.UserMessage); ok {
				cut.TurnStartIndex = j
				cut.IsSplitTurn = true
				break
			}
		}
	}
	return cut
}

func validCut(m ai.Message) bool {
	_, isToolResult := m.(ai.ToolResultMessage)
	return !isToolResult
}

// ---------------------------------------------------------------------------
// Summary generation
// ---------------------------------------------------------------------------

const summarizationSystemPrompt = `You are an expert at summarizing technical conversations.
Create concise, structured summaries that allow another AI to continue the work seamlessly.
Focus on facts, decisions, and current state — not the conversational flow.`

const summarizationPrompt = `The messages above are a conversation to summarize. Create a structured context checkpoint that another LLM will use to continue the work.

Use this EXACT format:

## Goal
[What is the user trying to accomplish? Can be multiple items.]

## Constraints & Preferences
- [Any constraints, preferences, or requirements mentioned by the user]
- [Or "(none)" if none were mentioned]

## Progress
### Done
- [x] [Completed tasks/changes]

### In Progress
- [ ] [Current work]

### Blocked
- [Issues preventing progress, or "(none)"]

## Key Decisions
- **[Decision]**: [Brief rationale]

## Next Steps
1. [Ordered list of what should happen next]

## Critical Context
- [Exact file paths, function names, error messages, data needed to continue]
- [Or "(none)" if not applicable]

Keep each section concise. Preserve exact identifiers, file paths, and error messages.`

const updateSummarizationPrompt = `The messages above are NEW conversation messages to incorporate into the existing summary provided in <previous-summary> tags.

Update the existing structured summary with new information:
- PRESERVE all existing information unless it is now incorrect
- ADD new progress, decisions, and context from the new messages
- UPDATE Progress: move In Progress items to Done when completed
- UPDATE Next Steps based on what was accomplished

<previous-summary>
%s
</previous-summary>

Use the same EXACT format as the previous summary (Goal / Constraints / Progress / Key Decisions / Next Steps / Critical Context).
Keep each section concise. Preserve exact identifiers, file paths, and error messages.`

const turnPrefixPrompt = `The messages above are the already-completed portion of a turn that is still in progress. Summarize what the assistant has done so far in this turn: which tools were called, what they returned, and what remains to be done. Be brief and concrete. Preserve exact identifiers, file paths, and error messages.`

// GenerateSummary summarizes msgs into a structured Markdown checkpoint.
// When prevSummary is non-empty it is extended incrementally instead of
// rebuilt from scratch. maxTokens caps the summary response length.
func GenerateSummary(
	ctx context.Context,
	provider ai.Provider,
	model string,
	opts ai.StreamOptions,
	msgs []ai.Message,
	prevSummary string,
	maxTokens int,
) (string, error) {
	conversationText := serializeConversation(msgs)

	var promptText string
	if prevSummary != "" {
		promptText = fmt.Sprintf("<conversation>\n%s\n</conversation>\n\n%s",
			conversationText,
			fmt.Sprintf(updateSummarizationPrompt, prevSummary),
		)
	} else {
		promptText = fmt.Sprintf("<conversation>\n%s\n</conversation>\n\n%s",
			conversationText,
			summarizationPrompt,
		)
	}

	return summarize(ctx, provider, model, opts, summarizationSystemPrompt, promptText, maxTokens)
}

// generateTurnPrefixSummary summarizes the completed prefix of a split turn.
func generateTurnPrefixSummary(
	ctx context.Context,
	provider ai.Provider,
	model string,
	opts ai.StreamOptions,
	msgs []ai.Message,
	maxTokens int,
) (string, error) {
	promptText := fmt.Sprintf("<turn-prefix>\n%s\n</turn-prefix>\n\n%s",
		serializeConversation(msgs), turnPrefixPrompt)
	return summarize(ctx, provider, model, opts, summarizationSystemPrompt, promptText, maxTokens)
}

// summarize runs one non-interactive model call and concatenates the text
// blocks of the response. The stream's events are drained without being
// forwarded anywhere; summarization is invisible to listeners until the
// compaction event fires.
func summarize(
	ctx context.Context,
	provider ai.Provider,
	model string,
	opts ai.StreamOptions,
	systemPrompt, promptText string,
	maxTokens int,
) (string, error) {
	llmCtx := ai.Context{
		SystemPrompt: systemPrompt,
		Messages: []ai.Message{
			ai.UserMessage{
				Role:      ai.RoleUser,
				Content:   []ai.ContentBlock{ai.Text(promptText)},
				Timestamp: time.Now().UnixMilli(),
			},
		},
	}

	summaryOpts := opts
	summaryOpts.MaxTokens = maxTokens
	summaryOpts.ReasoningEffort = ""
	summaryOpts.ThinkingBudget = 0

	events, wait := provider.Stream(ctx, model, llmCtx, summaryOpts)
	for range events {
	}
	result, err := wait()
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	if result.StopReason == ai.StopReasonError {
		return "", fmt.Errorf("summarization error: %s", result.ErrorMessage)
	}

	var sb strings.Builder
	for _, b := range result.Content {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), nil
}

// serializeConversation renders messages as role-tagged plain text for the
// summarization call.
func serializeConversation(msgs []ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch msg := m.(type) {
		case ai.UserMessage:
			sb.WriteString("[User]:\n")
			for _, b := range msg.Content {
				if tc, ok := b.(ai.TextContent); ok {
					sb.WriteString(tc.Text)
					sb.WriteByte('\n')
				}
			}
			sb.WriteByte('\n')
		case ai.AssistantMessage:
			var text, thinking strings.Builder
			var calls []ai.ToolCall
			for _, b := range msg.Content {
				switch bc := b.(type) {
				case ai.TextContent:
					text.WriteString(bc.Text)
					text.WriteByte('\n')
				case ai.ThinkingContent:
					thinking.WriteString(bc.Thinking)
					thinking.WriteByte('\n')
				case ai.ToolCall:
					calls = append(calls, bc)
				}
			}
			if thinking.Len() > 0 {
				sb.WriteString("[Assistant thinking]:\n")
				sb.WriteString(thinking.String())
				sb.WriteByte('\n')
			}
			if text.Len() > 0 {
				sb.WriteString("[Assistant]:\n")
				sb.WriteString(text.String())
				sb.WriteByte('\n')
			}
			if len(calls) > 0 {
				sb.WriteString("[Assistant tool calls]:\n")
				for _, c := range calls {
					fmt.Fprintf(&sb, "%s(%s)\n", c.Name, compactArgs(c.Arguments))
				}
				sb.WriteByte('\n')
			}
		case ai.ToolResultMessage:
			fmt.Fprintf(&sb, "[Tool result]: %s\n", msg.ToolName)
			for _, b := range msg.Content {
				if tc, ok := b.(ai.TextContent); ok {
					text := tc.Text
					if len(text) > 2000 {
						text = text[:1997] + "..."
					}
					sb.WriteString(text)
					sb.WriteByte('\n')
				}
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	// Map order is unstable but good enough for a summarization input.
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// File-operation tracking
// ---------------------------------------------------------------------------

// fileOps records which files the conversation touched through the standard
// file tools, so compaction can preserve that knowledge across checkpoints.
type fileOps struct {
	read     []string
	modified []string
}

// extractFileOps scans tool calls for Read/Write/Edit operations with a
// string "path" argument, accumulating onto prev. A file that is later
// modified drops out of the read list.
func extractFileOps(msgs []ai.Message, prev fileOps) fileOps {
	read := append([]string(nil), prev.read...)
	modified := append([]string(nil), prev.modified...)

	for _, m := range msgs {
		am, ok := m.(ai.AssistantMessage)
		if !ok {
			continue
		}
		for _, tc := range am.ToolCalls() {
			path, ok := tc.Arguments["path"].(string)
			if !ok || path == "" {
				continue
			}
			switch tc.Name {
			case "Read":
				read = appendUnique(read, path)
			case "Write", "Edit":
				modified = appendUnique(modified, path)
			}
		}
	}

	// Modified supersedes read.
	filtered := read[:0]
	for _, p := range read {
		if !contains(modified, p) {
			filtered = append(filtered, p)
		}
	}
	return fileOps{read: filtered, modified: modified}
}

func (f fileOps) isEmpty() bool {
	return len(f.read) == 0 && len(f.modified) == 0
}

// format renders the tracked files as tagged lists appended to the
// checkpoint text.
func (f fileOps) format() string {
	var sb strings.Builder
	if len(f.read) > 0 {
		sb.WriteString("<read-files>\n")
		for _, p := range f.read {
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
		sb.WriteString("</read-files>")
	}
	if len(f.modified) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("<modified-files>\n")
		for _, p := range f.modified {
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
		sb.WriteString("</modified-files>")
	}
	return sb.String()
}

func appendUnique(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(list, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Full compaction pipeline (called by the agent loop)
// ---------------------------------------------------------------------------

type compactionResult struct {
	// newMessages is the history after compaction:
	// [checkpoint user msg, ...kept messages...]
	newMessages []ai.Message

	cut          CutPoint
	summary      string
	fileOps      fileOps
	tokensBefore int
}

// runCompaction performs the full pipeline on msgs: find the cut, summarize
// the removed portion (with a separate prefix summary when the cut splits a
// turn), fold in file operations, and splice the checkpoint.
func runCompaction(
	ctx context.Context,
	provider ai.Provider,
	model string,
	opts ai.StreamOptions,
	msgs []ai.Message,
	cfg CompactionConfig,
	prevSummary string,
	prevOps fileOps,
) (*compactionResult, error) {
	usage := EstimateContextTokens(msgs)

	cut := FindCutPoint(msgs, cfg.keepRecentTokens())
	if cut.FirstKeptIndex <= 0 {
		return nil, nil
	}

	historyBudget := cfg.reserveTokens() * 8 / 10
	prefixBudget := cfg.reserveTokens() / 2

	var summary string
	if cut.IsSplitTurn && cut.TurnStartIndex >= 0 {
		historyMsgs := msgs[:cut.TurnStartIndex]
		prefixMsgs := msgs[cut.TurnStartIndex:cut.FirstKeptIndex]

		history := prevSummary
		if len(historyMsgs) > 0 || prevSummary == "" {
			var err error
			history, err = GenerateSummary(ctx, provider, model, opts, historyMsgs, prevSummary, historyBudget)
			if err != nil {
				return nil, err
			}
		}
		prefix, err := generateTurnPrefixSummary(ctx, provider, model, opts, prefixMsgs, prefixBudget)
		if err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("%s\n\n---\n\n**Turn Context (split turn):**\n\n%s", history, prefix)
	} else {
		var err error
		summary, err = GenerateSummary(ctx, provider, model, opts, msgs[:cut.FirstKeptIndex], prevSummary, historyBudget)
		if err != nil {
			return nil, err
		}
	}

	ops := extractFileOps(msgs[:cut.FirstKeptIndex], prevOps)

	checkpoint := summary
	if !ops.isEmpty() {
		checkpoint += "\n\n" + ops.format()
	}
	spliceText := fmt.Sprintf("[Context Checkpoint - %d tokens compacted]\n\n%s", usage.Tokens, checkpoint)
	spliceMsg := ai.UserMessage{
		Role:      ai.RoleUser,
		Content:   []ai.ContentBlock{ai.Text(spliceText)},
		Timestamp: time.Now().UnixMilli(),
	}

	kept := msgs[cut.FirstKeptIndex:]
	newMessages := make([]ai.Message, 0, 1+len(kept))
	newMessages = append(newMessages, spliceMsg)
	newMessages = append(newMessages, kept...)

	return &compactionResult{
		newMessages:  newMessages,
		cut:          cut,
		summary:      summary,
		fileOps:      ops,
		tokensBefore: usage.Tokens,
	}, nil
}
