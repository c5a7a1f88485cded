package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/bitop-dev/agentcore/pkg/ai"
)

// summaryProvider is a scripted provider for the summarization calls.
type summaryProvider struct {
	texts []string // one response per Stream call
	calls int
	opts  []ai.StreamOptions
}

func (p *summaryProvider) Name() string { return "summary" }
func (p *summaryProvider) Stream(_ context.Context, _ string, _ ai.Context, opts ai.StreamOptions) (<-chan ai.StreamEvent, func() (*ai.AssistantMessage, error)) {
	p.opts = append(p.opts, opts)
	text := p.texts[p.calls%len(p.texts)]
	p.calls++
	msg := &ai.AssistantMessage{
		Role:       ai.RoleAssistant,
		Content:    []ai.ContentBlock{ai.Text(text)},
		StopReason: ai.StopReasonStop,
	}
	ch := make(chan ai.StreamEvent, 2)
	ch <- ai.StreamEvent{Type: ai.StreamEventStart, Partial: msg}
	ch <- ai.StreamEvent{Type: ai.StreamEventDone, Partial: msg}
	close(ch)
	return ch, func() (*ai.AssistantMessage, error) { return msg, nil }
}

// sized returns a user message estimating to exactly n tokens.
func sizedUser(n int) ai.UserMessage {
	return userMsg(strings.Repeat("a", n*4))
}

func sizedAssistant(n int) ai.AssistantMessage {
	return ai.AssistantMessage{
		Role:       ai.RoleAssistant,
		Content:    []ai.ContentBlock{ai.Text(strings.Repeat("a", n*4))},
		StopReason: ai.StopReasonStop,
	}
}

func sizedToolResult(n int) ai.ToolResultMessage {
	return ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: "x",
		ToolName:   "echo",
		Content:    []ai.ContentBlock{ai.Text(strings.Repeat("a", n*4))},
	}
}

// ── ShouldCompact ────────────────────────────────────────────────────────────

func TestShouldCompact_StrictThreshold(t *testing.T) {
	cfg := CompactionConfig{Enabled: true, ContextWindow: 100000, ReserveTokens: 16384}
	threshold := 100000 - 16384

	if ShouldCompact(threshold, cfg) {
		t.Error("exactly at threshold should not compact")
	}
	if !ShouldCompact(threshold+1, cfg) {
		t.Error("one over threshold should compact")
	}
	if ShouldCompact(threshold+1, CompactionConfig{Enabled: false, ContextWindow: 100000}) {
		t.Error("disabled config should never compact")
	}
	if ShouldCompact(threshold+1, CompactionConfig{Enabled: true}) {
		t.Error("missing context window should never compact")
	}
}

func TestShouldCompact_DefaultReserve(t *testing.T) {
	cfg := CompactionConfig{Enabled: true, ContextWindow: 20000}
	// Default reserve is 16384 → threshold 3616.
	if ShouldCompact(3616, cfg) {
		t.Error("at default threshold should not compact")
	}
	if !ShouldCompact(3617, cfg) {
		t.Error("over default threshold should compact")
	}
}

// ── FindCutPoint ─────────────────────────────────────────────────────────────

func TestFindCutPoint_TooShort(t *testing.T) {
	msgs := []ai.Message{sizedUser(100), sizedAssistant(100)}
	if cut := FindCutPoint(msgs, 10); cut.FirstKeptIndex != -1 {
		t.Errorf("FirstKeptIndex = %d, want -1 for short conversation", cut.FirstKeptIndex)
	}
}

func TestFindCutPoint_EverythingFits(t *testing.T) {
	msgs := []ai.Message{
		sizedUser(10), sizedAssistant(10), sizedUser(10), sizedAssistant(10),
	}
	if cut := FindCutPoint(msgs, 1000); cut.FirstKeptIndex != -1 {
		t.Errorf("FirstKeptIndex = %d, want -1 when under budget", cut.FirstKeptIndex)
	}
}

func TestFindCutPoint_UserBoundary(t *testing.T) {
	// 8 × 100 tokens. keep=250: walking back exceeds at index 5.
	msgs := []ai.Message{
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
	}
	cut := FindCutPoint(msgs, 250)
	if cut.FirstKeptIndex != 5 {
		t.Fatalf("FirstKeptIndex = %d, want 5", cut.FirstKeptIndex)
	}
	if _, ok := msgs[cut.FirstKeptIndex].(ai.AssistantMessage); !ok {
		t.Error("cut should land on the accumulated boundary message")
	}
	if !cut.IsSplitTurn {
		t.Error("cut on an assistant message must mark a split turn")
	}
	if cut.TurnStartIndex != 4 {
		t.Errorf("TurnStartIndex = %d, want 4 (opening user message)", cut.TurnStartIndex)
	}
}

func TestFindCutPoint_NeverOnToolResult(t *testing.T) {
	msgs := []ai.Message{
		sizedUser(100),
		sizedAssistant(100),
		sizedToolResult(100),
		sizedToolResult(100),
		sizedUser(100),
		sizedAssistant(100),
	}
	// keep=250 exceeds at index 3 (a tool result) — the cut must move
	// forward to index 4.
	cut := FindCutPoint(msgs, 250)
	if cut.FirstKeptIndex != 4 {
		t.Fatalf("FirstKeptIndex = %d, want 4", cut.FirstKeptIndex)
	}
	if _, ok := msgs[cut.FirstKeptIndex].(ai.ToolResultMessage); ok {
		t.Error("cut landed on a tool result")
	}
	if cut.IsSplitTurn {
		t.Error("cut on a user message is not a split turn")
	}
}

func TestFindCutPoint_UserCutNotSplit(t *testing.T) {
	msgs := []ai.Message{
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
	}
	// keep=150: exceeds at index 4 (user).
	cut := FindCutPoint(msgs, 150)
	if cut.FirstKeptIndex != 4 {
		t.Fatalf("FirstKeptIndex = %d, want 4", cut.FirstKeptIndex)
	}
	if cut.IsSplitTurn {
		t.Error("user-boundary cut must not be a split turn")
	}
}

// ── Serialization ────────────────────────────────────────────────────────────

func TestSerializeConversation_RoleTags(t *testing.T) {
	msgs := []ai.Message{
		userMsg("fix the bug"),
		ai.AssistantMessage{
			Role: ai.RoleAssistant,
			Content: []ai.ContentBlock{
				ai.ThinkingContent{Type: "thinking", Thinking: "let me look"},
				ai.Text("on it"),
				ai.ToolCall{Type: "tool_call", ID: "1", Name: "Read", Arguments: map[string]any{"path": "main.go"}},
			},
		},
		ai.ToolResultMessage{
			Role:     ai.RoleToolResult,
			ToolName: "Read",
			Content:  []ai.ContentBlock{ai.Text("package main")},
		},
	}

	out := serializeConversation(msgs)
	for _, want := range []string{
		"[User]:\nfix the bug",
		"[Assistant thinking]:\nlet me look",
		"[Assistant]:\non it",
		"[Assistant tool calls]:\nRead(path=main.go)",
		"[Tool result]: Read\npackage main",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("serialized output missing %q:\n%s", want, out)
		}
	}
}

func TestSerializeConversation_TruncatesLongToolResults(t *testing.T) {
	msgs := []ai.Message{sizedToolResult(1000)} // 4000 chars
	out := serializeConversation(msgs)
	if !strings.Contains(out, "...") {
		t.Error("long tool result should be truncated with ellipsis")
	}
	if len(out) > 2200 {
		t.Errorf("serialized length = %d, want ≤ ~2000 + framing", len(out))
	}
}

// ── File ops ─────────────────────────────────────────────────────────────────

func readCall(path string) ai.AssistantMessage {
	return ai.AssistantMessage{
		Role: ai.RoleAssistant,
		Content: []ai.ContentBlock{
			ai.ToolCall{Type: "tool_call", ID: "1", Name: "Read", Arguments: map[string]any{"path": path}},
		},
	}
}

func writeCall(name, path string) ai.AssistantMessage {
	return ai.AssistantMessage{
		Role: ai.RoleAssistant,
		Content: []ai.ContentBlock{
			ai.ToolCall{Type: "tool_call", ID: "1", Name: name, Arguments: map[string]any{"path": path}},
		},
	}
}

func TestExtractFileOps_ModifiedSupersedesRead(t *testing.T) {
	msgs := []ai.Message{
		readCall("a.go"),
		readCall("b.go"),
		writeCall("Edit", "a.go"),
	}
	ops := extractFileOps(msgs, fileOps{})
	if len(ops.read) != 1 || ops.read[0] != "b.go" {
		t.Errorf("read = %v, want [b.go]", ops.read)
	}
	if len(ops.modified) != 1 || ops.modified[0] != "a.go" {
		t.Errorf("modified = %v, want [a.go]", ops.modified)
	}
}

func TestExtractFileOps_AccumulatesAcrossCompactions(t *testing.T) {
	prev := fileOps{read: []string{"old.go"}, modified: []string{"done.go"}}
	ops := extractFileOps([]ai.Message{writeCall("Write", "new.go")}, prev)
	if !contains(ops.read, "old.go") {
		t.Errorf("read = %v, should keep previous entries", ops.read)
	}
	if !contains(ops.modified, "done.go") || !contains(ops.modified, "new.go") {
		t.Errorf("modified = %v, want both previous and new", ops.modified)
	}
}

func TestExtractFileOps_IgnoresMissingPath(t *testing.T) {
	msgs := []ai.Message{
		writeCall("Write", ""),
		ai.AssistantMessage{
			Role: ai.RoleAssistant,
			Content: []ai.ContentBlock{
				ai.ToolCall{Type: "tool_call", ID: "1", Name: "Read", Arguments: map[string]any{"file": "x"}},
			},
		},
	}
	ops := extractFileOps(msgs, fileOps{})
	if !ops.isEmpty() {
		t.Errorf("ops = %+v, want empty", ops)
	}
}

func TestFileOpsFormat_Tags(t *testing.T) {
	ops := fileOps{read: []string{"a.go"}, modified: []string{"b.go"}}
	out := ops.format()
	if !strings.Contains(out, "<read-files>\na.go\n</read-files>") {
		t.Errorf("missing read-files tag:\n%s", out)
	}
	if !strings.Contains(out, "<modified-files>\nb.go\n</modified-files>") {
		t.Errorf("missing modified-files tag:\n%s", out)
	}
}

// ── Full pipeline ────────────────────────────────────────────────────────────

func TestRunCompaction_SpliceFormat(t *testing.T) {
	prov := &summaryProvider{texts: []string{"THE SUMMARY"}}
	msgs := []ai.Message{
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
	}
	cfg := CompactionConfig{Enabled: true, ContextWindow: 1000, KeepRecentTokens: 150}

	result, err := runCompaction(context.Background(), prov, "test", ai.StreamOptions{}, msgs, cfg, "", fileOps{})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil {
		t.Fatal("expected a compaction result")
	}

	splice, ok := result.newMessages[0].(ai.UserMessage)
	if !ok {
		t.Fatal("first message after compaction must be the checkpoint user message")
	}
	text := splice.Content[0].(ai.TextContent).Text
	if !strings.HasPrefix(text, "[Context Checkpoint - 600 tokens compacted]\n\n") {
		t.Errorf("splice prefix wrong:\n%s", text)
	}
	if !strings.Contains(text, "THE SUMMARY") {
		t.Error("splice must contain the generated summary")
	}

	// Kept suffix preserved verbatim.
	if len(result.newMessages) != 1+len(msgs)-result.cut.FirstKeptIndex {
		t.Errorf("newMessages length = %d", len(result.newMessages))
	}

	// History budget is 0.8 × reserve (default 16384).
	if got := prov.opts[0].MaxTokens; got != 13107 {
		t.Errorf("summary MaxTokens = %d, want 13107", got)
	}
	if prov.opts[0].ReasoningEffort != "" || prov.opts[0].ThinkingBudget != 0 {
		t.Error("summarization must not request reasoning")
	}
}

func TestRunCompaction_SplitTurnMergesPrefixSummary(t *testing.T) {
	prov := &summaryProvider{texts: []string{"HISTORY PART", "PREFIX PART"}}
	// keep=250 exceeds at index 5 (assistant) → split turn with turn start 4.
	msgs := []ai.Message{
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
		sizedUser(100), sizedAssistant(100),
	}
	cfg := CompactionConfig{Enabled: true, ContextWindow: 1000, KeepRecentTokens: 250, ReserveTokens: 1000}

	result, err := runCompaction(context.Background(), prov, "test", ai.StreamOptions{}, msgs, cfg, "", fileOps{})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.cut.IsSplitTurn {
		t.Fatal("expected a split-turn compaction")
	}
	if prov.calls != 2 {
		t.Fatalf("summarization calls = %d, want 2 (history + prefix)", prov.calls)
	}
	if !strings.Contains(result.summary, "HISTORY PART") ||
		!strings.Contains(result.summary, "**Turn Context (split turn):**") ||
		!strings.Contains(result.summary, "PREFIX PART") {
		t.Errorf("merged summary wrong:\n%s", result.summary)
	}
	// Prefix budget is 0.5 × reserve.
	if got := prov.opts[1].MaxTokens; got != 500 {
		t.Errorf("prefix MaxTokens = %d, want 500", got)
	}
}

func TestRunCompaction_NoCutPoint(t *testing.T) {
	prov := &summaryProvider{texts: []string{"unused"}}
	msgs := []ai.Message{sizedUser(10), sizedAssistant(10), sizedUser(10), sizedAssistant(10)}
	cfg := CompactionConfig{Enabled: true, ContextWindow: 1000, KeepRecentTokens: 1000}

	result, err := runCompaction(context.Background(), prov, "test", ai.StreamOptions{}, msgs, cfg, "", fileOps{})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Error("no valid cut → no compaction")
	}
	if prov.calls != 0 {
		t.Error("no summarization call expected")
	}
}
