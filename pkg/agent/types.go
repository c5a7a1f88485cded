// Package agent implements the execution core: the streaming turn loop, the
// serial tool runner, token estimation, and context compaction.
package agent

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bitop-dev/agentcore/pkg/ai"
	"github.com/bitop-dev/agentcore/pkg/tools"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType identifies an agent lifecycle event.
type EventType string

const (
	// Lifecycle
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"

	// Turn = one assistant response + any resulting tool calls/results
	EventTurnStart EventType = "turn_start"
	EventTurnEnd   EventType = "turn_end"

	// Message lifecycle
	EventMessageStart  EventType = "message_start"
	EventMessageUpdate EventType = "message_update"
	EventMessageEnd    EventType = "message_end"

	// Tool execution
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"

	// Compaction brackets replacing part of the history with a checkpoint
	// summary: compaction_start fires before the summarization call,
	// compaction_end after the splice.
	EventCompactionStart EventType = "compaction_start"
	EventCompactionEnd   EventType = "compaction_end"

	// Turn limit hit — the loop stopped before the model finished naturally.
	EventTurnLimit EventType = "turn_limit"
)

// ContextUsage is a snapshot of estimated context token usage.
type ContextUsage struct {
	// Tokens is the estimated total for the current context.
	Tokens int
	// UsageTokens is the count anchored on the last trustworthy usage report.
	UsageTokens int
	// TrailingTokens is the estimate for messages after that anchor.
	TrailingTokens int
	// AnchorIndex is the index of the anchoring assistant message, -1 when
	// no usable usage report exists.
	AnchorIndex int
}

// CompactionEvent describes a completed context compaction.
type CompactionEvent struct {
	Summary          string
	MessagesRemoved  int
	MessagesKept     int
	TokensBefore     int
	TokensAfter      int
	SplitTurn        bool
	FirstKeptEntryID string
}

// Event carries a lifecycle notification from the agent loop.
type Event struct {
	Type EventType

	// Set for message_* events
	Message ai.Message

	// Set for message_update
	StreamEvent *ai.StreamEvent

	// Set for turn_end
	ToolResults  []ai.ToolResultMessage
	ContextUsage ContextUsage
	TurnDuration time.Duration

	// Set for compaction_end when the history was modified; nil when no
	// valid cut point existed.
	Compaction *CompactionEvent

	// Set for tool_execution_* events
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult *tools.Result
	IsError    bool

	// Set for agent_end: the messages this run added to the conversation.
	NewMessages []ai.Message
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is a read-only snapshot of the agent.
type State struct {
	SystemPrompt     string
	Model            string
	Provider         string
	Messages         []ai.Message
	IsStreaming      bool
	PendingToolCalls map[string]bool // callID → in-flight
	Error            string
	ContextTokens    int
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

// QueueMode controls how a message queue drains at a poll point.
type QueueMode string

const (
	// QueueOneAtATime hands over one queued message per poll (default).
	QueueOneAtATime QueueMode = "one-at-a-time"
	// QueueAll hands over the whole queue at once.
	QueueAll QueueMode = "all"
)

// ---------------------------------------------------------------------------
// Run config
// ---------------------------------------------------------------------------

// Config holds the per-run hooks and limits.
type Config struct {
	// TransformContext optionally prunes or enriches messages before they
	// are converted for the model. Runs on a snapshot; the stored history
	// is not modified. ctx carries the run's cancel signal.
	TransformContext func(ctx context.Context, msgs []ai.Message) ([]ai.Message, error)

	// ConvertToLLM maps the conversation to the slice sent to the model.
	// Default: keep only user/assistant/tool-result messages.
	ConvertToLLM func([]ai.Message) ([]ai.Message, error)

	// GetAPIKey returns the key for the named provider, for dynamic or
	// expiring credentials.
	GetAPIKey func(provider string) (string, error)

	// GetSteeringMessages returns interruption messages. Polled at run
	// start, after each tool call, and once per turn. Nil/empty means
	// continue normally.
	GetSteeringMessages func() ([]ai.Message, error)

	// GetFollowUpMessages returns messages to process after the run would
	// otherwise stop. Polled only at natural termination.
	GetFollowUpMessages func() ([]ai.Message, error)

	// StreamOptions overrides the agent-level stream options for this run.
	StreamOptions ai.StreamOptions

	// MaxTurns caps the number of model calls per run. 0 = unlimited.
	// Hitting the cap emits EventTurnLimit and stops cleanly.
	MaxTurns int
}

// DefaultMaxRetryDelay caps the stream layer's retry backoff when the caller
// leaves MaxRetryDelay unset.
const DefaultMaxRetryDelay = 60 * time.Second

// NoRetryDelayCap disables the retry backoff cap.
const NoRetryDelayCap = -1 * time.Millisecond

// resolveRetryDelay maps the configured cap to the wire value: unset gets the
// default, NoRetryDelayCap becomes zero (uncapped).
func resolveRetryDelay(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultMaxRetryDelay
	case d < 0:
		return 0
	}
	return d
}

// defaultLogger returns a no-op logger. Embedders pass a real *slog.Logger
// via Options.Logger.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
