// Package ai defines the model-facing types of the execution core: messages,
// content blocks, tool definitions, stream events, and the Provider interface.
package ai

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------------------------------------
// Content blocks
// ---------------------------------------------------------------------------

type TextContent struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type ImageContent struct {
	Type     string `json:"type"`      // "image"
	Data     string `json:"data"`      // base64
	MIMEType string `json:"mime_type"` // e.g. "image/png"
}

type ThinkingContent struct {
	Type     string `json:"type"` // "thinking"
	Thinking string `json:"thinking"`
	// Signature is an opaque provider token that must round-trip with the
	// thinking block when the conversation is sent back.
	Signature string `json:"signature,omitempty"`
}

type ToolCall struct {
	Type      string         `json:"type"`      // "tool_call"
	ID        string         `json:"id"`        // unique call ID
	Name      string         `json:"name"`      // tool name
	Arguments map[string]any `json:"arguments"` // parsed JSON args
}

// ContentBlock is implemented by TextContent, ImageContent, ThinkingContent,
// and ToolCall.
type ContentBlock interface {
	contentBlock()
}

func (TextContent) contentBlock()     {}
func (ImageContent) contentBlock()    {}
func (ThinkingContent) contentBlock() {}
func (ToolCall) contentBlock()        {}

// Text wraps a string in a TextContent block.
func Text(s string) TextContent { return TextContent{Type: "text", Text: s} }

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonLength    StopReason = "length"
	StopReasonTool      StopReason = "tool_use"
	StopReasonError     StopReason = "error"
	StopReasonAborted   StopReason = "aborted"
	StopReasonSensitive StopReason = "sensitive"
)

// UserMessage is a human (or synthetic) user turn.
type UserMessage struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp"` // unix ms
}

func (m UserMessage) GetRole() Role { return m.Role }

// NewUserMessage builds a user message from content blocks.
func NewUserMessage(blocks ...ContentBlock) UserMessage {
	return UserMessage{
		Role:      RoleUser,
		Content:   blocks,
		Timestamp: time.Now().UnixMilli(),
	}
}

// AssistantMessage is one model response.
type AssistantMessage struct {
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Usage        Usage          `json:"usage"`
	StopReason   StopReason     `json:"stop_reason"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

func (m AssistantMessage) GetRole() Role { return m.Role }

// ToolCalls returns the tool-call blocks of the message in content order.
func (m AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content {
		if tc, ok := b.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResultMessage carries one tool call's result back to the model.
type ToolResultMessage struct {
	Role       Role           `json:"role"`
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Content    []ContentBlock `json:"content"`
	Details    any            `json:"details,omitempty"`
	IsError    bool           `json:"is_error"`
	Timestamp  int64          `json:"timestamp"`
}

func (m ToolResultMessage) GetRole() Role { return m.Role }

// Message is the open union of conversation entries. The core interprets
// UserMessage, AssistantMessage, and ToolResultMessage; applications may add
// their own variants, which the core carries opaquely (and skips when
// converting the conversation for the model).
type Message interface {
	GetRole() Role
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

type Usage struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	CacheRead   int `json:"cache_read"`
	CacheWrite  int `json:"cache_write"`
	TotalTokens int `json:"total_tokens"`
}

// ContextTokens reports the context size the provider accounted for:
// TotalTokens when populated, otherwise the sum of the components.
func (u Usage) ContextTokens() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// IsZero reports whether the provider populated no usage at all.
func (u Usage) IsZero() bool {
	return u.Input == 0 && u.Output == 0 && u.CacheRead == 0 &&
		u.CacheWrite == 0 && u.TotalTokens == 0
}

// ---------------------------------------------------------------------------
// Tool definition (schema handed to the model)
// ---------------------------------------------------------------------------

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ---------------------------------------------------------------------------
// Streaming events
// ---------------------------------------------------------------------------

type StreamEventType string

const (
	// Lifecycle
	StreamEventStart StreamEventType = "start"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"

	// Text
	StreamEventTextStart StreamEventType = "text_start"
	StreamEventTextDelta StreamEventType = "text_delta"
	StreamEventTextEnd   StreamEventType = "text_end"

	// Thinking
	StreamEventThinkingStart StreamEventType = "thinking_start"
	StreamEventThinkingDelta StreamEventType = "thinking_delta"
	StreamEventThinkingEnd   StreamEventType = "thinking_end"

	// Tool calls
	StreamEventToolCallStart StreamEventType = "toolcall_start"
	StreamEventToolCallDelta StreamEventType = "toolcall_delta"
	StreamEventToolCallEnd   StreamEventType = "toolcall_end"
)

// StreamEvent is one incremental event from a provider stream.
type StreamEvent struct {
	Type StreamEventType

	// Partial is the latest accumulated snapshot of the in-flight message.
	Partial *AssistantMessage

	// ContentIndex is the index of the content block the event refers to,
	// for the block-scoped event types.
	ContentIndex int

	// Delta carries incremental text, thinking, or raw argument JSON.
	Delta string

	// Error is set on StreamEventError.
	Error error
}

// ---------------------------------------------------------------------------
// Context passed to the provider
// ---------------------------------------------------------------------------

// Context is the full conversation state for one model call.
type Context struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// ---------------------------------------------------------------------------
// Stream options
// ---------------------------------------------------------------------------

// StreamOptions carries the per-call knobs the core resolves and the stream
// layer consumes. Retry on transient provider failures belongs to the stream
// layer; MaxRetryDelay caps its backoff (zero means uncapped).
type StreamOptions struct {
	Temperature     *float64
	MaxTokens       int
	APIKey          string
	ReasoningEffort Effort
	ThinkingBudget  int
	SessionID       string
	MaxRetryDelay   time.Duration
}
