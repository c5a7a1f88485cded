package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bitop-dev/agentcore/pkg/ai"
	"github.com/bitop-dev/agentcore/pkg/tools"
)

// Agent orchestrates the model + tool loop. Listeners may subscribe and
// unsubscribe from any goroutine, and Steer/FollowUp/Abort are safe to call
// while a run is in flight; Prompt/Continue must not be called concurrently.
type Agent struct {
	mu           sync.RWMutex
	systemPrompt string
	model        string
	provider     ai.Provider
	tools        *tools.Registry

	messages     []ai.Message
	entryIDs     []string // per-message IDs, parallel to messages
	isStreaming  bool
	pendingCalls map[string]bool
	err          string

	listeners   map[int]func(Event)
	listenerSeq int
	listenerMu  sync.RWMutex

	abortFn   context.CancelFunc
	abortOnce sync.Once

	steeringQueue []ai.Message
	steeringMu    sync.Mutex
	steeringMode  QueueMode
	followUpQueue []ai.Message
	followUpMu    sync.Mutex
	followUpMode  QueueMode

	compactionCfg CompactionConfig
	prevSummary   string  // carried across compactions
	prevFileOps   fileOps // carried across compactions

	streamOpts ai.StreamOptions
	reasoning  ai.ReasoningLevel
	budgets    ai.ThinkingBudgets

	log *slog.Logger
}

// Options configures a new Agent.
type Options struct {
	SystemPrompt string
	Model        string
	Provider     ai.Provider
	Tools        *tools.Registry // nil → empty registry

	// Compaction enables auto-compaction when the context grows.
	Compaction CompactionConfig

	// StreamOptions are passed to every model call (a run Config may
	// override them).
	StreamOptions ai.StreamOptions

	// Reasoning selects the reasoning level resolved per call. Default off.
	Reasoning ai.ReasoningLevel

	// ThinkingBudgets sets per-level thinking budgets for budget-based
	// providers.
	ThinkingBudgets ai.ThinkingBudgets

	// SteeringMode / FollowUpMode control queue draining. Default
	// one-at-a-time.
	SteeringMode QueueMode
	FollowUpMode QueueMode

	// Logger receives debug-level loop milestones. Default: discard.
	Logger *slog.Logger
}

// New creates an Agent.
func New(opts Options) *Agent {
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = defaultLogger()
	}
	return &Agent{
		systemPrompt:  opts.SystemPrompt,
		model:         opts.Model,
		provider:      opts.Provider,
		tools:         reg,
		pendingCalls:  make(map[string]bool),
		listeners:     make(map[int]func(Event)),
		compactionCfg: opts.Compaction,
		streamOpts:    opts.StreamOptions,
		reasoning:     opts.Reasoning,
		budgets:       opts.ThinkingBudgets,
		steeringMode:  opts.SteeringMode,
		followUpMode:  opts.FollowUpMode,
		log:           log,
	}
}

// ---------------------------------------------------------------------------
// Configuration setters
// ---------------------------------------------------------------------------

func (a *Agent) SetSystemPrompt(s string) {
	a.mu.Lock()
	a.systemPrompt = s
	a.mu.Unlock()
}

func (a *Agent) SetModel(m string) {
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
}

func (a *Agent) SetReasoning(level ai.ReasoningLevel) {
	a.mu.Lock()
	a.reasoning = level
	a.mu.Unlock()
}

func (a *Agent) Tools() *tools.Registry { return a.tools }

// ---------------------------------------------------------------------------
// Event subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers a listener and returns an unsubscribe function.
func (a *Agent) Subscribe(fn func(Event)) func() {
	a.listenerMu.Lock()
	id := a.listenerSeq
	a.listenerSeq++
	a.listeners[id] = fn
	a.listenerMu.Unlock()

	return func() {
		a.listenerMu.Lock()
		delete(a.listeners, id)
		a.listenerMu.Unlock()
	}
}

func (a *Agent) broadcast(e Event) {
	a.listenerMu.RLock()
	fns := make([]func(Event), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// ---------------------------------------------------------------------------
// Prompt / Continue / Steer / FollowUp / Abort
// ---------------------------------------------------------------------------

// Prompt sends a new user message and runs the loop to completion.
func (a *Agent) Prompt(ctx context.Context, text string, cfg Config) error {
	return a.PromptMessages(ctx, []ai.Message{ai.NewUserMessage(ai.Text(text))}, cfg)
}

// PromptWithImages sends a user message with text and image attachments.
func (a *Agent) PromptWithImages(ctx context.Context, text string, images []ai.ImageContent, cfg Config) error {
	blocks := make([]ai.ContentBlock, 0, 1+len(images))
	if text != "" {
		blocks = append(blocks, ai.Text(text))
	}
	for _, img := range images {
		blocks = append(blocks, img)
	}
	return a.PromptMessages(ctx, []ai.Message{ai.NewUserMessage(blocks...)}, cfg)
}

// PromptMessages sends pre-built messages and runs the loop.
func (a *Agent) PromptMessages(ctx context.Context, msgs []ai.Message, cfg Config) error {
	// Check-and-set under one lock so concurrent prompts cannot both pass
	// the guard.
	a.mu.Lock()
	if a.isStreaming {
		a.mu.Unlock()
		return fmt.Errorf("agent is already streaming; use Steer or FollowUp to queue messages")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.abortFn = cancel
	a.abortOnce = sync.Once{}
	a.isStreaming = true
	a.err = ""
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.isStreaming = false
		a.abortFn = nil
		a.mu.Unlock()
		cancel()
	}()

	cfg = a.wrapConfig(cfg)
	return a.runLoop(loopCtx, msgs, cfg)
}

// Continue resumes from the existing context, e.g. after an error turn or to
// process dangling tool results.
func (a *Agent) Continue(ctx context.Context, cfg Config) error {
	if a.IsStreaming() {
		return fmt.Errorf("agent is already streaming")
	}
	msgs := a.snapshotMessages()
	if len(msgs) == 0 {
		return fmt.Errorf("no messages to continue from")
	}
	if msgs[len(msgs)-1].GetRole() == ai.RoleAssistant {
		return fmt.Errorf("last message is assistant; nothing to continue from")
	}
	return a.PromptMessages(ctx, nil, cfg)
}

// Steer queues a message to inject at the next steering poll point.
func (a *Agent) Steer(m ai.Message) {
	a.steeringMu.Lock()
	a.steeringQueue = append(a.steeringQueue, m)
	a.steeringMu.Unlock()
}

// SteerText queues a plain-text steering message.
func (a *Agent) SteerText(text string) {
	a.Steer(ai.NewUserMessage(ai.Text(text)))
}

// FollowUp queues a message to process after the run would otherwise stop.
func (a *Agent) FollowUp(m ai.Message) {
	a.followUpMu.Lock()
	a.followUpQueue = append(a.followUpQueue, m)
	a.followUpMu.Unlock()
}

// FollowUpText queues a plain-text follow-up message.
func (a *Agent) FollowUpText(text string) {
	a.FollowUp(ai.NewUserMessage(ai.Text(text)))
}

// Abort cancels the running loop. The in-flight response is finalized as an
// aborted assistant message; no new tool calls start.
func (a *Agent) Abort() {
	a.mu.RLock()
	fn := a.abortFn
	a.mu.RUnlock()
	if fn != nil {
		a.abortOnce.Do(fn)
	}
}

// ---------------------------------------------------------------------------
// State accessors
// ---------------------------------------------------------------------------

func (a *Agent) IsStreaming() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isStreaming
}

func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	msgs := make([]ai.Message, len(a.messages))
	copy(msgs, a.messages)
	pending := make(map[string]bool, len(a.pendingCalls))
	for k, v := range a.pendingCalls {
		pending[k] = v
	}
	providerName := ""
	if a.provider != nil {
		providerName = a.provider.Name()
	}
	return State{
		SystemPrompt:     a.systemPrompt,
		Model:            a.model,
		Provider:         providerName,
		Messages:         msgs,
		IsStreaming:      a.isStreaming,
		PendingToolCalls: pending,
		Error:            a.err,
		ContextTokens:    EstimateContextTokens(msgs).Tokens,
	}
}

// Messages returns a snapshot of the conversation history.
func (a *Agent) Messages() []ai.Message {
	return a.snapshotMessages()
}

// AppendMessage adds a message to the history between runs. Returns an error
// while a run is streaming.
func (a *Agent) AppendMessage(m ai.Message) error {
	if a.IsStreaming() {
		return fmt.Errorf("cannot append while streaming")
	}
	a.appendMsg(m)
	return nil
}

// ReplaceMessages swaps the whole history. Returns an error while streaming.
func (a *Agent) ReplaceMessages(msgs []ai.Message) error {
	if a.IsStreaming() {
		return fmt.Errorf("cannot replace messages while streaming")
	}
	a.mu.Lock()
	a.messages = make([]ai.Message, len(msgs))
	a.entryIDs = make([]string, len(msgs))
	for i, m := range msgs {
		a.messages[i] = derefMessage(m)
		a.entryIDs[i] = uuid.NewString()
	}
	a.mu.Unlock()
	return nil
}

// ClearMessages resets the history and the carried compaction state.
func (a *Agent) ClearMessages() error {
	if a.IsStreaming() {
		return fmt.Errorf("cannot clear messages while streaming")
	}
	a.mu.Lock()
	a.messages = nil
	a.entryIDs = nil
	a.prevSummary = ""
	a.prevFileOps = fileOps{}
	a.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (a *Agent) appendMsg(m ai.Message) {
	m = derefMessage(m)
	a.mu.Lock()
	a.messages = append(a.messages, m)
	a.entryIDs = append(a.entryIDs, uuid.NewString())
	a.mu.Unlock()
}

// replaceTail swaps the last message in place. Used while an assistant
// message streams: the in-progress partial sits at the tail and is replaced
// by each snapshot, then by the final message.
func (a *Agent) replaceTail(m ai.Message) {
	m = derefMessage(m)
	a.mu.Lock()
	if n := len(a.messages); n > 0 {
		a.messages[n-1] = m
	}
	a.mu.Unlock()
}

func (a *Agent) setError(err error) {
	a.mu.Lock()
	a.err = err.Error()
	a.mu.Unlock()
}

func (a *Agent) snapshotMessages() []ai.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ai.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// derefMessage unwraps pointer message types to their value form so type
// assertions stay simple throughout the package.
func derefMessage(m ai.Message) ai.Message {
	switch p := m.(type) {
	case *ai.UserMessage:
		return *p
	case *ai.AssistantMessage:
		return *p
	case *ai.ToolResultMessage:
		return *p
	}
	return m
}

// resolveStreamOpts merges agent-level and run-level stream options, applies
// the reasoning mapping, resolves the API key, and fills the retry-delay
// default.
func (a *Agent) resolveStreamOpts(cfg Config) ai.StreamOptions {
	opts := cfg.StreamOptions
	if opts == (ai.StreamOptions{}) {
		opts = a.streamOpts
	}
	ai.ResolveReasoning(&opts, a.reasoning, a.model, a.budgets)
	opts.MaxRetryDelay = resolveRetryDelay(opts.MaxRetryDelay)
	if cfg.GetAPIKey != nil && a.provider != nil {
		if key, err := cfg.GetAPIKey(a.provider.Name()); err == nil && key != "" {
			opts.APIKey = key
		}
	}
	return opts
}

// wrapConfig wires the agent's own queues into the run config, honoring the
// configured drain modes. Explicit hooks in cfg take precedence.
func (a *Agent) wrapConfig(cfg Config) Config {
	if cfg.GetSteeringMessages == nil {
		cfg.GetSteeringMessages = func() ([]ai.Message, error) {
			a.steeringMu.Lock()
			defer a.steeringMu.Unlock()
			return drainQueue(&a.steeringQueue, a.steeringMode), nil
		}
	}
	if cfg.GetFollowUpMessages == nil {
		cfg.GetFollowUpMessages = func() ([]ai.Message, error) {
			a.followUpMu.Lock()
			defer a.followUpMu.Unlock()
			return drainQueue(&a.followUpQueue, a.followUpMode), nil
		}
	}
	return cfg
}

func drainQueue(q *[]ai.Message, mode QueueMode) []ai.Message {
	if len(*q) == 0 {
		return nil
	}
	if mode == QueueAll {
		out := *q
		*q = nil
		return out
	}
	first := (*q)[0]
	*q = (*q)[1:]
	return []ai.Message{first}
}

// maybeCompact checks the context size and, when over budget, replaces the
// older portion of the history with a checkpoint summary. A summarization
// failure is fatal to the run.
func (a *Agent) maybeCompact(ctx context.Context, cfg Config, emit func(Event)) error {
	if !a.compactionCfg.Enabled || a.compactionCfg.ContextWindow <= 0 {
		return nil
	}

	a.mu.RLock()
	msgs := make([]ai.Message, len(a.messages))
	copy(msgs, a.messages)
	entryIDs := make([]string, len(a.entryIDs))
	copy(entryIDs, a.entryIDs)
	prevSummary := a.prevSummary
	prevOps := a.prevFileOps
	a.mu.RUnlock()

	usage := EstimateContextTokens(msgs)
	if !ShouldCompact(usage.Tokens, a.compactionCfg) {
		return nil
	}

	// The summarization model call runs between start and end; observers
	// use the pair to surface an in-progress compaction.
	emit(Event{Type: EventCompactionStart})

	opts := a.resolveStreamOpts(cfg)
	result, err := runCompaction(ctx, a.provider, a.model, opts, msgs, a.compactionCfg, prevSummary, prevOps)
	if err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	if result == nil {
		// No valid cut point; the pair still closes.
		emit(Event{Type: EventCompactionEnd})
		return nil
	}

	firstKeptEntryID := ""
	if result.cut.FirstKeptIndex < len(entryIDs) {
		firstKeptEntryID = entryIDs[result.cut.FirstKeptIndex]
	}

	kept := len(msgs) - result.cut.FirstKeptIndex
	newEntryIDs := make([]string, 0, 1+kept)
	newEntryIDs = append(newEntryIDs, uuid.NewString())
	newEntryIDs = append(newEntryIDs, entryIDs[result.cut.FirstKeptIndex:]...)

	a.mu.Lock()
	a.messages = result.newMessages
	a.entryIDs = newEntryIDs
	a.prevSummary = result.summary
	a.prevFileOps = result.fileOps
	a.mu.Unlock()

	tokensAfter := EstimateContextTokens(result.newMessages).Tokens
	a.log.Debug("context compacted",
		"tokens_before", result.tokensBefore,
		"tokens_after", tokensAfter,
		"removed", result.cut.FirstKeptIndex,
		"kept", kept,
		"split_turn", result.cut.IsSplitTurn)

	emit(Event{Type: EventCompactionEnd, Compaction: &CompactionEvent{
		Summary:          result.summary,
		MessagesRemoved:  result.cut.FirstKeptIndex,
		MessagesKept:     kept,
		TokensBefore:     result.tokensBefore,
		TokensAfter:      tokensAfter,
		SplitTurn:        result.cut.IsSplitTurn,
		FirstKeptEntryID: firstKeptEntryID,
	}})
	return nil
}
