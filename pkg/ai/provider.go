package ai

import "context"

// Provider streams a model response for a given context.
// Events are sent to the returned channel; it is closed when the stream ends.
// The wait function blocks until the stream is complete and returns the final
// AssistantMessage (or error).
//
// Implementations must close the channel even when ctx is cancelled, so
// callers can always range over it safely.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string

	Stream(
		ctx context.Context,
		model string,
		llmCtx Context,
		opts StreamOptions,
	) (<-chan StreamEvent, func() (*AssistantMessage, error))
}
