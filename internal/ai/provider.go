package ai

import "context"

// Client is a minimal chat-completion surface. Implementations may fail
// for any transport reason; callers are expected to degrade gracefully
// rather than branch on the failure kind.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}
