// Package llm drives text generation against an inference service. The
// streaming contract is single-producer single-consumer pull: the producer
// blocks on an unbuffered channel until the consumer takes each token, so
// no more than one token of lead builds up between service and client.
package llm

import "context"

// Token is one event from a generation stream. Exactly one terminal token
// is delivered per stream: either Done (normal completion) or a non-nil
// Err (the stream failed; tokens already delivered remain valid).
type Token struct {
	Text string
	Done bool
	Err  error
}

// Generator produces text from prompts. Implementations must be safe for
// concurrent callers.
type Generator interface {
	// Generate runs to completion and returns the full answer text.
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	// GenerateStream opens a token stream. The returned channel is closed
	// after the terminal token. Cancelling ctx stops the upstream pull.
	GenerateStream(ctx context.Context, prompt string, temperature float64) (<-chan Token, error)
	// Ready reports whether the service is reachable and the model loaded.
	Ready(ctx context.Context) error
	// ModelName returns the configured model identifier.
	ModelName() string
}
