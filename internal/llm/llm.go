// Package llm wraps the model used for reply generation behind a small
// interface so callers degrade cleanly when no model is configured.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no model backend is configured or the
// backend cannot be reached.
var ErrUnavailable = errors.New("llm: model not available")

// Client generates a completion from a system prompt and a user prompt.
type Client interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}
