// Package llm defines the completion-service boundary consumed by the
// screening core. Providers live in subpackages.
package llm

import (
	"context"
	"errors"
)

// Role tags a message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the ordered conversation fed to
// the model.
type Message struct {
	Role    Role
	Content string
}

// ErrUnavailable marks transient completion-service failures (network,
// timeout, malformed response). Callers decide whether to retry.
var ErrUnavailable = errors.New("completion service unavailable")

// ChunkFunc receives incremental output during a streaming completion.
// A non-nil error aborts the stream.
type ChunkFunc func(chunk string) error

// Client is the completion service. Both methods return the full
// response text; the streaming variant additionally delivers chunks as
// they arrive.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	CompleteStreaming(ctx context.Context, messages []Message, onChunk ChunkFunc) (string, error)
}
