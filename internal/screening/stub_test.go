package screening

import (
	"context"
	"sync"

	"github.com/driverline/screener/internal/llm"
)

// stubClient answers completion calls from a function, counting calls.
type stubClient struct {
	mu         sync.Mutex
	completeFn func(ctx context.Context, messages []llm.Message) (string, error)
	calls      int
	seen       [][]llm.Message
}

func (s *stubClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	s.calls++
	s.seen = append(s.seen, messages)
	fn := s.completeFn
	s.mu.Unlock()
	return fn(ctx, messages)
}

func (s *stubClient) CompleteStreaming(ctx context.Context, messages []llm.Message, sink llm.ChunkFunc) (string, error) {
	text, err := s.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if sink != nil {
		if err := sink(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// scriptClient returns queued responses in order. Each entry is either a
// reply string or an error.
type scriptClient struct {
	mu      sync.Mutex
	replies []any
	calls   int
}

func (s *scriptClient) push(replies ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

func (s *scriptClient) Complete(_ context.Context, _ []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.replies) == 0 {
		return "", llm.ErrUnavailable
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func (s *scriptClient) CompleteStreaming(ctx context.Context, messages []llm.Message, sink llm.ChunkFunc) (string, error) {
	text, err := s.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if sink != nil {
		if err := sink(text); err != nil {
			return "", err
		}
	}
	return text, nil
}
