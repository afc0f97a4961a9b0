// Package cache provides a read-through cache for immutable job-scoped
// data (requirement definitions and job facts). Backends: in-process
// memory (default) and Redis for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/storage"
)

// Backend is a minimal byte-level cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is a process-local Backend.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// Redis is a Backend on a shared Redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps the given client. A zero ttl means entries never
// expire; requirement definitions are immutable so that is safe.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Store decorates a storage.Store, caching Requirements and JobFacts.
// Everything else passes through. Cache failures are logged and fall
// back to the inner store.
type Store struct {
	storage.Store

	backend Backend
	logger  *zap.Logger
}

// Wrap returns a caching Store around inner.
func Wrap(inner storage.Store, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Store: inner, backend: backend, logger: logger}
}

func (s *Store) Requirements(ctx context.Context, jobID uuid.UUID) ([]domain.Requirement, error) {
	key := "screener:requirements:" + jobID.String()

	var cached []domain.Requirement
	if ok := s.fetch(ctx, key, &cached); ok {
		return cached, nil
	}

	reqs, err := s.Store.Requirements(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, reqs)
	return reqs, nil
}

func (s *Store) JobFacts(ctx context.Context, jobID uuid.UUID) ([]domain.JobFact, error) {
	key := "screener:facts:" + jobID.String()

	var cached []domain.JobFact
	if ok := s.fetch(ctx, key, &cached); ok {
		return cached, nil
	}

	facts, err := s.Store.JobFacts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, facts)
	return facts, nil
}

func (s *Store) fetch(ctx context.Context, key string, out any) bool {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) put(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, key, raw); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
