package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/metrics"
)

// ErrInvalidationFailed is returned when neither the pattern delete nor the
// namespace flush that replaces it could be carried out.
var ErrInvalidationFailed = errors.New("cache: invalidation failed")

// InvalidationResult reports what a pattern invalidation actually did.
type InvalidationResult struct {
	Deleted int  `json:"deleted"`
	Flushed bool `json:"flushed"`
}

// Count is the single integer older callers expect: the number of deleted
// keys, or 1 when the whole namespace was flushed instead.
func (r InvalidationResult) Count() int {
	if r.Flushed {
		return 1
	}
	return r.Deleted
}

// Store is the JSON get/set/expire/delete adapter over a Backend. Every key
// is stored under the namespace prefix.
type Store struct {
	backend   Backend
	namespace string
	logger    *zap.Logger
	metrics   *metrics.Recorder
}

func NewStore(backend Backend, namespace string, logger *zap.Logger, rec *metrics.Recorder) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "cache_store")),
		metrics:   rec,
	}
}

// Get decodes the value at key into dest. It reports false for absent or expired keys.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, ok, err := s.backend.Get(ctx, s.namespace+key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value as JSON and stores it for ttl. A non-positive ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return s.backend.Set(ctx, s.namespace+key, payload, ttl)
}

// Expire resets the TTL of key without rewriting its value.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.backend.Expire(ctx, s.namespace+key, ttl)
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	physical := make([]string, 0, len(keys))
	for _, key := range keys {
		physical = append(physical, s.namespace+key)
	}
	return s.backend.Delete(ctx, physical...)
}

// ClearPattern deletes every key matching the glob. If the backend cannot
// list or delete by pattern, the whole namespace is flushed instead and the
// result has Flushed set. Stale data is never left behind silently: when the
// flush fails too, the error wraps ErrInvalidationFailed.
func (s *Store) ClearPattern(ctx context.Context, pattern string) (InvalidationResult, error) {
	deleted, err := s.deletePattern(ctx, pattern)
	if err == nil {
		s.metrics.ObserveInvalidation(metrics.InvalidationDeleted)
		return InvalidationResult{Deleted: deleted}, nil
	}

	s.logger.Warn("pattern invalidation failed, flushing namespace",
		zap.String("pattern", pattern), zap.Error(err))
	if flushErr := s.ClearAll(ctx); flushErr != nil {
		s.logger.Error("cache invalidation failed",
			zap.String("pattern", pattern), zap.Error(err), zap.NamedError("flush_error", flushErr))
		s.metrics.ObserveInvalidation(metrics.InvalidationFailed)
		return InvalidationResult{}, fmt.Errorf("%w: pattern %q: %w", ErrInvalidationFailed, pattern, errors.Join(err, flushErr))
	}
	s.metrics.ObserveInvalidation(metrics.InvalidationFlushed)
	return InvalidationResult{Flushed: true}, nil
}

func (s *Store) deletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.backend.Keys(ctx, escapeGlob(s.namespace)+pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.backend.Delete(ctx, keys...)
}

// ClearAll unconditionally removes every key in the namespace.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.backend.Flush(ctx, s.namespace); err != nil {
		return fmt.Errorf("cache: clear all: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) Close() error {
	return s.backend.Close()
}
