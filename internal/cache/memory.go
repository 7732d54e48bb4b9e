package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// memoryBackend keeps entries in a bounded LRU; expiry is checked lazily on access.
type memoryBackend struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemory returns an in-process backend holding at most maxEntries keys.
func NewMemory(maxEntries int) (Backend, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	entries, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: memory lru: %w", err)
	}
	return &memoryBackend{entries: entries, now: time.Now}, nil
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(b.now()) {
		b.entries.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	b.entries.Add(key, entry)
	return nil
}

func (b *memoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries.Peek(key)
	if !ok {
		return nil
	}
	now := b.now()
	if entry.expired(now) {
		b.entries.Remove(key)
		return nil
	}
	entry.expiresAt = now.Add(ttl)
	b.entries.Add(key, entry)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, keys ...string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	deleted := 0
	for _, key := range keys {
		entry, ok := b.entries.Peek(key)
		if !ok {
			continue
		}
		b.entries.Remove(key)
		if !entry.expired(now) {
			deleted++
		}
	}
	return deleted, nil
}

func (b *memoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("cache: memory keys pattern %q: %w", pattern, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	var keys []string
	for _, key := range b.entries.Keys() {
		entry, ok := b.entries.Peek(key)
		if !ok {
			continue
		}
		if entry.expired(now) {
			b.entries.Remove(key)
			continue
		}
		if g.Match(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memoryBackend) Flush(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prefix == "" {
		b.entries.Purge()
		return nil
	}
	for _, key := range b.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			b.entries.Remove(key)
		}
	}
	return nil
}

func (b *memoryBackend) Ping(context.Context) error {
	return nil
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Purge()
	return nil
}
