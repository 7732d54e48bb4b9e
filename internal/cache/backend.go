package cache

import (
	"context"
	"strings"
	"time"
)

// Backend is the byte-level primitive set the Store adapter is built on.
// Keys passed to a Backend are physical keys, namespace included.
type Backend interface {
	// Get returns ok=false for absent or expired keys.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire resets the TTL of an existing key without rewriting it.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys lists keys matching a Redis-style glob.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Flush removes every key starting with prefix; an empty prefix empties the backend.
	Flush(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// escapeGlob quotes glob metacharacters so prefix matches literally.
func escapeGlob(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
