package cache

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/config"
)

// Open builds the configured backend. A Redis or Valkey backend that cannot
// be reached at start-up is replaced by the memory backend.
func Open(ctx context.Context, cfg config.CacheConfig, redisURL string, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "cache_factory"))

	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory cache", zap.Int("max_entries", cfg.MemoryMaxEntries))
		return NewMemory(cfg.MemoryMaxEntries)
	case "redis":
		backend, err = NewRedis(ctx, redisURL)
	case "valkey":
		backend, err = openValkey(ctx, redisURL)
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", zap.String("backend", cfg.Backend))
		return NewMemory(cfg.MemoryMaxEntries)
	}
	if err != nil {
		logger.Error("cache backend initialization failed, falling back to memory",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return NewMemory(cfg.MemoryMaxEntries)
	}
	logger.Info("using cache backend", zap.String("backend", cfg.Backend))
	return backend, nil
}

func openValkey(ctx context.Context, redisURL string) (Backend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewValkey(ctx, opt.Addr, opt.Username, opt.Password, opt.DB)
}
