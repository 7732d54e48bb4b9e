package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/config"
	"github.com/HanTheDev/beneficiary-center/internal/db"
	"github.com/HanTheDev/beneficiary-center/internal/metrics"
	"github.com/HanTheDev/beneficiary-center/internal/querystats"
	"github.com/HanTheDev/beneficiary-center/internal/ratelimit"
	"github.com/HanTheDev/beneficiary-center/internal/server"
)

// App holds the process-wide resources. It is built once by New and released by Close.
type App struct {
	logger   *zap.Logger
	database *db.DB
	backend  cache.Backend
	redis    *redis.Client
	stats    *querystats.Aggregator
	server   *server.Server
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("app: database url required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rec := metrics.NewRecorder(prometheus.NewRegistry())
	stats := querystats.NewAggregator(cfg.QueryStats.Buffer)
	tracer := querystats.NewTracer(stats, time.Duration(cfg.Database.SlowQueryMS)*time.Millisecond, logger, rec)

	a := &App{logger: logger, stats: stats}

	database, err := db.NewDB(ctx, cfg.Database.URL, tracer)
	if err != nil {
		return nil, err
	}
	a.database = database

	backend, err := cache.Open(ctx, cfg.Cache, cfg.Redis.URL, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: open cache: %w", err)
	}
	a.backend = backend
	strategy := cache.NewStrategy(cache.NewStore(backend, cfg.Cache.Namespace, logger, rec), nil, logger)

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, a.redis = newLimiter(ctx, backend, cfg.Redis.URL, logger)
	}

	handler := NewRouter(Deps{
		Config:        cfg,
		Logger:        logger,
		Metrics:       rec,
		Strategy:      strategy,
		Stats:         stats,
		Users:         database,
		Beneficiaries: database,
		Programs:      database,
		AccessLogs:    database,
		Limiter:       limiter,
	})

	srv, err := server.New(cfg.Server, logger, handler)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.server = srv
	return a, nil
}

// newLimiter reuses the cache's Redis pool when the cache runs on Redis and
// otherwise dials redisURL. The returned client is non-nil only when the
// limiter owns it. A nil limiter disables rate limiting.
func newLimiter(ctx context.Context, backend cache.Backend, redisURL string, logger *zap.Logger) (*ratelimit.RateLimiter, *redis.Client) {
	if client, ok := cache.RedisClient(backend); ok {
		return ratelimit.NewRateLimiter(client, logger), nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("rate limiter disabled: bad redis url", zap.Error(err))
		return nil, nil
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		logger.Error("rate limiter disabled: redis unreachable", zap.Error(err))
		return nil, nil
	}
	return ratelimit.NewRateLimiter(client, logger), client
}

// Run serves HTTP and drives the query statistics aggregator until ctx ends.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.stats.Run(ctx)
	})
	g.Go(func() error {
		return a.server.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.database != nil {
		a.database.Close()
	}
	return errors.Join(errs...)
}
