package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/auth"
)

// RateLimiter counts requests per user in fixed hourly windows stored in Redis.
type RateLimiter struct {
	client redis.Cmdable
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(client redis.Cmdable, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client: client,
		logger: logger.With(zap.String("component", "ratelimit")),
		now:    time.Now,
	}
}

// Allow counts one request for userID and reports whether it fits in limit,
// along with the number of requests seen in the current window.
func (rl *RateLimiter) Allow(ctx context.Context, userID int, limit int) (bool, int64, error) {
	key := fmt.Sprintf("ratelimit:user:%d:%s", userID, rl.now().UTC().Format("2006-01-02-15"))

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}

	if count == 1 {
		rl.client.Expire(ctx, key, time.Hour)
	}

	return count <= int64(limit), count, nil
}

// Middleware enforces limit for authenticated requests. Anonymous requests pass.
func (rl *RateLimiter) Middleware(limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetUserFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, count, err := rl.Allow(r.Context(), claims.UserID, limit)
			if err != nil {
				rl.logger.Error("rate limit check failed", zap.Int("user_id", claims.UserID), zap.Error(err))
				http.Error(w, "Rate limit check failed", http.StatusInternalServerError)
				return
			}

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				rl.logger.Warn("rate limit exceeded", zap.Int("user_id", claims.UserID))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
