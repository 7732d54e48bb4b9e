package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/auth"
	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/models"
)

const accessLogTimeout = 5 * time.Second

// AccessLogStore persists one row per authenticated request.
type AccessLogStore interface {
	LogAccess(ctx context.Context, log *models.AccessLog) error
}

// AccessLog writes a log line for every request and, for authenticated ones,
// an access_logs row in the background. It must run after authentication to
// see the caller.
func AccessLog(logger *zap.Logger, store AccessLogStore) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "access_log"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)
			cacheStatus := sw.Header().Get(cache.HeaderCacheStatus)

			logger.Info("request",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.statusCode),
				zap.Duration("elapsed", elapsed),
				zap.String("cache", cacheStatus),
			)

			claims, ok := auth.GetUserFromContext(r.Context())
			if !ok || store == nil {
				return
			}
			userID := claims.UserID
			entry := &models.AccessLog{
				TenantID:       claims.TenantID,
				UserID:         &userID,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     sw.statusCode,
				ResponseTimeMs: int(elapsed.Milliseconds()),
				RequestSize:    r.ContentLength,
				ResponseSize:   sw.size,
				CacheStatus:    cacheStatus,
			}
			ctx := context.WithoutCancel(r.Context())
			go func() {
				ctx, cancel := context.WithTimeout(ctx, accessLogTimeout)
				defer cancel()
				if err := store.LogAccess(ctx, entry); err != nil {
					logger.Warn("access log write failed", zap.Error(err))
				}
			}()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode    int
	size          int64
	headerWritten bool
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.statusCode = statusCode
		w.headerWritten = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}
