package cache

import (
	"bytes"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/metrics"
)

// HeaderCacheStatus reports HIT, MISS or BYPASS on responses that pass through the middleware.
const HeaderCacheStatus = "X-Cache"

// headers that belong to one exchange and must not be replayed from cache
var perRequestHeaders = []string{HeaderCacheStatus, "X-Request-Id", "Set-Cookie", "Date"}

// IdentityFunc returns the authenticated user id of a request, if any.
type IdentityFunc func(*http.Request) (string, bool)

// CachedResponse is the stored form of a handler's response.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

type ResponseCacheConfig struct {
	Strategy       *Strategy
	DefaultTimeout time.Duration
	// Debug and CacheInDebug together decide the debug bypass: caching is
	// skipped when Debug is on unless CacheInDebug is set.
	Debug        bool
	CacheInDebug bool
	Identity     IdentityFunc
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// ResponseCache memoizes GET handlers per path, sorted query and user.
type ResponseCache struct {
	strategy       *Strategy
	defaultTimeout time.Duration
	bypass         bool
	identity       IdentityFunc
	logger         *zap.Logger
	metrics        *metrics.Recorder
}

func NewResponseCache(cfg ResponseCacheConfig) *ResponseCache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ResponseCache{
		strategy:       cfg.Strategy,
		defaultTimeout: timeout,
		bypass:         cfg.Debug && !cfg.CacheInDebug,
		identity:       cfg.Identity,
		logger:         logger.With(zap.String("component", "response_cache")),
		metrics:        cfg.Metrics,
	}
}

// Options configure one cached route. Policy, when set, names a tier whose
// TTL and refresh behaviour apply; otherwise Timeout (or the default) is used.
type Options struct {
	KeyPrefix string
	Timeout   time.Duration
	Policy    string
}

func (rc *ResponseCache) resolvePolicy(opts Options) Policy {
	if opts.Policy != "" {
		policy, err := rc.strategy.Policy(opts.Policy)
		if err == nil {
			return policy
		}
		rc.logger.Warn("unknown cache policy, using timeout", zap.String("policy", opts.Policy))
	}
	ttl := opts.Timeout
	if ttl <= 0 {
		ttl = rc.defaultTimeout
	}
	return Policy{Name: "timeout", TTL: ttl}
}

// Middleware wraps a handler with the response cache.
func (rc *ResponseCache) Middleware(opts Options) func(http.Handler) http.Handler {
	policy := rc.resolvePolicy(opts)
	prefix := opts.KeyPrefix

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if rc.bypass {
				rc.metrics.ObserveCacheLookup(prefix, metrics.LookupBypass)
				w.Header().Set(HeaderCacheStatus, "BYPASS")
				next.ServeHTTP(w, r)
				return
			}

			var userID string
			if rc.identity != nil {
				userID, _ = rc.identity(r)
			}
			key, err := ResponseKey(prefix, r.URL.Path, r.URL.Query(), userID)
			if err != nil {
				rc.logger.Error("cache key generation failed", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "Cache error", http.StatusInternalServerError)
				return
			}

			var cached CachedResponse
			hit, err := rc.strategy.Get(r.Context(), key, policy, &cached)
			if err != nil {
				rc.metrics.ObserveCacheLookup(prefix, metrics.LookupError)
				rc.logger.Error("cache lookup failed", zap.String("key", key), zap.Error(err))
				http.Error(w, "Cache error", http.StatusInternalServerError)
				return
			}
			if hit {
				rc.metrics.ObserveCacheLookup(prefix, metrics.LookupHit)
				rc.logger.Debug("cache hit", zap.String("key", key))
				writeCached(w, cached)
				return
			}

			rc.metrics.ObserveCacheLookup(prefix, metrics.LookupMiss)
			rc.logger.Debug("cache miss", zap.String("key", key))
			w.Header().Set(HeaderCacheStatus, "MISS")
			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(recorder, r)

			if recorder.statusCode < 200 || recorder.statusCode >= 300 {
				rc.metrics.ObserveCacheStore(prefix, metrics.StoreSkipped)
				return
			}
			entry := CachedResponse{
				Status: recorder.statusCode,
				Header: replayableHeader(w.Header()),
				Body:   recorder.body.Bytes(),
			}
			// The response is already on the wire, so a failed write can only be logged.
			if err := rc.strategy.Set(r.Context(), key, entry, policy); err != nil {
				rc.metrics.ObserveCacheStore(prefix, metrics.StoreError)
				rc.logger.Error("cache store failed", zap.String("key", key), zap.Error(err))
				return
			}
			rc.metrics.ObserveCacheStore(prefix, metrics.StoreStored)
		})
	}
}

func writeCached(w http.ResponseWriter, cached CachedResponse) {
	header := w.Header()
	for name, values := range cached.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(HeaderCacheStatus, "HIT")
	status := cached.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(cached.Body)
}

func replayableHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range perRequestHeaders {
		out.Del(name)
	}
	return out
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.headerWritten = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
