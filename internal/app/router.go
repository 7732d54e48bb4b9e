package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/admin"
	"github.com/HanTheDev/beneficiary-center/internal/auth"
	"github.com/HanTheDev/beneficiary-center/internal/beneficiaries"
	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/config"
	"github.com/HanTheDev/beneficiary-center/internal/metrics"
	"github.com/HanTheDev/beneficiary-center/internal/middleware"
	"github.com/HanTheDev/beneficiary-center/internal/programs"
	"github.com/HanTheDev/beneficiary-center/internal/ratelimit"
)

// APIPrefix is where the cached resource routes are mounted.
const APIPrefix = "/api/v2/cached"

// Deps is everything the HTTP surface needs. Limiter and AccessLogs are optional.
type Deps struct {
	Config        config.Config
	Logger        *zap.Logger
	Metrics       *metrics.Recorder
	Strategy      *cache.Strategy
	Stats         admin.QueryStats
	Users         auth.UserStore
	Beneficiaries beneficiaries.Store
	Programs      programs.Store
	AccessLogs    middleware.AccessLogStore
	Limiter       *ratelimit.RateLimiter
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := d.Config

	router := mux.NewRouter()
	router.Use(middleware.RequestID)

	// Public routes
	router.HandleFunc("/health", healthHandler(d.Strategy)).Methods("GET")
	router.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	auth.NewLoginHandler(d.Users, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute, logger).
		RegisterRoutes(router)

	authMiddleware := auth.NewMiddleware(cfg.Auth.JWTSecret)
	accessLog := middleware.AccessLog(logger, d.AccessLogs)
	responses := cache.NewResponseCache(cache.ResponseCacheConfig{
		Strategy:       d.Strategy,
		DefaultTimeout: time.Duration(cfg.Cache.DefaultTimeoutSeconds) * time.Second,
		Debug:          cfg.Server.Debug,
		CacheInDebug:   cfg.Cache.InDebug,
		Identity:       auth.Identity,
		Logger:         logger,
		Metrics:        d.Metrics,
	})

	// Cached resource routes
	api := router.PathPrefix(APIPrefix).Subrouter()
	api.Use(authMiddleware.Authenticate, accessLog)
	if d.Limiter != nil && cfg.RateLimit.Enabled {
		api.Use(d.Limiter.Middleware(cfg.RateLimit.PerHour))
	}
	beneficiaries.NewHandler(d.Beneficiaries, d.Strategy, responses, logger).RegisterRoutes(api)
	programs.NewHandler(d.Programs, d.Strategy, responses, logger).RegisterRoutes(api)

	// Admin routes
	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(authMiddleware.Authenticate, auth.RequireRole(auth.RoleAdmin), accessLog)
	admin.NewAdminHandler(d.Strategy, d.Stats, logger).RegisterRoutes(adminRouter)

	return router
}

func healthHandler(strategy *cache.Strategy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, cacheStatus, code := "healthy", "ok", http.StatusOK
		if err := strategy.Store().Ping(r.Context()); err != nil {
			status, cacheStatus, code = "degraded", err.Error(), http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"cache":   cacheStatus,
			"version": "1.0.0",
		})
	}
}
