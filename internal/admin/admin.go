package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/querystats"
)

// QueryStats is the read side of the query statistics aggregator.
type QueryStats interface {
	Snapshot(ctx context.Context) (map[string]querystats.Stat, error)
	Reset(ctx context.Context) error
	Dropped() int64
}

type AdminHandler struct {
	strategy *cache.Strategy
	stats    QueryStats
	logger   *zap.Logger
}

func NewAdminHandler(strategy *cache.Strategy, stats QueryStats, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		strategy: strategy,
		stats:    stats,
		logger:   logger.With(zap.String("component", "admin")),
	}
}

// RegisterRoutes mounts the handlers on the /admin subrouter, which must already be restricted to admins.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Query statistics
	router.HandleFunc("/cache/queries", h.GetQueryStats).Methods("GET")
	router.HandleFunc("/cache/queries/reset", h.ResetQueryStats).Methods("POST")

	// Invalidation
	router.HandleFunc("/cache/clear", h.ClearCache).Methods("POST")
	router.HandleFunc("/cache/users/{id}", h.ClearUserCache).Methods("DELETE")
	router.HandleFunc("/cache/models/{name}", h.ClearModelCache).Methods("DELETE")

	// Inspection
	router.HandleFunc("/cache/metadata", h.GetMetadata).Methods("GET")
	router.HandleFunc("/cache/policies", h.ListPolicies).Methods("GET")
}

type queryStatView struct {
	Query   string  `json:"query"`
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_time_ms"`
	MinMs   float64 `json:"min_time_ms"`
	MaxMs   float64 `json:"max_time_ms"`
	AvgMs   float64 `json:"avg_time_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (h *AdminHandler) GetQueryStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.stats.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("query stats snapshot failed", zap.Error(err))
		http.Error(w, "Failed to get query stats", http.StatusServiceUnavailable)
		return
	}

	entries := querystats.Sorted(snapshot)
	views := make([]queryStatView, 0, len(entries))
	for _, e := range entries {
		views = append(views, queryStatView{
			Query:   e.Query,
			Count:   e.Count,
			TotalMs: millis(e.Total),
			MinMs:   millis(e.Min),
			MaxMs:   millis(e.Max),
			AvgMs:   millis(e.Avg),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queries": views,
		"dropped": h.stats.Dropped(),
	})
}

func (h *AdminHandler) ResetQueryStats(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.Reset(r.Context()); err != nil {
		h.logger.Error("query stats reset failed", zap.Error(err))
		http.Error(w, "Failed to reset query stats", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type invalidationView struct {
	Deleted int  `json:"deleted"`
	Flushed bool `json:"flushed"`
	Count   int  `json:"count"`
}

func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	store := h.strategy.Store()
	if req.Pattern == "" {
		if err := store.ClearAll(r.Context()); err != nil {
			h.logger.Error("cache clear failed", zap.Error(err))
			http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
			return
		}
		h.logger.Info("cache cleared")
		writeJSON(w, http.StatusOK, invalidationView{Flushed: true, Count: 1})
		return
	}

	res, err := store.ClearPattern(r.Context(), req.Pattern)
	h.respondInvalidation(w, res, err)
}

func (h *AdminHandler) ClearUserCache(w http.ResponseWriter, r *http.Request) {
	res, err := h.strategy.Store().ClearUserCache(r.Context(), mux.Vars(r)["id"])
	h.respondInvalidation(w, res, err)
}

func (h *AdminHandler) ClearModelCache(w http.ResponseWriter, r *http.Request) {
	res, err := h.strategy.Store().ClearModelCache(r.Context(), mux.Vars(r)["name"])
	h.respondInvalidation(w, res, err)
}

func (h *AdminHandler) respondInvalidation(w http.ResponseWriter, res cache.InvalidationResult, err error) {
	if err != nil {
		h.logger.Error("cache invalidation failed", zap.Error(err))
		http.Error(w, "Cache invalidation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invalidationView{Deleted: res.Deleted, Flushed: res.Flushed, Count: res.Count()})
}

func (h *AdminHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	meta, ok, err := h.strategy.Metadata(r.Context(), key)
	if err != nil {
		h.logger.Error("metadata lookup failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "Failed to get metadata", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Metadata not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *AdminHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	type policyView struct {
		Name         string `json:"name"`
		TTLSeconds   int    `json:"ttl_seconds"`
		RefreshOnHit bool   `json:"refresh_on_hit"`
		MaxSize      int    `json:"max_size"`
	}
	policies := h.strategy.Policies().Sorted()
	views := make([]policyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, policyView{
			Name:         p.Name,
			TTLSeconds:   int(p.TTL / time.Second),
			RefreshOnHit: p.RefreshOnHit,
			MaxSize:      p.MaxSize,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
