package programs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/auth"
	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/db"
	"github.com/HanTheDev/beneficiary-center/internal/models"
)

const (
	PrefixList   = "programs_list"
	PrefixDetail = "programs_detail"

	modelName = "program"
)

type Store interface {
	ListPrograms(ctx context.Context, tenantID int) ([]models.Program, error)
	GetProgram(ctx context.Context, tenantID, id int) (*models.Program, error)
}

// Handler serves the program catalogue. Programs change rarely, so both
// routes use the rare tier.
type Handler struct {
	store     Store
	strategy  *cache.Strategy
	responses *cache.ResponseCache
	logger    *zap.Logger
}

func NewHandler(store Store, strategy *cache.Strategy, responses *cache.ResponseCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     store,
		strategy:  strategy,
		responses: responses,
		logger:    logger.With(zap.String("component", "programs")),
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	list := h.responses.Middleware(cache.Options{KeyPrefix: PrefixList, Policy: cache.PolicyRare})
	detail := h.responses.Middleware(cache.Options{KeyPrefix: PrefixDetail, Policy: cache.PolicyRare})

	router.Handle("/programs", list(http.HandlerFunc(h.List))).Methods("GET")
	router.Handle("/programs/{id:[0-9]+}", detail(http.HandlerFunc(h.Get))).Methods("GET")
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	programs, err := h.store.ListPrograms(r.Context(), claims.TenantID)
	if err != nil {
		h.logger.Error("list programs failed", zap.Error(err))
		http.Error(w, "Failed to list programs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(programs)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid program ID", http.StatusBadRequest)
		return
	}

	policy, err := h.strategy.Policy(cache.PolicyRare)
	if err != nil {
		http.Error(w, "Cache error", http.StatusInternalServerError)
		return
	}
	key, err := cache.Key(modelName, claims.TenantID, id)
	if err != nil {
		http.Error(w, "Cache error", http.StatusInternalServerError)
		return
	}
	program, _, err := cache.GetOrLoad(r.Context(), h.strategy, key, policy, func(ctx context.Context) (*models.Program, error) {
		return h.store.GetProgram(ctx, claims.TenantID, id)
	})
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Program not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get program failed", zap.Int("id", id), zap.Error(err))
		http.Error(w, "Failed to get program", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(program)
}
