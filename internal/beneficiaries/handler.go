package beneficiaries

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
	"github.com/HanTheDev/beneficiary-center/internal/validation"
)

const (
	PrefixList         = "beneficiaries_list"
	PrefixDetail       = "beneficiaries_detail"
	PrefixAppointments = "beneficiary_appointments"
	PrefixEvaluations  = "beneficiary_evaluations"

	// entity entries shared by every user of a tenant
	modelName = "beneficiary"
)

// response caches dropped after every write
var responsePatterns = []string{PrefixList + ":*", PrefixDetail + ":*", "beneficiary_*:*"}

type Store interface {
	ListBeneficiaries(ctx context.Context, f models.BeneficiaryFilter) (models.BeneficiaryPage, error)
	GetBeneficiary(ctx context.Context, tenantID, id int) (*models.Beneficiary, error)
	CreateBeneficiary(ctx context.Context, tenantID int, in models.BeneficiaryInput) (*models.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, tenantID, id int, in models.BeneficiaryInput) (*models.Beneficiary, error)
	DeleteBeneficiary(ctx context.Context, tenantID, id int) error
	ListAppointments(ctx context.Context, tenantID, beneficiaryID int) ([]models.Appointment, error)
	ListEvaluations(ctx context.Context, tenantID, beneficiaryID int) ([]models.Evaluation, error)
}

type Handler struct {
	store     Store
	strategy  *cache.Strategy
	responses *cache.ResponseCache
	entity    cache.Policy
	logger    *zap.Logger
}

func NewHandler(store Store, strategy *cache.Strategy, responses *cache.ResponseCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	entity, err := strategy.Policy(cache.PolicyModerate)
	if err != nil {
		entity = cache.DefaultPolicies()[cache.PolicyModerate]
	}
	return &Handler{
		store:     store,
		strategy:  strategy,
		responses: responses,
		entity:    entity,
		logger:    logger.With(zap.String("component", "beneficiaries")),
	}
}

// RegisterRoutes mounts the handlers on an authenticated router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	cached := func(prefix, policy string, fn http.HandlerFunc) http.Handler {
		return h.responses.Middleware(cache.Options{KeyPrefix: prefix, Policy: policy})(fn)
	}

	router.Handle("/beneficiaries", cached(PrefixList, cache.PolicyFrequent, h.List)).Methods("GET")
	router.HandleFunc("/beneficiaries", h.Create).Methods("POST")
	router.Handle("/beneficiaries/{id:[0-9]+}", cached(PrefixDetail, cache.PolicyModerate, h.Get)).Methods("GET")
	router.HandleFunc("/beneficiaries/{id:[0-9]+}", h.Update).Methods("PUT")
	router.HandleFunc("/beneficiaries/{id:[0-9]+}", h.Delete).Methods("DELETE")
	router.Handle("/beneficiaries/{id:[0-9]+}/appointments", cached(PrefixAppointments, cache.PolicyFrequent, h.Appointments)).Methods("GET")
	router.Handle("/beneficiaries/{id:[0-9]+}/evaluations", cached(PrefixEvaluations, cache.PolicyModerate, h.Evaluations)).Methods("GET")
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}
	perPage, err := intParam(q.Get("per_page"), 20)
	if err != nil {
		http.Error(w, "Invalid per_page", http.StatusBadRequest)
		return
	}

	result, err := h.store.ListBeneficiaries(r.Context(), models.BeneficiaryFilter{
		TenantID: claims.TenantID,
		Status:   q.Get("status"),
		Search:   q.Get("search"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		h.logger.Error("list beneficiaries failed", zap.Error(err))
		http.Error(w, "Failed to list beneficiaries", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.target(w, r)
	if !ok {
		return
	}

	key, err := cache.Key(modelName, claims.TenantID, id)
	if err != nil {
		http.Error(w, "Cache error", http.StatusInternalServerError)
		return
	}
	b, _, err := cache.GetOrLoad(r.Context(), h.strategy, key, h.entity, func(ctx context.Context) (*models.Beneficiary, error) {
		return h.store.GetBeneficiary(ctx, claims.TenantID, id)
	})
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Beneficiary not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get beneficiary failed", zap.Int("id", id), zap.Error(err))
		http.Error(w, "Failed to get beneficiary", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	b, err := h.store.CreateBeneficiary(r.Context(), claims.TenantID, in)
	if err != nil {
		h.logger.Error("create beneficiary failed", zap.Error(err))
		http.Error(w, "Failed to create beneficiary", http.StatusInternalServerError)
		return
	}

	h.invalidate(r.Context(), true)
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.target(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	key, err := cache.Key(modelName, claims.TenantID, id)
	if err != nil {
		http.Error(w, "Cache error", http.StatusInternalServerError)
		return
	}
	// WriteThrough refreshes the entity entry; only response caches are dropped after it.
	b, err := cache.WriteThrough(r.Context(), h.strategy, key, h.entity, func(ctx context.Context) (*models.Beneficiary, error) {
		return h.store.UpdateBeneficiary(ctx, claims.TenantID, id, in)
	})
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Beneficiary not found", http.StatusNotFound)
		return
	}
	if err != nil && b == nil {
		h.logger.Error("update beneficiary failed", zap.Int("id", id), zap.Error(err))
		http.Error(w, "Failed to update beneficiary", http.StatusInternalServerError)
		return
	}
	// err here is a cache failure after the commit
	h.invalidate(r.Context(), err != nil)
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.target(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteBeneficiary(r.Context(), claims.TenantID, id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Beneficiary not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("delete beneficiary failed", zap.Int("id", id), zap.Error(err))
		http.Error(w, "Failed to delete beneficiary", http.StatusInternalServerError)
		return
	}

	h.invalidate(r.Context(), true)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.target(w, r)
	if !ok {
		return
	}
	appointments, err := h.store.ListAppointments(r.Context(), claims.TenantID, id)
	if err != nil {
		h.logger.Error("list appointments failed", zap.Int("beneficiary_id", id), zap.Error(err))
		http.Error(w, "Failed to list appointments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) Evaluations(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.target(w, r)
	if !ok {
		return
	}
	evaluations, err := h.store.ListEvaluations(r.Context(), claims.TenantID, id)
	if err != nil {
		h.logger.Error("list evaluations failed", zap.Int("beneficiary_id", id), zap.Error(err))
		http.Error(w, "Failed to list evaluations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, evaluations)
}

// invalidate runs after a committed write. Failures are logged: the write
// already happened and stale entries age out with their TTL.
func (h *Handler) invalidate(ctx context.Context, includeModel bool) {
	store := h.strategy.Store()
	for _, pattern := range responsePatterns {
		if _, err := store.ClearPattern(ctx, pattern); err != nil {
			h.logger.Error("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
	if !includeModel {
		return
	}
	if _, err := store.ClearModelCache(ctx, modelName); err != nil {
		h.logger.Error("model cache invalidation failed", zap.String("model", modelName), zap.Error(err))
	}
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (*auth.Claims, int, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, 0, false
	}
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid beneficiary ID", http.StatusBadRequest)
		return nil, 0, false
	}
	return claims, id, true
}

func decodeInput(w http.ResponseWriter, r *http.Request) (models.BeneficiaryInput, bool) {
	var in models.BeneficiaryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return in, false
	}
	if err := validation.Struct(in); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verr.Fields})
			return in, false
		}
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return in, false
	}
	return in, true
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
