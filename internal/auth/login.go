package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/HanTheDev/beneficiary-center/internal/db"
	"github.com/HanTheDev/beneficiary-center/internal/models"
	"github.com/HanTheDev/beneficiary-center/internal/validation"
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type LoginHandler struct {
	users    UserStore
	secret   string
	tokenTTL time.Duration
	logger   *zap.Logger
}

func NewLoginHandler(users UserStore, secret string, tokenTTL time.Duration, logger *zap.Logger) *LoginHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &LoginHandler{
		users:    users,
		secret:   secret,
		tokenTTL: tokenTTL,
		logger:   logger.With(zap.String("component", "auth")),
	}
}

func (h *LoginHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/token", h.IssueToken).Methods("POST")
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *LoginHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := validation.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		http.Error(w, "Failed to authenticate", http.StatusInternalServerError)
		return
	}
	if !user.IsActive || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := GenerateToken(user.ID, user.TenantID, user.Role, h.secret, h.tokenTTL)
	if err != nil {
		h.logger.Error("token generation failed", zap.Int("user_id", user.ID), zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("token issued", zap.Int("user_id", user.ID), zap.Int("tenant_id", user.TenantID))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expiresAt.UTC(),
	})
}
