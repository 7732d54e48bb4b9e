package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/HanTheDev/beneficiary-center/internal/db"
	"github.com/HanTheDev/beneficiary-center/internal/models"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateToken(7, 3, "caseworker", testSecret, time.Hour)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	require.Equal(t, 7, claims.UserID)
	require.Equal(t, 3, claims.TenantID)
	require.Equal(t, "caseworker", claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	good, _, err := GenerateToken(7, 3, "caseworker", testSecret, time.Hour)
	require.NoError(t, err)
	expired, _, err := GenerateToken(7, 3, "caseworker", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(good, "other-secret")
	require.Error(t, err)
	_, err = ValidateToken(expired, testSecret)
	require.Error(t, err)
	_, err = ValidateToken("not-a-token", testSecret)
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	token, _, err := GenerateToken(7, 3, "caseworker", testSecret, time.Hour)
	require.NoError(t, err)

	h := NewMiddleware(testSecret).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := Identity(r)
		require.True(t, ok)
		w.Write([]byte(id))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusOK {
				require.Equal(t, "7", rr.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(claims *Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusUnauthorized, serve(nil))
	require.Equal(t, http.StatusForbidden, serve(&Claims{UserID: 1, Role: "caseworker"}))
	require.Equal(t, http.StatusNoContent, serve(&Claims{UserID: 1, Role: RoleAdmin}))
}

func TestIdentityWithoutClaims(t *testing.T) {
	_, ok := Identity(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

type fakeUsers map[string]*models.User

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f[email]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func TestIssueToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	users := fakeUsers{
		"ada@example.com":  {ID: 7, TenantID: 3, Email: "ada@example.com", PasswordHash: string(hash), Role: "caseworker", IsActive: true},
		"gone@example.com": {ID: 8, TenantID: 3, Email: "gone@example.com", PasswordHash: string(hash), Role: "caseworker"},
	}
	router := mux.NewRouter()
	NewLoginHandler(users, testSecret, time.Hour, nil).RegisterRoutes(router)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body)))
		return rr
	}

	rr := post(`{"email":"ada@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "Bearer", resp.TokenType)
	claims, err := ValidateToken(resp.Token, testSecret)
	require.NoError(t, err)
	require.Equal(t, 7, claims.UserID)

	require.Equal(t, http.StatusUnauthorized, post(`{"email":"ada@example.com","password":"wrong"}`).Code)
	require.Equal(t, http.StatusUnauthorized, post(`{"email":"nobody@example.com","password":"s3cret"}`).Code)
	require.Equal(t, http.StatusUnauthorized, post(`{"email":"gone@example.com","password":"s3cret"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{"email":"not-an-email","password":"x"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{`).Code)
}
