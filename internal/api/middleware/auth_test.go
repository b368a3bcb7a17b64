package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zcanic/zcanic-server/internal/api/shared"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/mocks"
	"github.com/zcanic/zcanic-server/internal/service/auth"
)

func TestAuthMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	tests := []struct {
		name           string
		authHeader     string
		validateErr    error
		expectedStatus int
		expectedToken  string
	}{
		{name: "valid token", authHeader: "Bearer valid-token", expectedStatus: http.StatusOK, expectedToken: "valid-token"},
		{name: "lowercase scheme", authHeader: "bearer valid-token", expectedStatus: http.StatusOK, expectedToken: "valid-token"},
		{name: "missing auth header", expectedStatus: http.StatusUnauthorized},
		{name: "invalid auth format", authHeader: "InvalidFormat", expectedStatus: http.StatusUnauthorized},
		{name: "basic scheme", authHeader: "Basic dXNlcjpwYXNz", expectedStatus: http.StatusUnauthorized},
		{name: "extra parts", authHeader: "Bearer a b", expectedStatus: http.StatusUnauthorized},
		{name: "expired token", authHeader: "Bearer expired", validateErr: auth.ErrExpiredToken, expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", authHeader: "Bearer invalid", validateErr: auth.ErrInvalidToken, expectedStatus: http.StatusUnauthorized},
		{name: "not yet valid", authHeader: "Bearer early", validateErr: auth.ErrTokenNotYetValid, expectedStatus: http.StatusUnauthorized},
		{name: "validator failure", authHeader: "Bearer x", validateErr: errors.New("boom"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotToken string
			mw := NewAuthMiddleware(&mocks.MockJWTService{
				ValidateTokenFn: func(_ context.Context, token string) (*auth.Claims, error) {
					gotToken = token
					if tt.validateErr != nil {
						return nil, tt.validateErr
					}
					return &auth.Claims{UserID: userID}, nil
				},
			})

			var capturedUserID uuid.UUID
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id, ok := GetUserID(r); ok {
					capturedUserID = id
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/tasks/x", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			mw.Authenticate(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, userID, capturedUserID)
				assert.Equal(t, tt.expectedToken, gotToken)
			} else {
				assert.Equal(t, uuid.Nil, capturedUserID)
			}
		})
	}
}

func TestAuthMiddleware_WithJWTService(t *testing.T) {
	t.Parallel()

	svc, err := auth.NewJWTService(config.AuthConfig{JWTSecret: "test-secret-that-is-long-enough-for-testing"})
	require.NoError(t, err)
	userID := uuid.New()
	token, err := svc.GenerateToken(context.Background(), userID)
	require.NoError(t, err)

	var captured uuid.UUID
	handler := NewAuthMiddleware(svc).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = shared.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, captured)
}

func TestGetUserID(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.WithUserID(req.Context(), userID))
	got, ok := GetUserID(req)
	assert.True(t, ok)
	assert.Equal(t, userID, got)

	_, ok = GetUserID(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}
