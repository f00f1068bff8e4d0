package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modelhub-backend/internal/auth"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, auth.CheckPassword("hunter2", hash))
	assert.False(t, auth.CheckPassword("wrong", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)

	userId := uuid.New()
	token, err := issuer.IssueToken(userId)
	require.NoError(t, err)

	parsed, err := issuer.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userId, parsed)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)
	other := auth.NewTokenIssuer([]byte("other-secret"), time.Hour)

	token, err := issuer.IssueToken(uuid.New())
	require.NoError(t, err)

	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), -time.Minute)

	token, err := issuer.IssueToken(uuid.New())
	require.NoError(t, err)

	_, err = issuer.VerifyToken(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)
	userId := uuid.New()

	var seen uuid.UUID
	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.UserId(r.Context())
		require.True(t, ok)
		seen = id
	}))

	t.Run("ValidToken", func(t *testing.T) {
		token, err := issuer.IssueToken(userId)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userId, seen)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("MalformedToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
