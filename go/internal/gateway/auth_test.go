package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestAuthenticatorUserID(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	userID := uuid.New()

	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auctions/x/state", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userID.String()))

		got, err := auth.UserID(r)
		require.NoError(t, err)
		require.Equal(t, userID, got)
	})

	t.Run("token query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/inbox?token="+signToken(t, testSecret, userID.String()), nil)

		got, err := auth.UserID(r)
		require.NoError(t, err)
		require.Equal(t, userID, got)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/inbox", nil)
		_, err := auth.UserID(r)
		require.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/inbox", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other-secret"), userID.String()))
		_, err := auth.UserID(r)
		require.Error(t, err)
	})

	t.Run("subject is not a uuid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/inbox", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice"))
		_, err := auth.UserID(r)
		require.Error(t, err)
	})
}

func TestMiddlewareStashesUserID(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	userID := uuid.New()

	var seen uuid.UUID
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := UserIDFromContext(r.Context())
		require.True(t, ok)
		seen = got
	}))

	r := httptest.NewRequest(http.MethodGet, "/users/me/notifications", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userID.String()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, userID, seen)

	// No token: rejected before the handler runs.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/me/notifications", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
