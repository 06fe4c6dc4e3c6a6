package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(key)
	require.NoError(t, err)
	return signed
}

func newRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	s := storetest.New(t)
	storetest.Seed(t, s, map[string]any{
		"users/u1": map[string]any{"uid": "u1", "username": "alice"},
		"users/u2": map[string]any{"uid": "u2"},
	})

	m := NewAuthMiddleware(s, secret)
	r := gin.New()
	r.GET("/uid", m.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	r.GET("/username", m.RequireAuth(), m.RequireUsername(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username"))
	})
	return r
}

func get(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r := newRouter(t)

	w := get(r, "/uid", sign(t, jwt.SigningMethodHS256, []byte(secret), "u1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", w.Body.String())

	// websocket clients pass the token as a query parameter
	w = get(r, "/uid?token="+sign(t, jwt.SigningMethodHS256, []byte(secret), "u1"), "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, http.StatusUnauthorized, get(r, "/uid", "").Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "/uid", sign(t, jwt.SigningMethodHS256, []byte("other"), "u1")).Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "/uid", sign(t, jwt.SigningMethodHS256, []byte(secret), "")).Code)
}

func TestRequireUsername(t *testing.T) {
	r := newRouter(t)

	w := get(r, "/username", sign(t, jwt.SigningMethodHS256, []byte(secret), "u1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "alice", w.Body.String())

	w = get(r, "/username", sign(t, jwt.SigningMethodHS256, []byte(secret), "u2"))
	require.Equal(t, http.StatusForbidden, w.Code)
}
