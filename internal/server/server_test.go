package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anoa.com/reviewfeed/internal/config"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "jwt-secret"
	testTriggerSecret = "trigger-secret"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:               "test",
		JWTSecret:            testJWTSecret,
		TriggerSecret:        testTriggerSecret,
		TriggerMaxRetries:    10,
		TriggerRetryInterval: 10 * time.Millisecond,
		FeedPageSize:         50,
		FeedOwnRatio:         0.25,
		ReviewEditWindow:     time.Hour,
	}
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   store.Store
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	raw := storetest.New(t)
	srv, err := NewServer(testConfig(), raw, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Runtime().Run(ctx) }()
	select {
	case <-srv.Runtime().Running():
	case <-time.After(5 * time.Second):
		t.Fatal("trigger runtime did not start")
	}
	t.Cleanup(func() {
		cancel()
		_ = srv.Runtime().Close()
	})

	return &testServer{t: t, handler: srv.Handler(), store: raw}
}

func token(t *testing.T, uid string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(method, path, uid string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, uid))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) eventually(path string, want any) {
	s.t.Helper()
	require.Eventually(s.t, func() bool {
		v, err := s.store.Get(context.Background(), path)
		return err == nil && v == want
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s = %v", path, want)
}

// signUp initializes uid and claims username, then waits for the alias.
func (s *testServer) signUp(uid, username string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/users", uid, map[string]any{"name": username})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/api/users/me/username", uid, map[string]any{"username": username})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	s.eventually("userAliases/"+username+"/uid", uid)
}

func TestAuthentication(t *testing.T) {
	s := startServer(t)

	w := s.do(http.MethodPost, "/api/reviews", "", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// authenticated but no username claimed yet
	w = s.do(http.MethodPost, "/api/users", "u9", map[string]any{"name": "Nine"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, "/api/following/someone", "u9", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestInitializeUserTwice(t *testing.T) {
	s := startServer(t)

	w := s.do(http.MethodPost, "/api/users", "u1", map[string]any{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, "/api/users", "u1", map[string]any{"name": "Alice"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFollowAndReviewFlow(t *testing.T) {
	s := startServer(t)
	s.signUp("u1", "alice")
	s.signUp("u2", "bob")

	w := s.do(http.MethodPut, "/api/users/me/username", "u2", map[string]any{"username": "alice"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/following/bob", "u1", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s.eventually("users/u2/followerCount", float64(1))
	s.eventually("users/u1/followingCount", float64(1))
	s.eventually("userAliases/bob/followerCount", float64(1))

	w = s.do(http.MethodPost, "/api/reviews", "u1", map[string]any{
		"type":    "users",
		"target":  "bob",
		"content": "great to work with",
		"rating":  4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s.eventually("users/u2/reviewCount", float64(1))
	s.eventually("users/u1/reviewsSentCount", float64(1))
	s.eventually("users/u2/averageRating", float64(4))

	require.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/notifications", "u2", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var body struct {
			Data []map[string]any `json:"data"`
		}
		return json.Unmarshal(w.Body.Bytes(), &body) == nil && len(body.Data) == 1
	}, 5*time.Second, 10*time.Millisecond)

	w = s.do(http.MethodDelete, "/api/following/bob", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.eventually("users/u2/followerCount", float64(0))
}

func TestNewsfeedEndpoint(t *testing.T) {
	s := startServer(t)

	w := s.do(http.MethodGet, "/api/newsfeed?username=nobody&page=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())

	w = s.do(http.MethodGet, "/api/newsfeed?username=nobody&page=0", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExternalEvents(t *testing.T) {
	s := startServer(t)
	s.signUp("u1", "alice")
	s.signUp("u2", "bob")

	event := map[string]any{
		"id":      "external-1",
		"trigger": TriggerFollow,
		"path":    "following/bob/alice",
		"after":   map[string]any{"type": "users", "username": "alice"},
	}

	w := s.do(http.MethodPost, "/internal/events", "", event)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/internal/events", "", event, triggerSecretHeader, "wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/internal/events", "", map[string]any{
		"trigger": "nope",
		"path":    "following/bob/alice",
	}, triggerSecretHeader, testTriggerSecret)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/internal/events", "", map[string]any{
		"trigger": TriggerFollow,
		"path":    "following/bob",
	}, triggerSecretHeader, testTriggerSecret)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/internal/events", "", event, triggerSecretHeader, testTriggerSecret)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"created"`)
	s.eventually("users/u1/followerCount", float64(1))
	s.eventually("users/u2/followingCount", float64(1))

	// a redelivered event is skipped by the ledger
	w = s.do(http.MethodPost, "/internal/events", "", event, triggerSecretHeader, testTriggerSecret)
	require.Equal(t, http.StatusAccepted, w.Code)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, float64(1), storetest.MustGet(t, s.store, "users/u1/followerCount"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := startServer(t)
	s.signUp("u1", "alice")

	w := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `reviewfeed_trigger_events_published_total{trigger="updateUserAlias"`)
}
