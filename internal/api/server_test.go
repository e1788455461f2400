package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parley-im/parley/internal/auth"
	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/metrics"
	"github.com/parley-im/parley/internal/router"
	"github.com/parley-im/parley/internal/session"
	"github.com/parley-im/parley/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Addr:              ":0",
			AllowedOrigins:    []string{"*"},
			MaxBodyBytes:      1024 * 1024,
			AvatarStoragePath: t.TempDir(),
			MaxAvatarBytes:    2 * 1024 * 1024,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}
}

func setupTestServer(t *testing.T, cfg *config.Config) (*Server, *auth.Service) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewStore()
	m := metrics.New(prometheus.NewRegistry())
	rt := router.New(sessions, logger, m, router.Options{})
	authSvc := auth.NewService(s, sessions, rt)
	srv := NewServer(s, authSvc, sessions, rt, cfg, nil, logger)
	return srv, authSvc
}

func registerAndLogin(t *testing.T, authSvc *auth.Service, nickname, password string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := authSvc.Register(ctx, nickname, password); err != nil {
		t.Fatal(err)
	}
	token, _, err := authSvc.Login(ctx, nickname, password)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// parseJSONResponse decodes the JSON body of the response into the given target.
func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
	if _, ok := resp["uptime"]; !ok {
		t.Error("expected uptime field in response")
	}
}

func TestReadyz(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestRegisterSuccess(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	body, _ := json.Marshal(map[string]string{
		"nickname": "alice",
		"password": "secretpass",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d; body: %s", w.Code, w.Body.String())
	}

	var user store.User
	parseJSONResponse(t, w, &user)

	if user.Nickname != "alice" {
		t.Errorf("expected nickname 'alice', got %q", user.Nickname)
	}
	if user.PasswordHash != "" {
		t.Error("password hash should not appear in response")
	}
}

func TestRegisterDuplicateNickname(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	registerAndLogin(t, authSvc, "alice", "secretpass")

	body, _ := json.Marshal(map[string]string{
		"nickname": "alice",
		"password": "otherpass",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d; body: %s", w.Code, w.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	tests := []struct {
		name     string
		nickname string
		password string
	}{
		{"empty nickname", "", "somepassword"},
		{"whitespace nickname", "   ", "somepassword"},
		{"too long nickname", string(make([]byte, 65)), "somepassword"},
		{"empty password", "bob", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{
				"nickname": tc.nickname,
				"password": tc.password,
			})
			req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d; body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestLoginSuccess(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	registerAndLogin(t, authSvc, "alice", "secretpass")

	body, _ := json.Marshal(map[string]string{
		"nickname": "alice",
		"password": "secretpass",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)

	if resp["token"] == "" {
		t.Error("expected non-empty token in response")
	}
	if resp["nickname"] != "alice" {
		t.Errorf("expected nickname 'alice', got %q", resp["nickname"])
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	registerAndLogin(t, authSvc, "alice", "secretpass")

	body, _ := json.Marshal(map[string]string{
		"nickname": "alice",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)

	if resp["error"] != "invalid credentials" {
		t.Errorf("expected 'invalid credentials' error, got %q", resp["error"])
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var user store.User
	parseJSONResponse(t, w, &user)

	if user.Nickname != "alice" {
		t.Errorf("expected nickname 'alice', got %q", user.Nickname)
	}
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_GarbageToken(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestListUsers(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")
	registerAndLogin(t, authSvc, "bob", "hunter22")

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var users []userInfo
	parseJSONResponse(t, w, &users)

	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	// Sorted by nickname, and nobody holds a live WebSocket in this test.
	if users[0].Nickname != "alice" || users[1].Nickname != "bob" {
		t.Errorf("unexpected ordering: %q, %q", users[0].Nickname, users[1].Nickname)
	}
	for _, u := range users {
		if u.Online {
			t.Errorf("user %q reported online without a connection", u.Nickname)
		}
	}
}

func TestChangeNickname(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	body, _ := json.Marshal(map[string]string{
		"new_nickname": "alicia",
		"password":     "secretpass",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/nickname", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", w.Code, w.Body.String())
	}

	// The same token now resolves to the new nickname.
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 after rename, got %d; body: %s", w.Code, w.Body.String())
	}
	var user store.User
	parseJSONResponse(t, w, &user)
	if user.Nickname != "alicia" {
		t.Errorf("expected nickname 'alicia', got %q", user.Nickname)
	}
}

func TestChangeNickname_Taken(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")
	registerAndLogin(t, authSvc, "bob", "hunter22")

	body, _ := json.Marshal(map[string]string{
		"new_nickname": "bob",
		"password":     "secretpass",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/nickname", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d; body: %s", w.Code, w.Body.String())
	}
}

func TestChangeNickname_WrongPassword(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	body, _ := json.Marshal(map[string]string{
		"new_nickname": "alicia",
		"password":     "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/nickname", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d; body: %s", w.Code, w.Body.String())
	}
}

func TestAvatarUploadAndFetch(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="me.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Minimal PNG header is enough; the server does not decode the image.
	if _, err := fw.Write([]byte("\x89PNG\r\n\x1a\nfakepixels")); err != nil {
		t.Fatal(err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/avatar", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)
	if resp["avatar"] == "" {
		t.Fatal("expected avatar filename in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/avatars/"+resp["avatar"], nil)
	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 fetching avatar, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected Content-Type image/png, got %q", ct)
	}
}

func TestAvatarUpload_RejectsUnsupportedType(t *testing.T) {
	srv, authSvc := setupTestServer(t, testConfig(t))
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="evil.html"`},
		"Content-Type":        {"text/html"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("<script>alert(1)</script>"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/avatar", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d; body: %s", w.Code, w.Body.String())
	}
}

func TestGetAvatar_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/avatars/missing.png", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1, Burst: 3}
	srv, authSvc := setupTestServer(t, cfg)
	token := registerAndLogin(t, authSvc, "alice", "secretpass")

	got429 := false
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		srv.mux.ServeHTTP(w, req)

		if w.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}

	if !got429 {
		t.Error("expected to receive a 429 Too Many Requests response, but never got one")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for OPTIONS, got %d", w.Code)
	}

	if allowOrigin := w.Header().Get("Access-Control-Allow-Origin"); allowOrigin != "*" {
		t.Errorf("expected CORS allow-origin '*', got %q", allowOrigin)
	}
}

func TestWebSocketRoute_Unauthorized(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/ws?token=bogus", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}
