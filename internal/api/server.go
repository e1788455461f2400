// Package api provides the HTTP API and middleware for the relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-im/parley/internal/auth"
	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/router"
	"github.com/parley-im/parley/internal/session"
	"github.com/parley-im/parley/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	store             store.Store
	auth              *auth.Service
	sessions          *session.Store
	router            *router.Router
	logger            *slog.Logger
	mux               *chi.Mux
	startTime         time.Time
	maxBodyBytes      int64
	avatarStoragePath string
	maxAvatarBytes    int64
	loginRL           *rateLimiter
	rl                *rateLimiter
}

// NewServer creates a new API server. registry carries the relay's metrics;
// pass nil to skip the /metrics endpoint.
func NewServer(s store.Store, a *auth.Service, sessions *session.Store, rt *router.Router, cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger) *Server {
	srv := &Server{
		store:             s,
		auth:              a,
		sessions:          sessions,
		router:            rt,
		logger:            logger.With("component", "api"),
		startTime:         time.Now(),
		maxBodyBytes:      cfg.Server.MaxBodyBytes,
		avatarStoragePath: cfg.Server.AvatarStoragePath,
		maxAvatarBytes:    cfg.Server.MaxAvatarBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	if registry != nil {
		mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Register and login share one IP-keyed limiter so a single host cannot
	// hammer either credential path.
	srv.loginRL = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/register", srv.handleRegister)
	mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/login", srv.handleLogin)

	// WebSocket route (auth handled inside, via ?token=)
	mux.Get("/ws", rt.HandleWS)

	// Avatar files are public once uploaded.
	mux.Get("/avatars/{filename}", srv.handleGetAvatar)

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/users", srv.handleListUsers)
		r.Get("/api/me", srv.handleGetMe)
		r.Post("/api/nickname", srv.handleChangeNickname)
		r.Post("/api/avatar", srv.handleUploadAvatar)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Auth handlers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Nickname string `json:"nickname"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	if len(req.Nickname) < 1 || len(req.Nickname) > 64 {
		writeError(w, http.StatusBadRequest, "nickname must be 1-64 characters")
		return
	}
	if len(req.Password) < 1 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "password must be 1-128 characters")
		return
	}

	user, err := s.auth.Register(r.Context(), req.Nickname, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "nickname already taken")
			return
		}
		s.logger.Warn("register failed", "nickname", req.Nickname, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Nickname string `json:"nickname"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.auth.Login(r.Context(), strings.TrimSpace(req.Nickname), req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"nickname": user.Nickname,
		"avatar":   user.Avatar,
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	nickname := getIdentityFromContext(r.Context())
	user, err := s.store.GetUser(r.Context(), nickname)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- User handlers ---

// userInfo is a directory entry: stored profile plus live presence.
type userInfo struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Online   bool   `json:"online"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	online := s.router.OnlineIdentities()
	result := make([]userInfo, len(users))
	for i, u := range users {
		result[i] = userInfo{Nickname: u.Nickname, Avatar: u.Avatar, Online: online[u.Nickname]}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Nickname < result[j].Nickname })

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChangeNickname(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	nickname := getIdentityFromContext(r.Context())

	var req struct {
		NewNickname string `json:"new_nickname"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.NewNickname = strings.TrimSpace(req.NewNickname)
	if len(req.NewNickname) < 1 || len(req.NewNickname) > 64 {
		writeError(w, http.StatusBadRequest, "nickname must be 1-64 characters")
		return
	}
	if req.NewNickname == nickname {
		writeJSON(w, http.StatusOK, map[string]string{"nickname": nickname})
		return
	}

	if err := s.auth.Rename(r.Context(), nickname, req.NewNickname, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrUserExists):
			writeError(w, http.StatusConflict, "nickname already taken")
		default:
			s.logger.Warn("nickname change failed", "from", nickname, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to change nickname")
		}
		return
	}

	s.logger.Info("nickname changed", "from", nickname, "to", req.NewNickname)
	writeJSON(w, http.StatusOK, map[string]string{"nickname": req.NewNickname})
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
