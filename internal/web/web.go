package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"mealendar/internal/auth"
	"mealendar/internal/chat"
	"mealendar/internal/config"
	"mealendar/internal/dashboard"
	appLog "mealendar/internal/log"
	"mealendar/internal/schedule"
)

// Server provides the dashboard page and its JSON APIs.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux

	oauth     *auth.OAuth
	schedule  *schedule.Service
	panels    *dashboard.Panels
	assistant *chat.Assistant
}

// Deps are the services behind the HTTP handlers. OAuth and Assistant may
// be nil when Google login or the chat model are not configured.
type Deps struct {
	OAuth     *auth.OAuth
	Schedule  *schedule.Service
	Panels    *dashboard.Panels
	Assistant *chat.Assistant
}

// embeddedStatic contains the dashboard page (index.html, app.js,
// style.css).
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, debug bool, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		debug:     debug,
		mux:       http.NewServeMux(),
		oauth:     deps.OAuth,
		schedule:  deps.Schedule,
		panels:    deps.Panels,
		assistant: deps.Assistant,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.corsMiddleware(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen, "hashed", auth.IsHashed(s.cfg.BasicAuth.Password))
		h = s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthExempt are reachable without Basic Auth: health checks and the
// OAuth provider's redirect back to us.
var basicAuthExempt = map[string]bool{
	"/health":                   true,
	"/api/auth/google/callback": true,
}

// basicAuthMiddleware wraps all handlers except basicAuthExempt with HTTP
// Basic Auth. The configured password may be an argon2id hash.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if basicAuthExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !auth.SecureCompare(u, username) || !auth.CheckPassword(password, p) {
			if ok {
				appLog.Warn("failed basic auth attempt", "remote", r.RemoteAddr, "user", u)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="Mealendar", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets the configured frontend origin call the API with
// credentials (the session cookie).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := s.cfg.FrontendOrigin

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed == "" || origin != allowed {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	s.mux.HandleFunc("GET /api/auth/google/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/auth/google/callback", s.handleCallback)
	s.mux.HandleFunc("GET /api/auth/google/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/auth/google/logout", s.handleLogout)

	s.mux.HandleFunc("GET /api/calendar/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/map", s.handleMap)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)

	// Embedded dashboard page. All non-/api/* paths fall back to this handler.
	s.mux.Handle("GET /", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer returns an http.Handler that serves the embedded
// dashboard files from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Never answer /api/* with HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handlePreview serves the last captured dashboard PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile answers 404 for a missing file and 500 for other errors.
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.cfg.PreviewPath())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
