// Package server is the gateway's HTTP surface: routing and auth guards,
// the setup and session REST endpoints, identity sign-in, and the WebSocket
// transport.
package server

import (
	"context"
	"embed"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/claude"
	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/debuglog"
	"github.com/ehrlich-b/perch/internal/session"
	"github.com/ehrlich-b/perch/internal/store"
)

// SandboxControl is the slice of the sandbox lifecycle the server needs.
type SandboxControl interface {
	State(ctx context.Context) (string, error)
	EnsureRunning(ctx context.Context) error
	Uptime(ctx context.Context) (time.Duration, error)
}

//go:embed static
var staticFS embed.FS

const sessionCookieName = "perch_session"

type Server struct {
	Config    *config.Config
	Store     *store.Store
	Tokens    *claude.TokenStore
	OAuth     *claude.Client
	Manager   *session.Manager
	Sandbox   SandboxControl
	Ring      *debuglog.Ring
	Version   string
	StartedAt time.Time

	mux         *http.ServeMux
	authLimiter *rate.Limiter
}

func New(cfg *config.Config, st *store.Store, tokens *claude.TokenStore, oauth *claude.Client, mgr *session.Manager, sb SandboxControl, ring *debuglog.Ring, version string) *Server {
	s := &Server{
		Config:      cfg,
		Store:       st,
		Tokens:      tokens,
		OAuth:       oauth,
		Manager:     mgr,
		Sandbox:     sb,
		Ring:        ring,
		Version:     version,
		StartedAt:   time.Now(),
		mux:         http.NewServeMux(),
		authLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/monitor", s.handleMonitor)
	s.mux.HandleFunc("GET /api/session", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/session", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/ws-ticket", s.handleWSTicket)
	s.mux.HandleFunc("POST /api/setup/claude/token", s.handleSetupToken)
	s.mux.HandleFunc("GET /api/setup/claude/start", s.handleSetupStart)
	s.mux.HandleFunc("POST /api/setup/claude/exchange", s.handleSetupExchange)
	s.mux.HandleFunc("GET /api/auth/google", s.handleGoogleAuth)
	s.mux.HandleFunc("GET /api/auth/callback", s.handleGoogleCallback)
	s.mux.HandleFunc("GET /api/debug", s.handleGetDebug)
	s.mux.HandleFunc("DELETE /api/debug", s.handleClearDebug)
	s.mux.HandleFunc("GET /logout", s.handleLogout)
	s.mux.HandleFunc("GET "+config.WSPath, s.handleWS)
	s.registerStaticRoutes()

	return s
}

func (s *Server) registerStaticRoutes() {
	s.mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.servePage(w, "app.html")
	})
	s.mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		s.servePage(w, "login.html")
	})
	s.mux.HandleFunc("GET /setup", func(w http.ResponseWriter, r *http.Request) {
		s.servePage(w, "setup.html")
	})
	s.mux.HandleFunc("GET /manifest.webmanifest", func(w http.ResponseWriter, r *http.Request) {
		data, _ := staticFS.ReadFile("static/manifest.webmanifest")
		w.Header().Set("Content-Type", "application/manifest+json")
		w.Write(data)
	})
}

func (s *Server) servePage(w http.ResponseWriter, name string) {
	data, err := staticFS.ReadFile("static/" + name)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// Route authorization tiers. Public paths never need a cookie; setup paths
// are reachable while authenticated but not yet set up; everything else
// needs both.
func isPublicPath(path string) bool {
	switch path {
	case "/login", "/api/health", "/api/auth/google", "/api/auth/callback", "/manifest.webmanifest":
		return true
	}
	return strings.HasPrefix(path, config.WSPath)
}

func isSetupPath(path string) bool {
	return path == "/setup" || strings.HasPrefix(path, "/api/setup/")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if isPublicPath(path) {
		s.mux.ServeHTTP(w, r)
		return
	}

	if !s.isAuthenticated(r) {
		if strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		http.Redirect(w, r, "/login?return_to="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}

	if !s.setupComplete() && !isSetupPath(path) {
		if strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusConflict, "setup incomplete")
			return
		}
		http.Redirect(w, r, "/setup", http.StatusFound)
		return
	}

	s.mux.ServeHTTP(w, r)
}

func (s *Server) isAuthenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	return auth.VerifySession(s.Config.AppSecret, c.Value) != ""
}

func (s *Server) setupComplete() bool {
	v, err := s.Store.GetConfig(store.KeySetupComplete)
	return err == nil && v == "true"
}

func (s *Server) setSessionCookie(w http.ResponseWriter) error {
	value, err := auth.SignSession(s.Config.AppSecret)
	if err != nil {
		return err
	}
	secure := strings.HasPrefix(s.Config.PublicURL, "https")
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
