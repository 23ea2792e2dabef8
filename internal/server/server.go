// Package server assembles the HTTP router and runs the backend server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	authhandler "github.com/textextract/textextract/internal/auth/handler"
	"github.com/textextract/textextract/internal/security"
	"github.com/textextract/textextract/internal/server/middleware"
	"github.com/textextract/textextract/internal/server/respond"
	userhandler "github.com/textextract/textextract/internal/user/handler"
)

// Options carries the handlers and collaborators the router needs.
type Options struct {
	Auth        *authhandler.Handler
	Users       *userhandler.Handler
	Tokens      *security.TokenService
	UserLoader  middleware.UserLoader
	WebLoginURL string
}

// Server wraps http.Server with the assembled router.
type Server struct {
	http *http.Server
}

// New builds the router and returns a Server listening on addr.
//
// Route layout: /auth/* login-protocol routes are public (and exempt from
// CSRF so the desktop client and the hosted login form can post to them);
// /auth/me, /auth/logout, and /users/* sit behind the session guard with
// CSRF protection for mutating methods.
func New(addr string, opts Options) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	opts.Auth.RegisterPublic(r)

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.RequireAuth(opts.Tokens, opts.UserLoader))
	opts.Auth.RegisterProtected(protected)
	opts.Users.Register(protected)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond.Error(w, http.StatusNotFound, "not found")
	})

	var h http.Handler = r
	h = middleware.CSRF(csrfOrigins(opts.WebLoginURL), []string{"/auth/"})(h)
	h = middleware.Logging(h)
	h = otelhttp.NewHandler(h, "http.server")

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe runs the server until it fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// csrfOrigins derives the allowed browser origins from the hosted login page
// URL. An empty or unparsable URL yields no allowed origins, so every
// state-changing request outside the exempt prefixes is rejected.
func csrfOrigins(webLoginURL string) []string {
	if webLoginURL == "" {
		return nil
	}
	u, err := url.Parse(webLoginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}
