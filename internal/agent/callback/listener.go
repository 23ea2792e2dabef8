// Package callback runs the transient loopback HTTP server that receives the
// browser redirect at the end of a web login and extracts the issued tokens.
// One listener serves exactly one login attempt and is then shut down.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/textextract/textextract/internal/agent/credstore"
)

// PrimaryPort and FallbackPort are the loopback ports the listener tries, in
// order. The hosted login page knows both.
const (
	PrimaryPort  = 8989
	FallbackPort = 8990
)

// ErrPortUnavailable is returned when neither port can be bound.
var ErrPortUnavailable = errors.New("callback ports unavailable")

// Result is the outcome of one login attempt, delivered on the listener's
// result channel. On success the tokens have already been persisted to the
// credential store.
type Result struct {
	Success      bool
	Token        string
	RefreshToken string
	UserID       string
	Email        string
}

// Listener is the single-attempt loopback server.
type Listener struct {
	store  credstore.Store
	srv    *http.Server
	ln     net.Listener
	port   int
	result chan Result
	once   sync.Once
}

// Start binds the loopback listener and begins serving. By default it tries
// PrimaryPort first and FallbackPort second; ErrPortUnavailable wraps the
// bind errors when every candidate is taken. Explicit ports override the
// defaults.
func Start(store credstore.Store, ports ...int) (*Listener, error) {
	if len(ports) == 0 {
		ports = []int{PrimaryPort, FallbackPort}
	}
	l := &Listener{
		store:  store,
		result: make(chan Result, 1),
	}

	var bindErr error
	for _, port := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			bindErr = err
			continue
		}
		l.ln = ln
		l.port = port
		break
	}
	if l.ln == nil {
		return nil, fmt.Errorf("%w: %v", ErrPortUnavailable, bindErr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", l.handleCallback)
	mux.HandleFunc("/direct_auth", l.handleDirectAuth)
	mux.HandleFunc("/", l.handleRoot)

	l.srv = &http.Server{
		Handler:           recoverPanics(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Debug("callback listener stopped", "error", err)
		}
	}()
	return l, nil
}

// Port returns the bound port.
func (l *Listener) Port() int { return l.port }

// CallbackURL returns the redirect target for this attempt.
func (l *Listener) CallbackURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", l.port)
}

// Result returns the channel the attempt's outcome is delivered on. At most
// one Result is ever sent; later redirects hitting the same listener are
// answered but not re-delivered.
func (l *Listener) Result() <-chan Result {
	return l.result
}

// Shutdown stops the server. Safe to call regardless of whether a result was
// delivered.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

// deliver sends the result exactly once.
func (l *Listener) deliver(res Result) {
	l.once.Do(func() {
		l.result <- res
	})
}

// handleCallback extracts token, refresh_token, user_id, and email from the
// query string. Success requires token, user_id, and email; refresh_token is
// optional. The result is delivered before the response body is written.
func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := Result{
		Token:        q.Get("token"),
		RefreshToken: q.Get("refresh_token"),
		UserID:       q.Get("user_id"),
		Email:        q.Get("email"),
	}
	missing := missingFields(res)
	res.Success = len(missing) == 0

	if res.Success {
		if err := l.store.Save(credstore.Credentials{
			AccessToken:  res.Token,
			RefreshToken: res.RefreshToken,
			UserID:       res.UserID,
			Email:        res.Email,
		}); err != nil {
			slog.Warn("persisting credentials", "error", err)
		}
	}
	l.deliver(res)

	if res.Success {
		writePage(w, http.StatusOK, "Login successful",
			"You are signed in. You can close this window and return to TextExtract.")
		return
	}
	writePage(w, http.StatusBadRequest, "Login incomplete",
		"The login redirect was missing required fields: "+joinFields(missing)+".")
}

// handleDirectAuth serves users who were already signed in on the hosted
// page. Cached credentials win; otherwise tokens are read from the query
// string (the auto=true form and the explicit form carry the same
// parameters). Tokens are persisted only when the client was not already
// authenticated.
func (l *Listener) handleDirectAuth(w http.ResponseWriter, r *http.Request) {
	if l.store.IsAuthenticated() {
		res := Result{Success: true}
		res.Token, _ = l.store.AccessToken()
		res.RefreshToken, _ = l.store.RefreshToken()
		res.UserID, _ = l.store.UserID()
		res.Email, _ = l.store.Email()
		l.deliver(res)
		writePage(w, http.StatusOK, "Already signed in",
			"You are signed in. You can close this window and return to TextExtract.")
		return
	}

	q := r.URL.Query()
	res := Result{
		Token:        q.Get("token"),
		RefreshToken: q.Get("refresh_token"),
		UserID:       q.Get("user_id"),
		Email:        q.Get("email"),
	}
	missing := missingFields(res)
	res.Success = len(missing) == 0
	if res.Success {
		if err := l.store.Save(credstore.Credentials{
			AccessToken:  res.Token,
			RefreshToken: res.RefreshToken,
			UserID:       res.UserID,
			Email:        res.Email,
		}); err != nil {
			slog.Warn("persisting credentials", "error", err)
		}
	}
	l.deliver(res)

	if res.Success {
		writePage(w, http.StatusOK, "Login successful",
			"You are signed in. You can close this window and return to TextExtract.")
		return
	}
	writePage(w, http.StatusBadRequest, "Login incomplete",
		"No session was found and the request carried no tokens.")
}

// handleRoot covers "/" and "/profile*". An authenticated client treats the
// hit as an implicit success; anything else bounces to /direct_auth?auto=true.
// Unknown paths are 404.
func (l *Listener) handleRoot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path != "/" && !hasProfilePrefix(path) {
		http.NotFound(w, r)
		return
	}
	if l.store.IsAuthenticated() {
		res := Result{Success: true}
		res.Token, _ = l.store.AccessToken()
		res.RefreshToken, _ = l.store.RefreshToken()
		res.UserID, _ = l.store.UserID()
		res.Email, _ = l.store.Email()
		l.deliver(res)
		writePage(w, http.StatusOK, "Already signed in",
			"You are signed in. You can close this window and return to TextExtract.")
		return
	}
	http.Redirect(w, r, "/direct_auth?auto=true", http.StatusFound)
}

func hasProfilePrefix(path string) bool {
	return len(path) >= len("/profile") && path[:len("/profile")] == "/profile"
}

func missingFields(res Result) []string {
	var missing []string
	if res.Token == "" {
		missing = append(missing, "token")
	}
	if res.UserID == "" {
		missing = append(missing, "user_id")
	}
	if res.Email == "" {
		missing = append(missing, "email")
	}
	return missing
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}

// recoverPanics keeps a handler panic from killing the attempt silently. The
// diagnostic body is acceptable on a loopback-only, short-lived server.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("callback handler panic", "panic", rec, "path", r.URL.Path)
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "internal error: %v", rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writePage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>%s</h2>
<p>%s</p>
</body>
</html>`, title, title, body)
}
