package browserauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/textextract/textextract/internal/agent/api"
	"github.com/textextract/textextract/internal/agent/callback"
	"github.com/textextract/textextract/internal/agent/credstore"
)

// Tests bind private ports so parallel test binaries using the real login
// ports cannot interfere.
const (
	testPrimaryPort  = 28989
	testFallbackPort = 28990
)

func newOrchestrator(store credstore.Store, client *api.Client) *Orchestrator {
	o := New(store, client, "http://localhost:5000")
	o.timeout = 2 * time.Second
	o.listen = func(s credstore.Store) (*callback.Listener, error) {
		return callback.Start(s, testPrimaryPort, testFallbackPort)
	}
	return o
}

func TestAuthenticateShortCircuitsWhenCached(t *testing.T) {
	store := credstore.NewMemoryStore()
	_ = store.Save(credstore.Credentials{AccessToken: "at", UserID: "u1", Email: "a@b.com"})
	o := newOrchestrator(store, api.New("", "", ""))
	o.openURL = func(string) error {
		t.Error("browser must not be opened when already authenticated")
		return nil
	}
	o.listen = func(credstore.Store) (*callback.Listener, error) {
		t.Error("listener must not be started when already authenticated")
		return nil, errors.New("unexpected")
	}

	out, err := o.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusSuccess || out.UserID != "u1" || out.Email != "a@b.com" {
		t.Errorf("outcome: %+v", out)
	}
}

func TestAuthenticateSuccessViaCallback(t *testing.T) {
	store := credstore.NewMemoryStore()
	o := newOrchestrator(store, api.New("", "", ""))

	// The fake browser hits the listener's callback URL the way the real
	// redirect would.
	o.openURL = func(loginURL string) error {
		u, err := url.Parse(loginURL)
		if err != nil {
			return err
		}
		redirect := u.Query().Get("redirect_uri")
		if redirect == "" {
			return errors.New("login URL missing redirect_uri")
		}
		if u.Query().Get("state") == "" {
			return errors.New("login URL missing state")
		}
		go func() {
			resp, err := http.Get(redirect + "?token=T&refresh_token=R&user_id=U&email=E")
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	out, err := o.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusSuccess || out.UserID != "U" || out.Email != "E" {
		t.Errorf("outcome: %+v", out)
	}
	if !store.IsAuthenticated() {
		t.Error("session should be persisted")
	}
	at, _ := store.AccessToken()
	if at != "T" {
		t.Errorf("stored access token: %q", at)
	}
}

func TestAuthenticateBrowserLaunchFailure(t *testing.T) {
	store := credstore.NewMemoryStore()
	o := newOrchestrator(store, api.New("", "", ""))
	o.openURL = func(string) error { return errors.New("no display") }

	out, err := o.Authenticate(context.Background())
	if !errors.Is(err, ErrBrowserLaunchFailed) {
		t.Fatalf("want ErrBrowserLaunchFailed, got %v", err)
	}
	if out.Status != StatusFailed {
		t.Errorf("status: %v", out.Status)
	}
}

func TestAuthenticateTimeout(t *testing.T) {
	store := credstore.NewMemoryStore()
	o := newOrchestrator(store, api.New("", "", ""))
	o.timeout = 100 * time.Millisecond
	o.openURL = func(string) error { return nil }

	out, err := o.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthTimedOut) {
		t.Fatalf("want ErrAuthTimedOut, got %v", err)
	}
	if out.Status != StatusTimedOut {
		t.Errorf("status: %v", out.Status)
	}
}

func TestAuthenticateTimeoutProfileFallback(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/profile" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer stored-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"u1","email":"a@b.com","plan_type":"free","status":"active"}`)
	}))
	defer backend.Close()

	store := credstore.NewMemoryStore()
	o := newOrchestrator(store, api.New(backend.URL, "install-1", "2.3.0"))
	o.timeout = 100 * time.Millisecond
	// The redirect landed and persisted tokens, but the result signal was
	// lost; the fallback profile check should still find the session.
	o.openURL = func(string) error {
		return store.Save(credstore.Credentials{AccessToken: "stored-token", UserID: "u1", Email: "a@b.com"})
	}

	out, err := o.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusSuccess || out.UserID != "u1" {
		t.Errorf("outcome: %+v", out)
	}
}

func TestAuthenticateListenerTornDown(t *testing.T) {
	store := credstore.NewMemoryStore()
	o := newOrchestrator(store, api.New("", "", ""))
	o.timeout = 100 * time.Millisecond
	o.openURL = func(string) error { return nil }

	if _, err := o.Authenticate(context.Background()); !errors.Is(err, ErrAuthTimedOut) {
		t.Fatalf("want timeout, got %v", err)
	}

	// The port must be free again for the next attempt.
	l, err := callback.Start(store, testPrimaryPort, testFallbackPort)
	if err != nil {
		t.Fatalf("port not released after attempt: %v", err)
	}
	if l.Port() != testPrimaryPort {
		t.Errorf("expected primary port to be free, got %d", l.Port())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.Shutdown(ctx)
}
