// Package browserauth drives the browser-based login flow: open the hosted
// login page, run the loopback callback listener, wait for the redirect, and
// persist the resulting session.
package browserauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/textextract/textextract/internal/agent/api"
	"github.com/textextract/textextract/internal/agent/callback"
	"github.com/textextract/textextract/internal/agent/credstore"
)

// DefaultTimeout is how long the orchestrator waits for the browser redirect.
const DefaultTimeout = 5 * time.Minute

// Flow failure errors.
var (
	ErrBrowserLaunchFailed = errors.New("could not open a browser")
	ErrAuthTimedOut        = errors.New("login timed out")
	ErrLoginFailed         = errors.New("login failed")
)

// Status is the terminal state of one login attempt.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Outcome reports how the attempt ended and, on success, who signed in.
type Outcome struct {
	Status Status
	UserID string
	Email  string
}

// Orchestrator runs browser login attempts. One orchestrator may run many
// attempts; each attempt gets a fresh listener.
type Orchestrator struct {
	store   credstore.Store
	client  *api.Client
	baseURL string
	timeout time.Duration
	openURL func(string) error
	listen  func(credstore.Store) (*callback.Listener, error)
}

// New returns an Orchestrator using the given credential store and backend
// client. baseURL is the backend root the browser is sent to.
func New(store credstore.Store, client *api.Client, baseURL string) *Orchestrator {
	return &Orchestrator{
		store:   store,
		client:  client,
		baseURL: baseURL,
		timeout: DefaultTimeout,
		openURL: openBrowser,
		listen: func(s credstore.Store) (*callback.Listener, error) {
			return callback.Start(s)
		},
	}
}

// Authenticate runs one login attempt. If the credential store already holds
// a session, it short-circuits to success without opening anything. The
// listener is always shut down before returning.
func (o *Orchestrator) Authenticate(ctx context.Context) (*Outcome, error) {
	if o.store.IsAuthenticated() {
		return o.cachedOutcome(), nil
	}

	l, err := o.listen(o.store)
	if err != nil {
		return &Outcome{Status: StatusFailed}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Shutdown(shutdownCtx)
	}()

	state := randomState()
	loginURL, err := o.webLoginURL(l.CallbackURL(), state)
	if err != nil {
		return &Outcome{Status: StatusFailed}, err
	}

	browserErr := make(chan error, 1)
	go func() {
		browserErr <- o.openURL(loginURL)
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	for {
		select {
		case res := <-l.Result():
			if !res.Success {
				return &Outcome{Status: StatusFailed}, ErrLoginFailed
			}
			return &Outcome{Status: StatusSuccess, UserID: res.UserID, Email: res.Email}, nil

		case err := <-browserErr:
			if err != nil {
				slog.Warn("browser launch failed", "error", err)
				return &Outcome{Status: StatusFailed}, fmt.Errorf("%w: %v", ErrBrowserLaunchFailed, err)
			}
			// Browser opened; keep waiting for the redirect.
			browserErr = nil

		case <-timer.C:
			if out := o.profileFallback(ctx); out != nil {
				return out, nil
			}
			return &Outcome{Status: StatusTimedOut}, ErrAuthTimedOut

		case <-ctx.Done():
			return &Outcome{Status: StatusTimedOut}, ctx.Err()
		}
	}
}

// cachedOutcome builds a success outcome from the stored session.
func (o *Orchestrator) cachedOutcome() *Outcome {
	out := &Outcome{Status: StatusSuccess}
	out.UserID, _ = o.store.UserID()
	out.Email, _ = o.store.Email()
	return out
}

// profileFallback is the one post-timeout check: if the redirect landed but
// the result was lost (for example the listener page was closed mid-write),
// the tokens may already be in the store. A profile call with the stored
// token confirms the session is real before the flow is declared successful.
func (o *Orchestrator) profileFallback(ctx context.Context) *Outcome {
	token, err := o.store.AccessToken()
	if err != nil || token == "" {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	user, err := o.client.Profile(checkCtx, token)
	if err != nil {
		return nil
	}
	return &Outcome{Status: StatusSuccess, UserID: user.ID, Email: user.Email}
}

// webLoginURL builds the backend web-login URL carrying the listener's
// callback address, the installation's device id, and the state nonce.
func (o *Orchestrator) webLoginURL(callbackURL, state string) (string, error) {
	u, err := url.Parse(o.baseURL + "/auth/web-login")
	if err != nil {
		return "", err
	}
	deviceID, err := credstore.DeviceID(o.store)
	if err != nil {
		slog.Warn("device id unavailable", "error", err)
		deviceID = ""
	}
	q := u.Query()
	q.Set("redirect_uri", callbackURL)
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
