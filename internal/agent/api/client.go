// Package api is the desktop client's typed HTTP client for the TextExtract
// backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the backend the desktop client talks to unless
// overridden.
const DefaultBaseURL = "http://localhost:5000"

// ErrUnauthorized is returned for 401 responses so callers can trigger a
// refresh or re-login.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx backend response with a decoded error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the backend. DeviceID and AppVersion are sent with every
// request so logins count toward the device quota.
type Client struct {
	BaseURL    string
	DeviceID   string
	AppVersion string
	HTTP       *http.Client
}

// New returns a Client for baseURL. An empty baseURL selects DefaultBaseURL.
func New(baseURL, deviceID, appVersion string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		DeviceID:   deviceID,
		AppVersion: appVersion,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// User is the backend's user payload.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Plan          string `json:"plan_type"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthResult is the login/register response.
type AuthResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/auth/login", "",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns the initial session.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/auth/register", "",
		map[string]string{"email": email, "password": password, "full_name": fullName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "",
		map[string]string{"refresh_token": refreshToken}, &out)
	if err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Logout revokes the session server-side. refreshToken may be empty.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	body := map[string]string{}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, body, nil)
}

// Profile fetches the authenticated user's profile. It doubles as the
// session probe after browser login: a nil error means the token works.
func (c *Client) Profile(ctx context.Context, accessToken string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/users/profile", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	if c.AppVersion != "" {
		req.Header.Set("X-App-Version", c.AppVersion)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
