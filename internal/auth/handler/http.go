// Package handler exposes the auth service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/textextract/textextract/internal/auth/service"
	devicedomain "github.com/textextract/textextract/internal/device/domain"
	deviceservice "github.com/textextract/textextract/internal/device/service"
	"github.com/textextract/textextract/internal/server/middleware"
	"github.com/textextract/textextract/internal/server/respond"
	userdomain "github.com/textextract/textextract/internal/user/domain"
)

// Handler serves the /auth routes.
type Handler struct {
	svc         *service.Service
	webLoginURL string
}

// New returns an auth Handler. webLoginURL is the hosted login page that
// GET /auth/web-login redirects the browser to.
func New(svc *service.Service, webLoginURL string) *Handler {
	return &Handler{svc: svc, webLoginURL: webLoginURL}
}

// RegisterPublic mounts the routes that need no session.
func (h *Handler) RegisterPublic(r *mux.Router) {
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/web-login", h.webLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/complete-web-login", h.completeWebLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/{token}", h.verifyEmail).Methods(http.MethodGet)
	r.HandleFunc("/auth/request-password-reset", h.requestPasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", h.resetPassword).Methods(http.MethodPost)
}

// RegisterProtected mounts the routes behind the session guard.
func (h *Handler) RegisterProtected(r *mux.Router) {
	r.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
}

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name,omitempty"`
	Plan          string     `json:"plan_type"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toUserResponse(u *userdomain.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		Plan:          string(u.Plan),
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func toAuthResponse(res *service.AuthResult) authResponse {
	return authResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         toUserResponse(res.User),
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password, req.FullName, deviceAttrs(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toAuthResponse(res))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, clientAddr(r), deviceAttrs(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	respond.JSON(w, http.StatusOK, toUserResponse(user))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	access, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"access_token": access})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.Body != nil {
		// Body is optional; a missing or empty body just means no refresh
		// token to revoke.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	token := middleware.TokenFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), token, req.RefreshToken); err != nil {
		slog.Error("logout", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// webLogin redirects the browser to the hosted login page, forwarding
// redirect_uri, device_id, and state untouched.
func (h *Handler) webLogin(w http.ResponseWriter, r *http.Request) {
	if h.webLoginURL == "" {
		respond.Error(w, http.StatusNotFound, "web login is not configured")
		return
	}
	target, err := url.Parse(h.webLoginURL)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	q := target.Query()
	for _, k := range []string{"redirect_uri", "device_id", "state"} {
		if v := r.URL.Query().Get(k); v != "" {
			q.Set(k, v)
		}
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// completeWebLogin accepts the hosted login form submission and redirects the
// browser to the desktop listener's callback URL carrying the tokens.
func (h *Handler) completeWebLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	attrs := deviceAttrs(r)
	if attrs == nil {
		if id := r.PostFormValue("device_id"); id != "" {
			attrs = &service.DeviceAttrs{Identifier: id}
		}
	}
	callback, err := h.svc.CompleteWebLogin(r.Context(),
		r.PostFormValue("email"),
		r.PostFormValue("password"),
		r.PostFormValue("redirect_uri"),
		r.PostFormValue("state"),
		clientAddr(r),
		attrs,
	)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	http.Redirect(w, r, callback, http.StatusFound)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := h.svc.VerifyEmail(r.Context(), token); err != nil {
		h.writeAuthError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		slog.Error("password reset request", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeAuthError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// writeAuthError maps service errors to HTTP statuses. Unexpected errors are
// logged and hidden behind a generic 500.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	var rle *service.RateLimitedError
	var ve *service.ValidationError
	switch {
	case errors.As(err, &rle):
		respond.Error(w, http.StatusTooManyRequests, rle.Message)
	case errors.Is(err, service.ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrAccountInactive):
		respond.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		respond.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, deviceservice.ErrDeviceLimitExceeded):
		respond.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrInvalidOneTimeToken):
		respond.Error(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &ve):
		respond.Error(w, http.StatusBadRequest, ve.Message)
	default:
		slog.Error("auth request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// deviceAttrs builds the device registration attributes from the optional
// client headers. Returns nil when the request carries no device identifier.
func deviceAttrs(r *http.Request) *service.DeviceAttrs {
	id := r.Header.Get("X-Device-ID")
	if id == "" {
		return nil
	}
	return &service.DeviceAttrs{
		Identifier: id,
		Info: &devicedomain.Info{
			Name:       r.Header.Get("X-Device-Name"),
			Type:       r.Header.Get("X-Device-Type"),
			OSName:     r.Header.Get("X-OS-Name"),
			OSVersion:  r.Header.Get("X-OS-Version"),
			AppVersion: r.Header.Get("X-App-Version"),
		},
	}
}

// clientAddr returns the client address used to key login rate limiting. The
// first X-Forwarded-For hop wins when present (the server is expected to sit
// behind a trusted proxy); otherwise the connection's remote host.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
