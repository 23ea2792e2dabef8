// Package handler exposes the authenticated user routes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	devicedomain "github.com/textextract/textextract/internal/device/domain"
	"github.com/textextract/textextract/internal/server/middleware"
	"github.com/textextract/textextract/internal/server/respond"
)

// DeviceLister lists a user's registered devices.
type DeviceLister interface {
	ListByUser(ctx context.Context, userID string) ([]*devicedomain.Device, error)
}

// Handler serves the /users routes. All of them sit behind the session guard.
type Handler struct {
	devices DeviceLister
}

// New returns a user Handler.
func New(devices DeviceLister) *Handler {
	return &Handler{devices: devices}
}

// Register mounts the routes on the protected router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/users/profile", h.profile).Methods(http.MethodGet)
	r.HandleFunc("/users/devices", h.listDevices).Methods(http.MethodGet)
}

type profileResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name,omitempty"`
	Plan          string     `json:"plan_type"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	DeviceLimit   int        `json:"device_limit"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// profile returns the authenticated user. The desktop client also uses this
// endpoint as its session probe after browser login.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	respond.JSON(w, http.StatusOK, profileResponse{
		ID:            user.ID,
		Email:         user.Email,
		FullName:      user.FullName,
		Plan:          string(user.Plan),
		Status:        string(user.Status),
		EmailVerified: user.EmailVerified,
		DeviceLimit:   user.Plan.DeviceLimit(),
		LastLoginAt:   user.LastLoginAt,
		CreatedAt:     user.CreatedAt,
	})
}

type deviceResponse struct {
	ID           string     `json:"id"`
	Identifier   string     `json:"device_identifier"`
	Name         string     `json:"device_name,omitempty"`
	Type         string     `json:"device_type,omitempty"`
	OSName       string     `json:"os_name,omitempty"`
	OSVersion    string     `json:"os_version,omitempty"`
	AppVersion   string     `json:"app_version,omitempty"`
	Status       string     `json:"status"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	devices, err := h.devices.ListByUser(r.Context(), userID)
	if err != nil {
		slog.Error("listing devices", "error", err, "user_id", userID)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:           d.ID,
			Identifier:   d.Identifier,
			Name:         d.Name,
			Type:         d.Type,
			OSName:       d.OSName,
			OSVersion:    d.OSVersion,
			AppVersion:   d.AppVersion,
			Status:       string(d.Status),
			LastActiveAt: d.LastActiveAt,
			CreatedAt:    d.CreatedAt,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"devices": out})
}
