// Package service implements device registration with per-plan quotas.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/textextract/textextract/internal/device/domain"
	userdomain "github.com/textextract/textextract/internal/user/domain"
)

// ErrDeviceLimitExceeded is returned when registering a new device would exceed
// the user's plan device quota. Re-registering a known identifier never fails
// with this error.
var ErrDeviceLimitExceeded = errors.New("device limit exceeded for plan")

// DeviceRepo is the minimal device repository needed by the registrar.
type DeviceRepo interface {
	GetByUserAndIdentifier(ctx context.Context, userID, identifier string) (*domain.Device, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, d *domain.Device) error
	Update(ctx context.Context, d *domain.Device) error
}

// UserRepo is the minimal user repository needed by the registrar.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Registrar associates device identifiers with users and enforces plan quotas.
type Registrar struct {
	devices DeviceRepo
	users   UserRepo
	nowF    func() time.Time
}

// NewRegistrar returns a Registrar with the given repositories.
func NewRegistrar(devices DeviceRepo, users UserRepo) *Registrar {
	return &Registrar{devices: devices, users: users, nowF: func() time.Time { return time.Now().UTC() }}
}

// Register records a device for the user and returns its id.
//
// A known (userID, identifier) pair is always accepted: its metadata and
// last-active timestamp are updated without a quota check. A new identifier
// counts against the user's plan device limit; when the active-device count
// has already reached the limit, Register fails with ErrDeviceLimitExceeded.
func (r *Registrar) Register(ctx context.Context, userID, identifier string, info *domain.Info) (string, error) {
	if identifier == "" {
		return "", errors.New("device identifier is required")
	}
	now := r.nowF()

	existing, err := r.devices.GetByUserAndIdentifier(ctx, userID, identifier)
	if err != nil {
		return "", err
	}
	if existing != nil {
		existing.LastActiveAt = &now
		applyInfo(existing, info)
		if err := r.devices.Update(ctx, existing); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", errors.New("user not found")
	}
	limit := user.Plan.DeviceLimit()
	if limit >= 0 {
		count, err := r.devices.CountActiveByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		if count >= limit {
			return "", ErrDeviceLimitExceeded
		}
	}

	d := &domain.Device{
		ID:           uuid.New().String(),
		UserID:       userID,
		Identifier:   identifier,
		Status:       domain.DeviceStatusActive,
		LastActiveAt: &now,
		CreatedAt:    now,
	}
	applyInfo(d, info)
	if err := r.devices.Create(ctx, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

func applyInfo(d *domain.Device, info *domain.Info) {
	if info == nil {
		return
	}
	if info.Name != "" {
		d.Name = info.Name
	}
	if info.Type != "" {
		d.Type = info.Type
	}
	if info.OSName != "" {
		d.OSName = info.OSName
	}
	if info.OSVersion != "" {
		d.OSVersion = info.OSVersion
	}
	if info.AppVersion != "" {
		d.AppVersion = info.AppVersion
	}
}
