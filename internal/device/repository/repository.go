package repository

import (
	"context"

	"github.com/textextract/textextract/internal/device/domain"
)

// Repository defines persistence for devices.
type Repository interface {
	GetByUserAndIdentifier(ctx context.Context, userID, identifier string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, d *domain.Device) error
	Update(ctx context.Context, d *domain.Device) error
}
