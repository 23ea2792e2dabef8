package repository

import (
	"context"
	"time"

	"github.com/textextract/textextract/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetEmailVerified(ctx context.Context, userID string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}
