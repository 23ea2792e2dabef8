package domain

import (
	"errors"
	"time"
)

// User is the core user entity.
type User struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	Plan          Plan
	Status        UserStatus
	EmailVerified bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Plan is the subscription tier, which determines the device quota.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// DeviceLimit returns the maximum number of active devices for the plan.
// A negative value means unlimited.
func (p Plan) DeviceLimit() int {
	switch p {
	case PlanPro:
		return 5
	case PlanEnterprise:
		return -1
	default:
		return 2
	}
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
