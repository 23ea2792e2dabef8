package domain

import "time"

// Device represents a registered client installation for a user.
type Device struct {
	ID           string
	UserID       string
	Identifier   string // opaque client-generated installation id
	Name         string
	Type         string
	OSName       string
	OSVersion    string
	AppVersion   string
	Status       DeviceStatus
	LastActiveAt *time.Time
	CreatedAt    time.Time
}

type DeviceStatus string

const (
	DeviceStatusActive DeviceStatus = "active"
)

// Info carries optional device metadata extracted from request headers.
// Empty fields leave the stored values unchanged on re-registration.
type Info struct {
	Name       string
	Type       string
	OSName     string
	OSVersion  string
	AppVersion string
}
