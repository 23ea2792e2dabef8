// Package credstore persists the desktop client's session credentials. The
// OS keyring is preferred; when it is unavailable (headless Linux, locked
// keychains) an in-memory store keeps the session for the process lifetime.
package credstore

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service entry all credentials are stored under.
const ServiceName = "TextExtract"

// Keyring account names, one per credential field.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUserID       = "user_id"
	keyEmail        = "email"
	keyDeviceID     = "device_id"
)

// ErrNotFound is returned when a credential field has no stored value.
var ErrNotFound = errors.New("credential not found")

// Credentials is the session state persisted after a successful login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
}

// Store persists and retrieves session credentials.
type Store interface {
	// Save stores the full credential set, replacing any previous session.
	Save(c Credentials) error
	// AccessToken returns the stored access token or ErrNotFound.
	AccessToken() (string, error)
	// RefreshToken returns the stored refresh token or ErrNotFound.
	RefreshToken() (string, error)
	// UserID returns the stored user id or ErrNotFound.
	UserID() (string, error)
	// Email returns the stored account email or ErrNotFound.
	Email() (string, error)
	// Clear removes all stored credentials. Clearing an empty store is not
	// an error.
	Clear() error
	// IsAuthenticated reports whether an access token is stored.
	IsAuthenticated() bool
}

// Open probes the OS keyring with a write/read/delete round trip and returns
// a KeyringStore when it works, otherwise a MemoryStore. The returned bool is
// true when the keyring is in use.
func Open() (Store, bool) {
	const probeKey = "storage_probe"
	if err := keyring.Set(ServiceName, probeKey, "ok"); err != nil {
		return NewMemoryStore(), false
	}
	v, err := keyring.Get(ServiceName, probeKey)
	_ = keyring.Delete(ServiceName, probeKey)
	if err != nil || v != "ok" {
		return NewMemoryStore(), false
	}
	return &KeyringStore{}, true
}

// KeyringStore stores credentials in the OS keyring under ServiceName.
type KeyringStore struct{}

func (s *KeyringStore) Save(c Credentials) error {
	fields := map[string]string{
		keyAccessToken:  c.AccessToken,
		keyRefreshToken: c.RefreshToken,
		keyUserID:       c.UserID,
		keyEmail:        c.Email,
	}
	for k, v := range fields {
		if v == "" {
			_ = keyring.Delete(ServiceName, k)
			continue
		}
		if err := keyring.Set(ServiceName, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *KeyringStore) AccessToken() (string, error)  { return s.get(keyAccessToken) }
func (s *KeyringStore) RefreshToken() (string, error) { return s.get(keyRefreshToken) }
func (s *KeyringStore) UserID() (string, error)       { return s.get(keyUserID) }
func (s *KeyringStore) Email() (string, error)        { return s.get(keyEmail) }

func (s *KeyringStore) get(key string) (string, error) {
	v, err := keyring.Get(ServiceName, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

// Clear deletes every credential field. Missing entries are ignored so Clear
// is idempotent.
func (s *KeyringStore) Clear() error {
	for _, k := range []string{keyAccessToken, keyRefreshToken, keyUserID, keyEmail} {
		if err := keyring.Delete(ServiceName, k); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *KeyringStore) IsAuthenticated() bool {
	_, err := s.AccessToken()
	return err == nil
}

// MemoryStore keeps credentials in process memory. Sessions do not survive a
// restart; the user logs in again next launch.
type MemoryStore struct {
	mu    sync.Mutex
	c     *Credentials
	devID string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.c = &cp
	return nil
}

func (s *MemoryStore) AccessToken() (string, error) {
	return s.get(func(c *Credentials) string { return c.AccessToken })
}

func (s *MemoryStore) RefreshToken() (string, error) {
	return s.get(func(c *Credentials) string { return c.RefreshToken })
}

func (s *MemoryStore) UserID() (string, error) {
	return s.get(func(c *Credentials) string { return c.UserID })
}

func (s *MemoryStore) Email() (string, error) {
	return s.get(func(c *Credentials) string { return c.Email })
}

func (s *MemoryStore) get(f func(*Credentials) string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return "", ErrNotFound
	}
	v := f(s.c)
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = nil
	return nil
}

func (s *MemoryStore) IsAuthenticated() bool {
	_, err := s.AccessToken()
	return err == nil
}
