package credstore

import (
	"errors"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

// DeviceID returns the stable installation id for this machine, generating
// and persisting one on first use. The id survives logout (Clear does not
// touch it) so re-login reuses the same device slot instead of consuming
// another one from the plan quota.
func DeviceID(s Store) (string, error) {
	switch st := s.(type) {
	case *KeyringStore:
		return keyringDeviceID()
	case *MemoryStore:
		return st.deviceID()
	default:
		return uuid.New().String(), nil
	}
}

func keyringDeviceID() (string, error) {
	v, err := keyring.Get(ServiceName, keyDeviceID)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", err
	}
	id := uuid.New().String()
	if err := keyring.Set(ServiceName, keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) deviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devID == "" {
		s.devID = uuid.New().String()
	}
	return s.devID, nil
}
