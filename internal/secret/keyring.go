package secret

import (
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/mirulabs/dbmiru/internal/profile"
)

// ServiceName namespaces dbmiru entries in the OS credential manager.
const ServiceName = "dbmiru"

// KeyringStore implements Store on top of the OS keyring
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux).
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a store using the default service name.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: ServiceName}
}

func (s *KeyringStore) Get(p profile.ConnectionProfile) (string, error) {
	value, err := keyring.Get(s.service, account(p))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Join(ErrAccessDenied, err)
	}
	return value, nil
}

func (s *KeyringStore) Set(p profile.ConnectionProfile, value string) error {
	if err := keyring.Set(s.service, account(p), value); err != nil {
		return errors.Join(ErrAccessDenied, err)
	}
	return nil
}

func (s *KeyringStore) Delete(p profile.ConnectionProfile) error {
	err := keyring.Delete(s.service, account(p))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Join(ErrAccessDenied, err)
	}
	return nil
}
