package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	appDirName   = "dbmiru"
	profilesFile = "profiles"
	profilesType = "yaml"
)

// Store persists connection profiles as a YAML file in a config directory.
// Only non-secret metadata is written; passwords live in the secret store.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultStore creates a store in the OS-conventional config location
// (e.g. ~/.config/dbmiru on Linux, ~/Library/Application Support/dbmiru on
// macOS).
func DefaultStore() (*Store, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}
	return NewStore(filepath.Join(base, appDirName)), nil
}

// Load reads all saved profiles. A missing file yields an empty list.
func (s *Store) Load() ([]ConnectionProfile, error) {
	v := viper.New()
	v.SetConfigName(profilesFile)
	v.SetConfigType(profilesType)
	v.AddConfigPath(s.dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var profiles []ConnectionProfile
	if err := v.UnmarshalKey("profiles", &profiles); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return profiles, nil
}

// Save writes the full profile list, replacing the previous file.
func (s *Store) Save(profiles []ConnectionProfile) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType(profilesType)
	v.Set("profiles", profiles)

	path := filepath.Join(s.dir, profilesFile+"."+profilesType)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}
