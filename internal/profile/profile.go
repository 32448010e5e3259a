package profile

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ID identifies a connection profile. Opaque to everything but the stores;
// generated as a UUIDv4 string.
type ID string

// NewID generates a fresh profile id.
func NewID() ID {
	return ID(uuid.NewString())
}

// ConnectionProfile is the non-secret description of a saved connection.
// It never contains a password; secrets are resolved separately at connect
// time. A profile is immutable once handed to a session; edits require a
// disconnect and reconnect.
type ConnectionProfile struct {
	ID               ID     `mapstructure:"id" yaml:"id"`
	Name             string `mapstructure:"name" yaml:"name"`
	Host             string `mapstructure:"host" yaml:"host"`
	Port             uint16 `mapstructure:"port" yaml:"port"`
	Database         string `mapstructure:"database" yaml:"database"`
	Username         string `mapstructure:"username" yaml:"username"`
	RememberPassword bool   `mapstructure:"remember_password" yaml:"remember_password"`
}

// New creates a profile with a fresh id.
func New(name, host string, port uint16, database, username string, rememberPassword bool) ConnectionProfile {
	return ConnectionProfile{
		ID:               NewID(),
		Name:             name,
		Host:             host,
		Port:             port,
		Database:         database,
		Username:         username,
		RememberPassword: rememberPassword,
	}
}

// Address returns the host:port pair.
func (p ConnectionProfile) Address() string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	return p.Host + ":" + strconv.Itoa(int(port))
}

// DisplayString returns a human-readable summary of the profile.
func (p ConnectionProfile) DisplayString() string {
	s := p.Address() + "/" + p.Database
	if p.Username != "" {
		s = p.Username + "@" + s
	}
	return s
}

// Validate checks the fields required to attempt a connection.
func (p ConnectionProfile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("profile %q: missing host", p.Name)
	}
	if p.Database == "" {
		return fmt.Errorf("profile %q: missing database", p.Name)
	}
	if p.Username == "" {
		return fmt.Errorf("profile %q: missing username", p.Name)
	}
	return nil
}
