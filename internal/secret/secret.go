// Package secret resolves and stores connection passwords in the OS
// credential manager. Failures degrade to "no secret available": there is
// no plaintext fallback, and the runtime never caches what it resolves.
package secret

import (
	"errors"
	"fmt"

	"github.com/mirulabs/dbmiru/internal/profile"
)

// ErrNotFound reports that no secret is stored for a profile.
var ErrNotFound = errors.New("secret: not found")

// ErrAccessDenied reports that the credential manager refused access.
var ErrAccessDenied = errors.New("secret: access denied")

// Store is the capability contract the session runtime requires.
type Store interface {
	// Get returns the secret for a profile, or ErrNotFound.
	Get(p profile.ConnectionProfile) (string, error)

	// Set stores the secret for a profile.
	Set(p profile.ConnectionProfile, value string) error

	// Delete removes the secret for a profile. Deleting a missing secret is
	// not an error.
	Delete(p profile.ConnectionProfile) error
}

// account keys secrets by profile id and username so renaming a profile
// keeps its secret while changing the user invalidates it.
func account(p profile.ConnectionProfile) string {
	return fmt.Sprintf("%s:%s", p.ID, p.Username)
}
