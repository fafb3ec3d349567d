// Package auth implements the pluggable authentication backend
// framework: the capability-based Backend interface, the ordered
// Registry, and the standard, LDAP, Active Directory, NIS, X.509 and
// HTTP-digest backends.
//
// Backends absorb all expected failure modes internally (bad password,
// unreachable server, user not found) and surface only a user or nil;
// nothing above this package ever observes a directory-protocol error.
package auth

import (
	"context"
	"strings"

	"github.com/reviewboard/reviewboard-sub003/internal/models"
)

// Capabilities describes the optional operations a backend implements.
type Capabilities struct {
	SupportsRegistration   bool `json:"supports_registration"`
	SupportsChangeName     bool `json:"supports_change_name"`
	SupportsChangeEmail    bool `json:"supports_change_email"`
	SupportsChangePassword bool `json:"supports_change_password"`
}

// DirectoryRecord holds the attributes fetched for one directory entry,
// keyed by attribute name.
type DirectoryRecord map[string][]string

// Get returns the first value of the named attribute, or "".
func (r DirectoryRecord) Get(name string) string {
	if values := r[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// Values returns all values of the named attribute.
func (r DirectoryRecord) Values(name string) []string {
	return r[name]
}

// Backend is one pluggable identity source.
//
// Authenticate never fails loudly: expected failures and unexpected
// errors alike are logged and yield nil, so a caller cannot tell which
// stage rejected the attempt.
type Backend interface {
	// ID is the stable identifier the registry keys on.
	ID() string

	// Name is the human-readable backend name.
	Name() string

	Capabilities() Capabilities

	// Authenticate verifies the credentials and returns the local user
	// on success, provisioning one from directory data if needed.
	Authenticate(ctx context.Context, username, password string) *models.User

	// GetOrCreateUser returns the local user for username, creating it
	// from record if it does not exist. It is idempotent. When the user
	// does not exist locally and record is nil, it returns ErrNotFound
	// rather than querying the directory implicitly.
	GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error)

	// Capability operations. Each returns ErrNotSupported unless the
	// corresponding Capabilities flag is set.
	UpdatePassword(user *models.User, newPassword string) error
	UpdateName(user *models.User, firstName, lastName string) error
	UpdateEmail(user *models.User, email string) error
}

// unsupported provides the default capability operations. Backends
// embed it and override what they support.
type unsupported struct{}

func (unsupported) Capabilities() Capabilities { return Capabilities{} }

func (unsupported) UpdatePassword(*models.User, string) error { return ErrNotSupported }

func (unsupported) UpdateName(*models.User, string, string) error { return ErrNotSupported }

func (unsupported) UpdateEmail(*models.User, string) error { return ErrNotSupported }

// NormalizeUsername applies the shared username policy: surrounding
// whitespace stripped, characters outside [A-Za-z0-9._@+-] removed,
// then lowercased. It is applied before every local lookup so that
// directory-sourced and request-sourced usernames collide correctly.
func NormalizeUsername(username string) string {
	trimmed := strings.TrimSpace(username)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '@', r == '+', r == '-':
			return r
		}
		return -1
	}, trimmed)
	return strings.ToLower(cleaned)
}
