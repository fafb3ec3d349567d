package auth

import (
	"context"
	"log"

	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// StandardBackend authenticates against the local credential store.
// It is always enabled and, absent explicit configuration, runs first;
// as the default primary backend it owns profile mutations.
type StandardBackend struct {
	store *store.Store
}

func NewStandardBackend(s *store.Store) *StandardBackend {
	return &StandardBackend{store: s}
}

func (b *StandardBackend) ID() string { return "standard" }

func (b *StandardBackend) Name() string { return "Standard (local database)" }

func (b *StandardBackend) Capabilities() Capabilities {
	return Capabilities{
		SupportsRegistration:   true,
		SupportsChangeName:     true,
		SupportsChangeEmail:    true,
		SupportsChangePassword: true,
	}
}

func (b *StandardBackend) Authenticate(ctx context.Context, username, password string) *models.User {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil
	}

	user, err := b.store.FindByUsername(username)
	if err != nil {
		return nil
	}
	if !user.IsActive || !user.HasUsablePassword() {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(
		[]byte(user.PasswordHash),
		[]byte(password),
	); err != nil {
		return nil
	}

	return user
}

// GetOrCreateUser for the standard backend only resolves existing local
// users; there is no directory to materialize records from.
func (b *StandardBackend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	return getOrCreateUser(b.store, nil, b.ID(), NormalizeUsername(username), nil)
}

func (b *StandardBackend) UpdatePassword(user *models.User, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	if err := b.store.SaveUser(user); err != nil {
		return err
	}
	log.Printf("[Auth] password changed for user %q", user.Username)
	return nil
}

func (b *StandardBackend) UpdateName(user *models.User, firstName, lastName string) error {
	user.FirstName = firstName
	user.LastName = lastName
	return b.store.SaveUser(user)
}

func (b *StandardBackend) UpdateEmail(user *models.User, email string) error {
	user.Email = email
	return b.store.SaveUser(user)
}
