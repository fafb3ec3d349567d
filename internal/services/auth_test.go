package services

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/reviewboard/reviewboard-sub003/internal/auth"
	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, cfg *config.Config) (*AuthService, *store.Store) {
	t.Helper()
	s, err := store.New("sqlite", ":memory:")
	require.NoError(t, err)

	registry := auth.NewRegistry(auth.NewReloadableConfig(cfg), auth.Deps{Store: s})
	return NewAuthService(registry, s, nil), s
}

func seedUser(t *testing.T, s *store.Store, username, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = s.CreateUser(&models.User{
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		AuthSource:   "standard",
	})
	require.NoError(t, err)
}

func TestAuthServiceAuthenticate(t *testing.T) {
	svc, s := newTestService(t, &config.Config{
		EnabledBackends: []string{config.BackendStandard},
	})
	seedUser(t, s, "bob", "secret")

	user, err := svc.Authenticate(context.Background(), "Bob", "secret")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	_, err = svc.Authenticate(context.Background(), "bob", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "ghost", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthServiceBackends(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{
		EnabledBackends:   []string{config.BackendStandard, config.BackendX509},
		X509UsernameField: "CN",
	})

	backends := svc.Backends()
	require.Len(t, backends, 2)
	assert.Equal(t, "standard", backends[0].ID)
	assert.True(t, backends[0].Capabilities.SupportsChangePassword)
	assert.Equal(t, "x509", backends[1].ID)
	assert.False(t, backends[1].Capabilities.SupportsChangePassword)
}

func TestAuthServiceAuthenticateCertificate(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{
		EnabledBackends:     []string{config.BackendStandard, config.BackendX509},
		X509UsernameField:   "CN",
		X509AutocreateUsers: true,
	})

	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "bob"}}
	user, err := svc.AuthenticateCertificate(context.Background(), cert)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, "x509", user.AuthSource)
}

func TestAuthServiceCertificateWithoutX509Backend(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{
		EnabledBackends: []string{config.BackendStandard},
	})

	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "bob"}}
	_, err := svc.AuthenticateCertificate(context.Background(), cert)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthServiceUpdatePassword(t *testing.T) {
	svc, s := newTestService(t, &config.Config{
		EnabledBackends: []string{config.BackendStandard},
	})
	seedUser(t, s, "bob", "old-secret")

	user, err := svc.Authenticate(context.Background(), "bob", "old-secret")
	require.NoError(t, err)

	require.NoError(t, svc.UpdatePassword(user, "new-secret"))

	_, err = svc.Authenticate(context.Background(), "bob", "old-secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(context.Background(), "bob", "new-secret")
	assert.NoError(t, err)
}

func TestAuthServiceMutationsRequireCapability(t *testing.T) {
	// With x509 first, it is the primary backend and supports no
	// profile mutations.
	svc, s := newTestService(t, &config.Config{
		EnabledBackends:   []string{config.BackendX509, config.BackendStandard},
		X509UsernameField: "CN",
	})
	seedUser(t, s, "bob", "secret")

	user, err := svc.Authenticate(context.Background(), "bob", "secret")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.UpdatePassword(user, "new"), ErrNotSupported)
	assert.ErrorIs(t, svc.UpdateName(user, "Robert", "Tables"), ErrNotSupported)
	assert.ErrorIs(t, svc.UpdateEmail(user, "bob@example.com"), ErrNotSupported)
}

func TestAuthServiceUpdateNameAndEmail(t *testing.T) {
	svc, s := newTestService(t, &config.Config{
		EnabledBackends: []string{config.BackendStandard},
	})
	seedUser(t, s, "bob", "secret")

	user, err := svc.Authenticate(context.Background(), "bob", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateName(user, "Robert", "Tables"))
	require.NoError(t, svc.UpdateEmail(user, "bob@example.com"))

	saved, err := svc.GetUserByUsername("Bob")
	require.NoError(t, err)
	assert.Equal(t, "Robert Tables", saved.FullName())
	assert.Equal(t, "bob@example.com", saved.Email)
}

func TestAuthServiceGetUserByUsername(t *testing.T) {
	svc, s := newTestService(t, &config.Config{
		EnabledBackends: []string{config.BackendStandard},
	})
	seedUser(t, s, "bob", "secret")

	user, err := svc.GetUserByUsername("  BOB ")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	_, err = svc.GetUserByUsername("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
