package services

import (
	"context"
	"crypto/x509"
	"errors"
	"log"
	"time"

	"github.com/reviewboard/reviewboard-sub003/internal/auth"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotSupported       = errors.New("operation not supported by the primary backend")
	ErrNoBackends         = errors.New("no authentication backends enabled")
)

// BackendDescriptor is the read-only view of a registered backend
// exposed to API consumers.
type BackendDescriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities auth.Capabilities `json:"capabilities"`
}

// AuthService drives the backend registry: authentication fans out to
// the enabled backends in order, profile mutations go to the primary
// backend only.
type AuthService struct {
	registry *auth.Registry
	store    *store.Store
	metrics  metrics.Recorder
}

func NewAuthService(registry *auth.Registry, s *store.Store, m metrics.Recorder) *AuthService {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &AuthService{registry: registry, store: s, metrics: m}
}

// Authenticate tries each enabled backend in order and returns the
// user from the first backend that accepts the credentials. Total
// failure is indistinguishable from a wrong password.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	start := time.Now()

	for _, backend := range s.registry.EnabledBackends() {
		user := backend.Authenticate(ctx, username, password)
		if user == nil {
			continue
		}
		s.metrics.RecordAuthAttempt(backend.ID(), "success", time.Since(start))
		log.Printf("[Auth] user %q authenticated via backend %s", user.Username, backend.ID())
		return user, nil
	}

	s.metrics.RecordAuthAttempt("all", "rejected", time.Since(start))
	return nil, ErrInvalidCredentials
}

// AuthenticateCertificate routes a verified TLS client certificate to
// the X.509 backend, if enabled.
func (s *AuthService) AuthenticateCertificate(ctx context.Context, cert *x509.Certificate) (*models.User, error) {
	start := time.Now()

	backend := s.registry.Get("x509")
	if backend == nil {
		return nil, ErrInvalidCredentials
	}
	x509Backend, ok := backend.(*auth.X509Backend)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	user := x509Backend.AuthenticateCertificate(ctx, cert)
	if user == nil {
		s.metrics.RecordAuthAttempt("x509", "rejected", time.Since(start))
		return nil, ErrInvalidCredentials
	}
	s.metrics.RecordAuthAttempt("x509", "success", time.Since(start))
	return user, nil
}

// Backends returns the descriptors of the enabled backends in order.
func (s *AuthService) Backends() []BackendDescriptor {
	backends := s.registry.EnabledBackends()
	descriptors := make([]BackendDescriptor, 0, len(backends))
	for _, backend := range backends {
		descriptors = append(descriptors, BackendDescriptor{
			ID:           backend.ID(),
			Name:         backend.Name(),
			Capabilities: backend.Capabilities(),
		})
	}
	return descriptors
}

// UpdatePassword changes a user's password through the primary backend.
func (s *AuthService) UpdatePassword(user *models.User, newPassword string) error {
	primary := s.registry.Primary()
	if primary == nil {
		return ErrNoBackends
	}
	if !primary.Capabilities().SupportsChangePassword {
		return ErrNotSupported
	}
	return primary.UpdatePassword(user, newPassword)
}

// UpdateName changes a user's name through the primary backend.
func (s *AuthService) UpdateName(user *models.User, firstName, lastName string) error {
	primary := s.registry.Primary()
	if primary == nil {
		return ErrNoBackends
	}
	if !primary.Capabilities().SupportsChangeName {
		return ErrNotSupported
	}
	return primary.UpdateName(user, firstName, lastName)
}

// UpdateEmail changes a user's email through the primary backend.
func (s *AuthService) UpdateEmail(user *models.User, email string) error {
	primary := s.registry.Primary()
	if primary == nil {
		return ErrNoBackends
	}
	if !primary.Capabilities().SupportsChangeEmail {
		return ErrNotSupported
	}
	return primary.UpdateEmail(user, email)
}

func (s *AuthService) GetUserByUsername(username string) (*models.User, error) {
	user, err := s.store.FindByUsername(auth.NormalizeUsername(username))
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
