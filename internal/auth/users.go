package auth

import (
	"errors"
	"fmt"
	"log"

	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"
)

// getOrCreateUser implements the shared provisioning contract. username
// must already be normalized. If the user exists locally it is returned
// as-is and fields are ignored. If it does not exist and fields is nil,
// ErrNotFound is returned; otherwise fields is persisted as the new
// record. Calling twice with the same username yields one record.
// m may be nil for backends that never provision.
func getOrCreateUser(s *store.Store, m metrics.Recorder, backendID, username string, fields *models.User) (*models.User, error) {
	user, err := s.FindByUsername(username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if fields == nil {
		return nil, ErrNotFound
	}

	fields.Username = username
	fields.AuthSource = backendID
	fields.IsActive = true

	created, err := s.CreateUser(fields)
	if err != nil {
		if errors.Is(err, store.ErrUsernameConflict) {
			// Lost a race with a concurrent first login; the winner's
			// record is the canonical one.
			return s.FindByUsername(username)
		}
		return nil, err
	}

	if m != nil {
		m.RecordUserCreated(backendID)
	}
	log.Printf("[Auth] provisioned local user %q from backend %s", username, backendID)
	return created, nil
}
