package auth

import (
	"context"
	"crypto/x509"
	"log"
	"regexp"
	"strings"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"
)

// X509Backend authenticates by client certificate: the username is
// extracted from a configured certificate field, optionally refined by
// a regular expression. Password authentication is not supported.
type X509Backend struct {
	unsupported

	cfg     *config.Config
	store   *store.Store
	metrics metrics.Recorder
}

func NewX509Backend(cfg *config.Config, s *store.Store, m metrics.Recorder) *X509Backend {
	return &X509Backend{cfg: cfg, store: s, metrics: m}
}

func (b *X509Backend) ID() string { return "x509" }

func (b *X509Backend) Name() string { return "X.509 Public Key" }

// Authenticate always fails for password credentials; certificate
// authentication goes through AuthenticateCertificate.
func (b *X509Backend) Authenticate(ctx context.Context, username, password string) *models.User {
	return nil
}

// AuthenticateCertificate resolves a verified client certificate into a
// local user. Verification itself is the TLS layer's job; by the time
// the certificate reaches this method it is trusted.
func (b *X509Backend) AuthenticateCertificate(ctx context.Context, cert *x509.Certificate) *models.User {
	if cert == nil {
		return nil
	}

	raw := b.certificateField(cert)
	if raw == "" {
		log.Printf("[X509] certificate has no %q field", b.cfg.X509UsernameField)
		return nil
	}

	username := NormalizeUsername(b.extractUsername(raw))
	if username == "" {
		return nil
	}

	if !b.cfg.X509AutocreateUsers {
		user, err := getOrCreateUser(b.store, b.metrics, b.ID(), username, nil)
		if err != nil {
			return nil
		}
		return user
	}

	user, err := b.GetOrCreateUser(username, recordFromCertificate(cert))
	if err != nil {
		log.Printf("[X509] could not materialize user %q: %v", username, err)
		return nil
	}
	return user
}

// certificateField reads the configured subject field from the
// certificate.
func (b *X509Backend) certificateField(cert *x509.Certificate) string {
	switch strings.ToLower(b.cfg.X509UsernameField) {
	case "cn", "commonname":
		return cert.Subject.CommonName
	case "email", "emailaddress":
		if len(cert.EmailAddresses) > 0 {
			return cert.EmailAddresses[0]
		}
		return ""
	default:
		log.Printf("[X509] unknown certificate field %q", b.cfg.X509UsernameField)
		return ""
	}
}

// extractUsername applies the optional username regex to the raw field
// value. An invalid regex is a configuration error: it is logged and
// the raw value is used unmodified. A matching regex contributes its
// first capture group (or the whole match).
func (b *X509Backend) extractUsername(raw string) string {
	if b.cfg.X509UsernameRegex == "" {
		return raw
	}

	re, err := regexp.Compile(b.cfg.X509UsernameRegex)
	if err != nil {
		log.Printf("[X509] invalid username regex %q: %v; using raw field value", b.cfg.X509UsernameRegex, err)
		return raw
	}

	matches := re.FindStringSubmatch(raw)
	switch {
	case matches == nil:
		return raw
	case len(matches) > 1:
		return matches[1]
	default:
		return matches[0]
	}
}

// recordFromCertificate maps certificate subject data into
// directory-record form for materialization.
func recordFromCertificate(cert *x509.Certificate) DirectoryRecord {
	record := make(DirectoryRecord)
	if cn := cert.Subject.CommonName; cn != "" {
		record["commonName"] = []string{cn}
	}
	if len(cert.EmailAddresses) > 0 {
		record["email"] = []string{cert.EmailAddresses[0]}
	}
	return record
}

// GetOrCreateUser populates name and email heuristically from the
// certificate subject.
func (b *X509Backend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	username = NormalizeUsername(username)
	if record == nil {
		return getOrCreateUser(b.store, b.metrics, b.ID(), username, nil)
	}

	firstName := username
	lastName := ""
	if cn := record.Get("commonName"); cn != "" {
		if idx := strings.Index(cn, " "); idx >= 0 {
			firstName = cn[:idx]
			lastName = cn[idx+1:]
		} else {
			firstName = cn
		}
	}

	return getOrCreateUser(b.store, b.metrics, b.ID(), username, &models.User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     record.Get("email"),
	})
}
