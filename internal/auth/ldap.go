package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"strings"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/directory"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"

	"github.com/go-ldap/ldap/v3"
)

// LDAPBackend authenticates against a generic LDAP directory: connect,
// bind as the service account (or anonymously), resolve the user's DN,
// then re-bind as the user with the supplied password.
type LDAPBackend struct {
	unsupported

	cfg     *config.Config
	store   *store.Store
	dialer  directory.Dialer
	metrics metrics.Recorder
}

func NewLDAPBackend(cfg *config.Config, deps Deps) *LDAPBackend {
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &directory.NetDialer{Timeout: cfg.DirectoryTimeout}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &LDAPBackend{
		cfg:     cfg,
		store:   deps.Store,
		dialer:  dialer,
		metrics: m,
	}
}

func (b *LDAPBackend) ID() string { return "ldap" }

func (b *LDAPBackend) Name() string { return "LDAP" }

func (b *LDAPBackend) Authenticate(ctx context.Context, username, password string) *models.User {
	username = NormalizeUsername(username)
	if username == "" {
		return nil
	}

	// An empty password must be rejected before any bind: LDAP treats a
	// simple bind with no password as a successful anonymous bind, which
	// would look like valid credentials.
	if password == "" {
		log.Printf("[LDAP] rejecting empty password for user %q", username)
		return nil
	}

	conn, err := b.dialer.DialURL(ctx, b.cfg.LDAPURI)
	if err != nil {
		log.Printf("[LDAP] connect to %s failed: %v", b.cfg.LDAPURI, err)
		return nil
	}
	defer conn.Close()

	if b.cfg.LDAPTLS {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: true}); err != nil { //nolint:gosec
			log.Printf("[LDAP] StartTLS on %s failed: %v", b.cfg.LDAPURI, err)
			return nil
		}
	}

	// Bind as the configured service account, or anonymously.
	if b.cfg.LDAPAnonBindDN != "" {
		err = conn.Bind(b.cfg.LDAPAnonBindDN, b.cfg.LDAPAnonBindPassword)
	} else {
		err = conn.UnauthenticatedBind("")
	}
	if err != nil {
		log.Printf("[LDAP] service bind failed: %v", err)
		return nil
	}

	userDN, err := b.resolveUserDN(conn, username)
	if err != nil {
		log.Printf("[LDAP] could not resolve DN for user %q: %v", username, err)
		return nil
	}

	if err := conn.Bind(userDN, password); err != nil {
		// Invalid credentials and protocol errors alike: reject without
		// telling the caller which stage failed.
		log.Printf("[LDAP] bind as %q failed: %v", userDN, err)
		return nil
	}

	record, err := b.fetchAttributes(conn, userDN)
	if err != nil {
		log.Printf("[LDAP] attribute fetch for %q failed: %v", userDN, err)
		record = nil
	}

	user, err := b.materializeUser(username, record)
	if err != nil {
		log.Printf("[LDAP] could not materialize user %q: %v", username, err)
		return nil
	}
	return user
}

// resolveUserDN searches for the user's entry under the base DN. When a
// UID mask is configured the username is substituted into it; otherwise
// the filter is built from the configured UID attribute.
func (b *LDAPBackend) resolveUserDN(conn directory.Conn, username string) (string, error) {
	var filter string
	if b.cfg.LDAPUIDMask != "" {
		filter = fmt.Sprintf(b.cfg.LDAPUIDMask, ldap.EscapeFilter(username))
	} else {
		filter = fmt.Sprintf("(%s=%s)", b.cfg.LDAPUIDAttribute, ldap.EscapeFilter(username))
	}

	req := ldap.NewSearchRequest(
		b.cfg.LDAPBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"dn"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if len(result.Entries) == 0 {
		return "", ErrNotFound
	}
	return result.Entries[0].DN, nil
}

// fetchAttributes does a BASE-scope search on the resolved DN to read
// the attributes the user record is mapped from.
func (b *LDAPBackend) fetchAttributes(conn directory.Conn, userDN string) (DirectoryRecord, error) {
	attrs := []string{
		b.cfg.LDAPGivenNameAttribute,
		b.cfg.LDAPSurnameAttribute,
	}
	if b.cfg.LDAPFullNameAttribute != "" {
		attrs = append(attrs, b.cfg.LDAPFullNameAttribute)
	}
	if b.cfg.LDAPEmailAttribute != "" {
		attrs = append(attrs, b.cfg.LDAPEmailAttribute)
	}

	req := ldap.NewSearchRequest(
		userDN,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		attrs,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if len(result.Entries) == 0 {
		return nil, ErrNotFound
	}

	record := make(DirectoryRecord)
	for _, attr := range result.Entries[0].Attributes {
		record[attr.Name] = attr.Values
	}
	return record, nil
}

func (b *LDAPBackend) materializeUser(username string, record DirectoryRecord) (*models.User, error) {
	return getOrCreateUser(b.store, b.metrics, b.ID(), username, b.userFields(username, record))
}

// GetOrCreateUser maps the directory record into local user fields and
// provisions the record on first login.
func (b *LDAPBackend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	username = NormalizeUsername(username)
	if record == nil {
		return getOrCreateUser(b.store, b.metrics, b.ID(), username, nil)
	}
	return getOrCreateUser(b.store, b.metrics, b.ID(), username, b.userFields(username, record))
}

// userFields maps directory attributes into local user fields.
func (b *LDAPBackend) userFields(username string, record DirectoryRecord) *models.User {
	firstName := record.Get(b.cfg.LDAPGivenNameAttribute)
	if firstName == "" {
		firstName = username
	}
	lastName := record.Get(b.cfg.LDAPSurnameAttribute)

	// An explicit full-name attribute overrides given/surname: the part
	// before the first whitespace is the first name, the rest the last.
	if b.cfg.LDAPFullNameAttribute != "" {
		if fullName := record.Get(b.cfg.LDAPFullNameAttribute); fullName != "" {
			if idx := strings.Index(fullName, " "); idx >= 0 {
				firstName = fullName[:idx]
				lastName = fullName[idx+1:]
			} else {
				firstName = fullName
				lastName = ""
			}
		}
	}

	var email string
	switch {
	case b.cfg.LDAPEmailDomain != "":
		email = fmt.Sprintf("%s@%s", username, b.cfg.LDAPEmailDomain)
	case b.cfg.LDAPEmailAttribute != "":
		email = record.Get(b.cfg.LDAPEmailAttribute)
	default:
		log.Printf("[LDAP] no email domain or attribute configured; user %q gets no email", username)
	}

	return &models.User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	}
}
