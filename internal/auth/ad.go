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

// ADBackend authenticates against Active Directory. Domain controllers
// are taken from a static list or discovered through DNS SRV records
// and tried sequentially: a connectivity failure moves on to the next
// controller, an invalid-credentials response ends the whole attempt.
//
// When a required group is configured, membership is resolved by
// walking the memberOf graph with a visited set and a depth bound, so
// membership cycles in the directory cannot loop the resolution.
type ADBackend struct {
	unsupported

	cfg      *config.Config
	store    *store.Store
	dialer   directory.Dialer
	resolver directory.SRVResolver
	metrics  metrics.Recorder
}

func NewADBackend(cfg *config.Config, deps Deps) *ADBackend {
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &directory.NetDialer{Timeout: cfg.DirectoryTimeout}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &ADBackend{
		cfg:      cfg,
		store:    deps.Store,
		dialer:   dialer,
		resolver: deps.Resolver,
		metrics:  m,
	}
}

func (b *ADBackend) ID() string { return "ad" }

func (b *ADBackend) Name() string { return "Active Directory" }

// parseUsername splits domain decorations off the raw username:
// "user@sub" and "SUB\user" both select the subdomain "sub". The
// effective domain is "<subdomain>.<baseDomain>" when a subdomain was
// given, else the configured base domain. Parsing happens before
// normalization because the backslash is outside the username charset.
func (b *ADBackend) parseUsername(username string) (localUser, domain string) {
	domain = b.cfg.ADDomainName

	var subdomain string
	if idx := strings.Index(username, "@"); idx >= 0 {
		localUser = username[:idx]
		subdomain = username[idx+1:]
	} else if idx := strings.Index(username, `\`); idx >= 0 {
		subdomain = username[:idx]
		localUser = username[idx+1:]
	} else {
		localUser = username
	}

	if subdomain != "" {
		domain = strings.ToLower(subdomain) + "." + domain
	}
	return localUser, domain
}

// searchRoot computes the base DN user and group searches run under:
// the explicit override if configured, otherwise dc= components built
// from the domain labels, optionally prefixed with an ou= component.
func (b *ADBackend) searchRoot(domain string) string {
	if b.cfg.ADSearchRoot != "" {
		return b.cfg.ADSearchRoot
	}

	var parts []string
	if b.cfg.ADOUName != "" {
		parts = append(parts, fmt.Sprintf("ou=%s", ldap.EscapeDN(b.cfg.ADOUName)))
	}
	for _, label := range strings.Split(domain, ".") {
		if label != "" {
			parts = append(parts, fmt.Sprintf("dc=%s", ldap.EscapeDN(label)))
		}
	}
	return strings.Join(parts, ",")
}

// findControllers enumerates domain controllers in attempt order.
func (b *ADBackend) findControllers(ctx context.Context, domain string) []directory.Controller {
	if b.cfg.ADFindDCFromDNS {
		return directory.DiscoverControllers(ctx, b.resolver, domain)
	}
	return directory.ParseControllerList(b.cfg.ADDomainController)
}

func (b *ADBackend) Authenticate(ctx context.Context, username, password string) *models.User {
	localUser, domain := b.parseUsername(username)
	localUser = NormalizeUsername(localUser)
	if localUser == "" {
		return nil
	}

	// Same hazard as LDAP: a simple bind with an empty password is an
	// anonymous bind and must never count as valid credentials.
	if password == "" {
		log.Printf("[AD] rejecting empty password for user %q", localUser)
		return nil
	}

	controllers := b.findControllers(ctx, domain)
	if len(controllers) == 0 {
		log.Printf("[AD] no domain controllers found for domain %s", domain)
		return nil
	}

	for _, dc := range controllers {
		if err := ctx.Err(); err != nil {
			log.Printf("[AD] aborting controller loop for user %q: %v", localUser, err)
			return nil
		}

		user, decisive := b.tryController(ctx, dc, localUser, domain, password)
		if decisive {
			return user
		}
	}

	log.Printf("[AD] could not contact any domain controller for domain %s", domain)
	return nil
}

// tryController runs one bind/search attempt against a single domain
// controller. decisive is true when the outcome settles the whole
// authentication attempt (success, invalid credentials, user not found,
// missing required group); false means a per-controller failure the
// loop should fail over from.
func (b *ADBackend) tryController(
	ctx context.Context,
	dc directory.Controller,
	localUser, domain, password string,
) (user *models.User, decisive bool) {
	uri := "ldap://" + dc.Addr()

	conn, err := b.dialer.DialURL(ctx, uri)
	if err != nil {
		b.metrics.RecordDCAttempt("connectivity")
		log.Printf("[AD] connect to DC %s failed: %v", dc.Addr(), err)
		return nil, false
	}
	defer conn.Close()

	if b.cfg.ADUseTLS {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: true}); err != nil { //nolint:gosec
			// A TLS failure is specific to this controller; keep going.
			b.metrics.RecordDCAttempt("tls_error")
			log.Printf("[AD] StartTLS on DC %s failed: %v", dc.Addr(), err)
			return nil, false
		}
	}

	bindUser := localUser + "@" + domain
	if err := conn.Bind(bindUser, password); err != nil {
		if directory.IsInvalidCredentials(err) {
			// A credentials rejection is controller-independent: stop
			// the failover loop.
			b.metrics.RecordDCAttempt("invalid_credentials")
			log.Printf("[AD] DC %s rejected credentials for %q", dc.Addr(), bindUser)
			return nil, true
		}
		b.metrics.RecordDCAttempt("connectivity")
		log.Printf("[AD] bind to DC %s failed: %v", dc.Addr(), err)
		return nil, false
	}
	b.metrics.RecordDCAttempt("success")

	root := b.searchRoot(domain)
	record, err := b.findUser(conn, root, localUser)
	if err != nil {
		if err == ErrNotFound {
			log.Printf("[AD] user %q not found under %s on DC %s", localUser, root, dc.Addr())
			return nil, true
		}
		log.Printf("[AD] user search on DC %s failed: %v", dc.Addr(), err)
		return nil, false
	}

	if b.cfg.ADGroupName != "" {
		groups := b.resolveGroups(ctx, conn, root, record.Values("memberOf"))
		if !groups[b.cfg.ADGroupName] {
			log.Printf("[AD] user %q is not a member of required group %q", localUser, b.cfg.ADGroupName)
			return nil, true
		}
	}

	user, err = getOrCreateUser(b.store, b.metrics, b.ID(), localUser, b.userFields(localUser, domain, record))
	if err != nil {
		log.Printf("[AD] could not materialize user %q: %v", localUser, err)
		return nil, true
	}
	return user, true
}

// findUser searches for the user entry under the search root.
func (b *ADBackend) findUser(conn directory.Conn, root, localUser string) (DirectoryRecord, error) {
	req := ldap.NewSearchRequest(
		root,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(localUser)),
		[]string{"givenName", "sn", "mail", "memberOf"},
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

// groupRef is one worklist item in the membership traversal.
type groupRef struct {
	name  string
	depth int
}

// resolveGroups walks the memberOf graph starting from the user's
// directly-listed group DNs and returns every group name reachable
// within the configured recursion depth. The visited set spans the
// whole resolution, so cycles terminate; the depth bound additionally
// caps directory round-trips. A depth of -1 is unlimited, 0 considers
// only directly-listed groups.
func (b *ADBackend) resolveGroups(
	ctx context.Context,
	conn directory.Conn,
	root string,
	memberOf []string,
) map[string]bool {
	limit := b.cfg.ADRecursionDepth
	seen := make(map[string]bool)
	searches := 0

	// Directly-listed groups enter the worklist at depth 1.
	var queue []groupRef
	for _, dn := range memberOf {
		if name := groupCN(dn); name != "" {
			queue = append(queue, groupRef{name: name, depth: 1})
		}
	}

	warned := false
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		if seen[ref.name] {
			continue
		}
		seen[ref.name] = true

		if limit == 0 {
			continue
		}
		if limit > 0 && ref.depth >= limit {
			if !warned {
				log.Printf("[AD] group recursion depth limit %d reached at group %q; not expanding further", limit, ref.name)
				warned = true
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Printf("[AD] aborting group resolution: %v", err)
			break
		}

		req := ldap.NewSearchRequest(
			root,
			ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			fmt.Sprintf("(&(objectClass=group)(cn=%s))", ldap.EscapeFilter(ref.name)),
			[]string{"memberOf"},
			nil,
		)
		searches++
		result, err := conn.Search(req)
		if err != nil {
			// Groups found so far remain valid matches.
			log.Printf("[AD] group search for %q failed: %v", ref.name, err)
			continue
		}
		if len(result.Entries) == 0 {
			continue
		}

		for _, dn := range result.Entries[0].GetAttributeValues("memberOf") {
			if name := groupCN(dn); name != "" && !seen[name] {
				queue = append(queue, groupRef{name: name, depth: ref.depth + 1})
			}
		}
	}

	b.metrics.RecordGroupResolution(len(seen), searches)
	return seen
}

// groupCN extracts the common name from the first RDN component of a
// group DN, e.g. "cn=eng,ou=groups,dc=corp,dc=example,dc=com" -> "eng".
func groupCN(dn string) string {
	first := strings.SplitN(dn, ",", 2)[0]
	if idx := strings.Index(first, "="); idx >= 0 {
		return strings.TrimSpace(first[idx+1:])
	}
	return strings.TrimSpace(first)
}

// GetOrCreateUser maps AD attributes into local user fields and
// provisions the record on first login.
func (b *ADBackend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	localUser, domain := b.parseUsername(username)
	localUser = NormalizeUsername(localUser)
	if record == nil {
		return getOrCreateUser(b.store, b.metrics, b.ID(), localUser, nil)
	}
	return getOrCreateUser(b.store, b.metrics, b.ID(), localUser, b.userFields(localUser, domain, record))
}

// userFields maps givenName/sn/mail into local fields, defaulting any
// missing attribute to a safe placeholder. The user gets no usable
// local password; the directory remains the authority.
func (b *ADBackend) userFields(localUser, domain string, record DirectoryRecord) *models.User {
	firstName := record.Get("givenName")
	if firstName == "" {
		firstName = localUser
	}

	email := record.Get("mail")
	if email == "" {
		email = fmt.Sprintf("%s@%s", localUser, domain)
	}

	return &models.User{
		FirstName: firstName,
		LastName:  record.Get("sn"),
		Email:     email,
	}
}
