package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/reviewboard/reviewboard-sub003/internal/directory"
	"github.com/reviewboard/reviewboard-sub003/internal/store"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New("sqlite", ":memory:")
	require.NoError(t, err)
	return s
}

type bindCall struct {
	dn       string
	password string
}

// fakeConn is an in-memory directory connection. Bind outcomes and
// search results are scripted per test; every call is recorded so tests
// can assert on the exact protocol traffic.
type fakeConn struct {
	bindFunc    func(dn, password string) error
	searchFunc  func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	startTLSErr error

	binds     []bindCall
	anonBinds int
	searches  []*ldap.SearchRequest
	closed    bool
}

func (c *fakeConn) Bind(username, password string) error {
	c.binds = append(c.binds, bindCall{dn: username, password: password})
	if c.bindFunc != nil {
		return c.bindFunc(username, password)
	}
	return nil
}

func (c *fakeConn) UnauthenticatedBind(username string) error {
	c.anonBinds++
	return nil
}

func (c *fakeConn) StartTLS(config *tls.Config) error {
	return c.startTLSErr
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.searches = append(c.searches, req)
	if c.searchFunc != nil {
		return c.searchFunc(req)
	}
	return &ldap.SearchResult{}, nil
}

func (c *fakeConn) SetTimeout(timeout time.Duration) {}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

var _ directory.Conn = (*fakeConn)(nil)

// fakeDialer hands out scripted connections by URI and records every
// dial attempt in order.
type fakeDialer struct {
	conns map[string]directory.Conn
	errs  map[string]error

	dials []string
}

func (d *fakeDialer) DialURL(ctx context.Context, uri string) (directory.Conn, error) {
	d.dials = append(d.dials, uri)
	if err, ok := d.errs[uri]; ok {
		return nil, err
	}
	if conn, ok := d.conns[uri]; ok {
		return conn, nil
	}
	return nil, fmt.Errorf("no fake connection configured for %s", uri)
}

var _ directory.Dialer = (*fakeDialer)(nil)

func invalidCredentialsErr() error {
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("invalid credentials"))
}

func serverDownErr() error {
	return ldap.NewError(ldap.LDAPResultServerDown, fmt.Errorf("server down"))
}

// groupSearchCount counts the group-expansion searches a connection saw.
func groupSearchCount(c *fakeConn) int {
	n := 0
	for _, req := range c.searches {
		if strings.Contains(req.Filter, "objectClass=group") {
			n++
		}
	}
	return n
}
