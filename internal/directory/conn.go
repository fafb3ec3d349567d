// Package directory provides the protocol plumbing shared by the LDAP
// and Active Directory authentication backends: a narrow connection
// interface over go-ldap (so tests can substitute fakes), a default
// dialer with explicit timeouts, domain controller discovery via DNS
// SRV records, and error classification helpers.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of ldap.Client the backends use. Connections are
// created per authentication attempt and discarded after use; there is
// no pooling or reuse across requests.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	StartTLS(config *tls.Config) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Close() error
}

// ldap.Conn satisfies Conn.
var _ Conn = (*ldap.Conn)(nil)

// Dialer creates directory connections. It exists so tests can inject
// fake connections without a live server.
type Dialer interface {
	DialURL(ctx context.Context, uri string) (Conn, error)
}

// DialerFunc adapts a func to the Dialer interface.
type DialerFunc func(ctx context.Context, uri string) (Conn, error)

func (f DialerFunc) DialURL(ctx context.Context, uri string) (Conn, error) {
	return f(ctx, uri)
}

// NetDialer dials real directory servers with a bounded connect and
// per-operation timeout.
type NetDialer struct {
	Timeout time.Duration
}

func (d *NetDialer) DialURL(ctx context.Context, uri string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// go-ldap does not take a context on dial; honor an earlier ctx
	// deadline by shrinking the dial timeout.
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := ldap.DialURL(uri, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return conn, nil
}

// IsInvalidCredentials reports whether err is a definitive bad-password
// response from the server, as opposed to a transport failure.
func IsInvalidCredentials(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials)
}

// IsConnectivityError reports whether err looks like a transient
// per-server failure (network error, server down) that should move a
// failover loop on to the next server.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
