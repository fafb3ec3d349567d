package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestIsInvalidCredentials(t *testing.T) {
	err := ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("invalid credentials"))
	assert.True(t, IsInvalidCredentials(err))

	assert.False(t, IsInvalidCredentials(nil))
	assert.False(t, IsInvalidCredentials(errors.New("some error")))
	assert.False(t, IsInvalidCredentials(ldap.NewError(ldap.LDAPResultServerDown, fmt.Errorf("down"))))
}

func TestIsConnectivityError(t *testing.T) {
	assert.False(t, IsConnectivityError(nil))
	assert.False(t, IsConnectivityError(errors.New("some error")))
	assert.False(t, IsConnectivityError(ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("bad"))))

	assert.True(t, IsConnectivityError(ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("broken pipe"))))
	assert.True(t, IsConnectivityError(ldap.NewError(ldap.LDAPResultServerDown, fmt.Errorf("down"))))
	assert.True(t, IsConnectivityError(ldap.NewError(ldap.LDAPResultUnavailable, fmt.Errorf("unavailable"))))
	assert.True(t, IsConnectivityError(ldap.NewError(ldap.LDAPResultBusy, fmt.Errorf("busy"))))

	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("refused")}
	assert.True(t, IsConnectivityError(netErr))
}

func TestNetDialerRejectsCancelledContext(t *testing.T) {
	d := &NetDialer{Timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.DialURL(ctx, "ldap://localhost:1")
	assert.ErrorIs(t, err, context.Canceled)
}
