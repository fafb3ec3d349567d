package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
)

func cryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := sha512_crypt.New().Generate([]byte(password), nil)
	require.NoError(t, err)
	return hash
}

func TestNISAuthenticate(t *testing.T) {
	s := newTestStore(t)
	cfg := &config.Config{NISEmailDomain: "example.com"}
	lookup := MapPasswdLookup{
		"bob": {Name: "bob", Passwd: cryptHash(t, "secret"), GECOS: "Robert Tables,Room 101,555-1234"},
	}
	b := NewNISBackend(cfg, s, lookup, nil)

	user := b.Authenticate(context.Background(), "bob", "secret")

	require.NotNil(t, user)
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, "Robert", user.FirstName)
	assert.Equal(t, "Tables", user.LastName)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.Equal(t, "nis", user.AuthSource)
	assert.False(t, user.HasUsablePassword())
}

func TestNISRejections(t *testing.T) {
	s := newTestStore(t)
	cfg := &config.Config{}
	lookup := MapPasswdLookup{
		"bob":      {Name: "bob", Passwd: cryptHash(t, "secret"), GECOS: "Robert Tables"},
		"shadowed": {Name: "shadowed", Passwd: "x", GECOS: ""},
		"starred":  {Name: "starred", Passwd: "*", GECOS: ""},
		"locked":   {Name: "locked", Passwd: "!" + cryptHash(t, "secret"), GECOS: ""},
		"des":      {Name: "des", Passwd: "aaQSqAbZkts3E", GECOS: ""},
	}
	b := NewNISBackend(cfg, s, lookup, nil)
	ctx := context.Background()

	assert.Nil(t, b.Authenticate(ctx, "bob", "wrong"))
	assert.Nil(t, b.Authenticate(ctx, "bob", ""))
	assert.Nil(t, b.Authenticate(ctx, "ghost", "secret"))
	// Shadowed and locked entries never match any password.
	assert.Nil(t, b.Authenticate(ctx, "shadowed", "secret"))
	assert.Nil(t, b.Authenticate(ctx, "starred", "secret"))
	assert.Nil(t, b.Authenticate(ctx, "locked", "secret"))
	// Hash formats without a registered verifier are rejected.
	assert.Nil(t, b.Authenticate(ctx, "des", "secret"))
}

func TestNISGECOSMapping(t *testing.T) {
	s := newTestStore(t)
	b := NewNISBackend(&config.Config{}, s, nil, nil)

	t.Run("single name", func(t *testing.T) {
		user, err := b.GetOrCreateUser("alice", DirectoryRecord{"gecosName": {"Alice"}})
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.FirstName)
		assert.Equal(t, "", user.LastName)
	})

	t.Run("no gecos", func(t *testing.T) {
		user, err := b.GetOrCreateUser("carol", DirectoryRecord{})
		require.NoError(t, err)
		assert.Equal(t, "carol", user.FirstName)
		assert.Equal(t, "", user.Email)
	})

	t.Run("nil record never creates", func(t *testing.T) {
		_, err := b.GetOrCreateUser("ghost", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFilePasswdLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	content := "# comment line\n" +
		"root:x:0:0:root:/root:/bin/bash\n" +
		"short:line\n" +
		"bob:$6$fakehash:1000:1000:Robert Tables,Room 101:/home/bob:/bin/bash\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	lookup := &FilePasswdLookup{Path: path}

	entry, err := lookup.LookupPasswd("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", entry.Name)
	assert.Equal(t, "$6$fakehash", entry.Passwd)
	assert.Equal(t, "Robert Tables,Room 101", entry.GECOS)

	_, err = lookup.LookupPasswd("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = (&FilePasswdLookup{Path: filepath.Join(t.TempDir(), "missing")}).LookupPasswd("bob")
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestVerifyCrypt(t *testing.T) {
	hash := cryptHash(t, "secret")

	assert.True(t, verifyCrypt(hash, "secret"))
	assert.False(t, verifyCrypt(hash, "wrong"))
	assert.False(t, verifyCrypt("", "secret"))
	assert.False(t, verifyCrypt("x", "secret"))
	assert.False(t, verifyCrypt("*NP*", "secret"))
	assert.False(t, verifyCrypt("!"+hash, "secret"))
}
