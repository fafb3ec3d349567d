package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "auth.db", cfg.DatabaseDSN)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, []string{BackendStandard}, cfg.EnabledBackends)
	assert.Equal(t, 10*time.Second, cfg.DirectoryTimeout)
	assert.Equal(t, "uid", cfg.LDAPUIDAttribute)
	assert.Equal(t, "givenName", cfg.LDAPGivenNameAttribute)
	assert.Equal(t, "sn", cfg.LDAPSurnameAttribute)
	assert.Equal(t, "CN", cfg.X509UsernameField)
	assert.True(t, cfg.X509AutocreateUsers)
	assert.Equal(t, 0, cfg.ADRecursionDepth)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("AUTH_BACKENDS", "ldap, ad ,standard")
	t.Setenv("DIRECTORY_TIMEOUT", "5s")
	t.Setenv("LDAP_URI", "ldap://directory.example.com")
	t.Setenv("AD_RECURSION_DEPTH", "-1")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, []string{"ldap", "ad", "standard"}, cfg.EnabledBackends)
	assert.Equal(t, 5*time.Second, cfg.DirectoryTimeout)
	assert.Equal(t, "ldap://directory.example.com", cfg.LDAPURI)
	assert.Equal(t, -1, cfg.ADRecursionDepth)
	assert.False(t, cfg.MetricsEnabled)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseDriver:  "sqlite",
			DatabaseDSN:     ":memory:",
			EnabledBackends: []string{BackendStandard},
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		cfg := base()
		cfg.DatabaseDriver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := base()
		cfg.DatabaseDriver = "postgres"
		cfg.DatabaseDSN = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("ldap requires uri", func(t *testing.T) {
		cfg := base()
		cfg.EnabledBackends = []string{BackendLDAP}
		assert.Error(t, cfg.Validate())

		cfg.LDAPURI = "ldap://directory.example.com"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("ad requires domain and controllers", func(t *testing.T) {
		cfg := base()
		cfg.EnabledBackends = []string{BackendAD}
		assert.Error(t, cfg.Validate())

		cfg.ADDomainName = "example.com"
		assert.Error(t, cfg.Validate())

		cfg.ADFindDCFromDNS = true
		assert.NoError(t, cfg.Validate())

		cfg.ADFindDCFromDNS = false
		cfg.ADDomainController = "dc1.example.com"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("digest requires file", func(t *testing.T) {
		cfg := base()
		cfg.EnabledBackends = []string{BackendDigest}
		assert.Error(t, cfg.Validate())

		cfg.DigestFileLocation = "/etc/htdigest"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("x509 requires username field", func(t *testing.T) {
		cfg := base()
		cfg.EnabledBackends = []string{BackendX509}
		cfg.X509UsernameField = ""
		assert.Error(t, cfg.Validate())

		cfg.X509UsernameField = "CN"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.EnabledBackends = []string{"kerberos"}
		assert.Error(t, cfg.Validate())
	})
}
