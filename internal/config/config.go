package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend id constants
const (
	BackendStandard = "standard"
	BackendLDAP     = "ldap"
	BackendAD       = "ad"
	BackendNIS      = "nis"
	BackendX509     = "x509"
	BackendDigest   = "digest"
)

type Config struct {
	// Server settings
	ServerAddr string

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // Database connection string (DSN or path)

	// Metrics
	MetricsEnabled bool

	// Authentication backends, in priority order. The standard backend
	// is always enabled and, unless listed explicitly, runs first.
	EnabledBackends []string

	// Directory operation limits
	DirectoryTimeout time.Duration // per-connection and per-search deadline

	// LDAP backend
	LDAPURI                string
	LDAPBaseDN             string
	LDAPUIDAttribute       string
	LDAPUIDMask            string // search filter template with %s for the username
	LDAPTLS                bool
	LDAPAnonBindDN         string // service account DN; empty means anonymous bind
	LDAPAnonBindPassword   string
	LDAPEmailDomain        string
	LDAPEmailAttribute     string
	LDAPGivenNameAttribute string
	LDAPSurnameAttribute   string
	LDAPFullNameAttribute  string

	// Active Directory backend
	ADDomainName       string
	ADUseTLS           bool
	ADFindDCFromDNS    bool
	ADDomainController string // space-separated host[:port] list
	ADOUName           string
	ADGroupName        string // required group; empty disables the check
	ADSearchRoot       string // explicit search root override
	ADRecursionDepth   int    // -1 unlimited, 0 direct groups only

	// NIS backend
	NISEmailDomain string

	// X.509 backend
	X509UsernameField   string
	X509UsernameRegex   string
	X509AutocreateUsers bool

	// HTTP digest backend
	DigestFileLocation string
	DigestRealm        string
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Determine database driver and DSN
	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "auth.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		EnabledBackends: getEnvSlice("AUTH_BACKENDS", []string{BackendStandard}),

		DirectoryTimeout: getEnvDuration("DIRECTORY_TIMEOUT", 10*time.Second),

		LDAPURI:                getEnv("LDAP_URI", ""),
		LDAPBaseDN:             getEnv("LDAP_BASE_DN", ""),
		LDAPUIDAttribute:       getEnv("LDAP_UID_ATTRIBUTE", "uid"),
		LDAPUIDMask:            getEnv("LDAP_UID_MASK", ""),
		LDAPTLS:                getEnvBool("LDAP_TLS", false),
		LDAPAnonBindDN:         getEnv("LDAP_ANON_BIND_DN", ""),
		LDAPAnonBindPassword:   getEnv("LDAP_ANON_BIND_PASSWORD", ""),
		LDAPEmailDomain:        getEnv("LDAP_EMAIL_DOMAIN", ""),
		LDAPEmailAttribute:     getEnv("LDAP_EMAIL_ATTRIBUTE", "mail"),
		LDAPGivenNameAttribute: getEnv("LDAP_GIVEN_NAME_ATTRIBUTE", "givenName"),
		LDAPSurnameAttribute:   getEnv("LDAP_SURNAME_ATTRIBUTE", "sn"),
		LDAPFullNameAttribute:  getEnv("LDAP_FULL_NAME_ATTRIBUTE", ""),

		ADDomainName:       getEnv("AD_DOMAIN_NAME", ""),
		ADUseTLS:           getEnvBool("AD_USE_TLS", false),
		ADFindDCFromDNS:    getEnvBool("AD_FIND_DC_FROM_DNS", false),
		ADDomainController: getEnv("AD_DOMAIN_CONTROLLER", ""),
		ADOUName:           getEnv("AD_OU_NAME", ""),
		ADGroupName:        getEnv("AD_GROUP_NAME", ""),
		ADSearchRoot:       getEnv("AD_SEARCH_ROOT", ""),
		ADRecursionDepth:   getEnvInt("AD_RECURSION_DEPTH", 0),

		NISEmailDomain: getEnv("NIS_EMAIL_DOMAIN", ""),

		X509UsernameField:   getEnv("X509_USERNAME_FIELD", "CN"),
		X509UsernameRegex:   getEnv("X509_USERNAME_REGEX", ""),
		X509AutocreateUsers: getEnvBool("X509_AUTOCREATE_USERS", true),

		DigestFileLocation: getEnv("DIGEST_FILE_LOCATION", ""),
		DigestRealm:        getEnv("DIGEST_REALM", ""),
	}
}

// Validate checks that the enabled backends have the settings they need.
func (c *Config) Validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.DatabaseDriver)
	}
	if c.DatabaseDriver == "postgres" && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for the postgres driver")
	}

	for _, id := range c.EnabledBackends {
		switch id {
		case BackendStandard:
			// Always available
		case BackendLDAP:
			if c.LDAPURI == "" {
				return fmt.Errorf("LDAP_URI is required when the ldap backend is enabled")
			}
		case BackendAD:
			if c.ADDomainName == "" {
				return fmt.Errorf("AD_DOMAIN_NAME is required when the ad backend is enabled")
			}
			if !c.ADFindDCFromDNS && c.ADDomainController == "" {
				return fmt.Errorf("AD_DOMAIN_CONTROLLER or AD_FIND_DC_FROM_DNS is required when the ad backend is enabled")
			}
		case BackendNIS:
			// Email domain is optional
		case BackendX509:
			if c.X509UsernameField == "" {
				return fmt.Errorf("X509_USERNAME_FIELD is required when the x509 backend is enabled")
			}
		case BackendDigest:
			if c.DigestFileLocation == "" {
				return fmt.Errorf("DIGEST_FILE_LOCATION is required when the digest backend is enabled")
			}
		default:
			return fmt.Errorf("unknown authentication backend: %s", id)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := splitAndTrim(value, ",")
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
