package auth

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"    // register $1$ hashes
	_ "github.com/GehirnInc/crypt/sha256_crypt" // register $5$ hashes
	_ "github.com/GehirnInc/crypt/sha512_crypt" // register $6$ hashes
)

// PasswdEntry is one record from the NIS passwd map.
type PasswdEntry struct {
	Name   string
	Passwd string // crypt(3) hash, or "x"/"*" when shadowed
	GECOS  string
}

// PasswdLookup resolves a username in the NIS passwd map. It exists so
// tests can substitute a static map for a live NIS domain.
type PasswdLookup interface {
	LookupPasswd(username string) (*PasswdEntry, error)
}

// MapPasswdLookup serves entries from a fixed map.
type MapPasswdLookup map[string]PasswdEntry

func (m MapPasswdLookup) LookupPasswd(username string) (*PasswdEntry, error) {
	entry, ok := m[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// FilePasswdLookup scans a passwd-format file (e.g. a ypcat dump, or
// /etc/passwd on an NIS-bound host) line by line.
type FilePasswdLookup struct {
	Path string
}

func (f *FilePasswdLookup) LookupPasswd(username string) (*PasswdEntry, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 5 {
			continue
		}
		if fields[0] != username {
			continue
		}
		return &PasswdEntry{Name: fields[0], Passwd: fields[1], GECOS: fields[4]}, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return nil, ErrNotFound
}

// NISBackend authenticates against the NIS passwd map: one lookup, then
// a locally computed crypt(3) comparison. No retry or failover.
type NISBackend struct {
	unsupported

	cfg     *config.Config
	store   *store.Store
	lookup  PasswdLookup
	metrics metrics.Recorder
}

// NewNISBackend builds the backend. A nil lookup falls back to the
// local passwd file, which carries the NIS map entries on a bound host.
func NewNISBackend(cfg *config.Config, s *store.Store, lookup PasswdLookup, m metrics.Recorder) *NISBackend {
	if lookup == nil {
		lookup = &FilePasswdLookup{Path: "/etc/passwd"}
	}
	return &NISBackend{cfg: cfg, store: s, lookup: lookup, metrics: m}
}

func (b *NISBackend) ID() string { return "nis" }

func (b *NISBackend) Name() string { return "NIS" }

func (b *NISBackend) Authenticate(ctx context.Context, username, password string) *models.User {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil
	}

	entry, err := b.lookup.LookupPasswd(username)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("[NIS] passwd lookup for %q failed: %v", username, err)
		}
		return nil
	}

	if !verifyCrypt(entry.Passwd, password) {
		return nil
	}

	user, err := b.GetOrCreateUser(username, recordFromPasswd(entry))
	if err != nil {
		log.Printf("[NIS] could not materialize user %q: %v", username, err)
		return nil
	}
	return user
}

// verifyCrypt compares password against a crypt(3) hash. Shadowed or
// disabled entries ("x", "*", "!") never match.
func verifyCrypt(hash, password string) bool {
	if hash == "" || hash == "x" || strings.HasPrefix(hash, "*") || strings.HasPrefix(hash, "!") {
		return false
	}
	if !crypt.IsHashSupported(hash) {
		log.Printf("[NIS] unsupported crypt hash format %q", hashPrefix(hash))
		return false
	}
	return crypt.NewFromHash(hash).Verify(hash, []byte(password)) == nil
}

func hashPrefix(hash string) string {
	if len(hash) > 3 {
		return hash[:3]
	}
	return hash
}

// recordFromPasswd maps a passwd entry into directory-record form so
// the shared materialization path applies.
func recordFromPasswd(entry *PasswdEntry) DirectoryRecord {
	record := make(DirectoryRecord)
	// GECOS: full name up to the first comma.
	name := strings.SplitN(entry.GECOS, ",", 2)[0]
	if name != "" {
		record["gecosName"] = []string{name}
	}
	return record
}

// GetOrCreateUser populates name and email heuristically from the
// passwd record: GECOS full name split on the first whitespace, email
// computed from the configured domain.
func (b *NISBackend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	username = NormalizeUsername(username)
	if record == nil {
		return getOrCreateUser(b.store, b.metrics, b.ID(), username, nil)
	}

	firstName := username
	lastName := ""
	if fullName := record.Get("gecosName"); fullName != "" {
		if idx := strings.Index(fullName, " "); idx >= 0 {
			firstName = fullName[:idx]
			lastName = fullName[idx+1:]
		} else {
			firstName = fullName
		}
	}

	var email string
	if b.cfg.NISEmailDomain != "" {
		email = fmt.Sprintf("%s@%s", username, b.cfg.NISEmailDomain)
	}

	return getOrCreateUser(b.store, b.metrics, b.ID(), username, &models.User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	})
}
