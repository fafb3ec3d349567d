package auth

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec // htdigest files are MD5 by definition
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"
)

// DigestBackend authenticates against an Apache htdigest credentials
// file: each line is "username:realm:md5(username:realm:password)".
type DigestBackend struct {
	unsupported

	cfg     *config.Config
	store   *store.Store
	metrics metrics.Recorder
}

func NewDigestBackend(cfg *config.Config, s *store.Store, m metrics.Recorder) *DigestBackend {
	return &DigestBackend{cfg: cfg, store: s, metrics: m}
}

func (b *DigestBackend) ID() string { return "digest" }

func (b *DigestBackend) Name() string { return "HTTP Digest" }

func (b *DigestBackend) Authenticate(ctx context.Context, username, password string) *models.User {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil
	}

	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", username, b.cfg.DigestRealm, password))) //nolint:gosec
	expected := hex.EncodeToString(sum[:])

	match, err := b.findDigest(username, expected)
	if err != nil {
		log.Printf("[Digest] credentials file scan failed: %v", err)
		return nil
	}
	if !match {
		return nil
	}

	user, err := b.GetOrCreateUser(username, DirectoryRecord{})
	if err != nil {
		log.Printf("[Digest] could not materialize user %q: %v", username, err)
		return nil
	}
	return user
}

// findDigest linearly scans the credentials file for a line matching
// username and realm, comparing the stored digest against expected.
// The scan stops at the first malformed line: a broken credentials file
// must not silently authenticate against a partial view of itself.
func (b *DigestBackend) findDigest(username, expected string) (bool, error) {
	file, err := os.Open(b.cfg.DigestFileLocation)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			log.Printf("[Digest] malformed line %d in %s", lineNo, b.cfg.DigestFileLocation)
			return false, nil
		}

		if fields[0] == username && fields[1] == b.cfg.DigestRealm {
			ok := subtle.ConstantTimeCompare([]byte(fields[2]), []byte(expected)) == 1
			return ok, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return false, nil
}

// GetOrCreateUser creates a bare user record; the digest file carries
// no name or email attributes.
func (b *DigestBackend) GetOrCreateUser(username string, record DirectoryRecord) (*models.User, error) {
	username = NormalizeUsername(username)
	if record == nil {
		return getOrCreateUser(b.store, b.metrics, b.ID(), username, nil)
	}
	return getOrCreateUser(b.store, b.metrics, b.ID(), username, &models.User{})
}
