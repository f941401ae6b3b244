package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose scopes a one-time token to a single flow. A token issued for
// activation cannot confirm a password reset.
type Purpose string

const (
	PurposeActivation    Purpose = "activation"
	PurposePasswordReset Purpose = "password_reset"
	PurposeEmailReset    Purpose = "email_reset"
)

var (
	ErrTokenInvalid = errors.New("one-time token invalid or already used")
)

// Store keeps one-time uid/token pairs in redis. Only the SHA-256 of the
// token is stored; issuing a new token for the same user+purpose replaces the
// previous one, and a successful consume deletes the record so a second
// attempt fails.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) key(purpose Purpose, userID int64) string {
	return "ott:" + string(purpose) + ":" + strconv.FormatInt(userID, 10)
}

// Issue mints a fresh token for the user and purpose and stores its hash with
// the configured TTL. The raw token is returned exactly once, for the email.
func (s *Store) Issue(ctx context.Context, purpose Purpose, userID int64) (string, error) {
	buf := make([]byte, 32)

	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.rdb.Set(ctx, s.key(purpose, userID), hashToken(token), s.ttl).Err(); err != nil {
		return "", err
	}

	return token, nil
}

// consumeScript deletes the record only when the presented hash matches, so a
// failed guess cannot invalidate a legitimate outstanding token.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// Consume validates and burns the token atomically. Expired, unknown,
// mismatched and already-used tokens are indistinguishable to the caller.
func (s *Store) Consume(ctx context.Context, purpose Purpose, userID int64, token string) error {
	if token == "" {
		return ErrTokenInvalid
	}

	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key(purpose, userID)}, hashToken(token)).Int()

	if err != nil {
		return err
	}

	if res != 1 {
		return ErrTokenInvalid
	}

	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
