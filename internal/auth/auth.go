// Package auth checks the bearer API key shared by the notification channel
// and operators.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingAPIKey = errors.New("missing authorization header")
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrNotConfigured = errors.New("no API key hash configured")
)

// DefaultCacheTTL is how long a verified key skips bcrypt.
const DefaultCacheTTL = 30 * time.Second

// Authenticator validates the Authorization header of a request.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// KeyAuthenticator compares the bearer token with a bcrypt hash.
// Verified tokens are cached so the hot path does not pay for bcrypt.
type KeyAuthenticator struct {
	hash  []byte
	cache *keyCache
}

// NewKeyAuthenticator creates a KeyAuthenticator for a bcrypt hash.
func NewKeyAuthenticator(hash string, ttl time.Duration) *KeyAuthenticator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &KeyAuthenticator{
		hash:  []byte(hash),
		cache: &keyCache{ttl: ttl, now: time.Now},
	}
}

func (a *KeyAuthenticator) Authenticate(r *http.Request) error {
	if len(a.hash) == 0 {
		return ErrNotConfigured
	}
	token, err := ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	if a.cache.valid(token) {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidAPIKey
	}
	a.cache.set(token)
	return nil
}

// HashKey returns the bcrypt hash to configure for a plain key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// ExtractBearerToken extracts the token from an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(header) <= 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrMissingAPIKey
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", ErrMissingAPIKey
	}
	return token, nil
}

// keyCache remembers verified tokens until their TTL passes.
type keyCache struct {
	store sync.Map // token -> expiry time.Time
	ttl   time.Duration
	now   func() time.Time
}

func (c *keyCache) valid(token string) bool {
	v, ok := c.store.Load(token)
	if !ok {
		return false
	}
	if c.now().Before(v.(time.Time)) {
		return true
	}
	c.store.Delete(token)
	return false
}

func (c *keyCache) set(token string) {
	c.store.Store(token, c.now().Add(c.ttl))
}
