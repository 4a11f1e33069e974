package authn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"golang.org/x/sync/singleflight"
)

// KeySet holds the platform's published ES256 verification keys, keyed by
// key ID.
type KeySet struct {
	keys map[string]*ecdsa.PublicKey
}

// Keyfunc returns a jwt.Keyfunc resolving the verification key from the
// token's kid header.  Tokens without a kid verify only when the set holds a
// single key.
func (s *KeySet) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			if len(s.keys) == 1 {
				for _, key := range s.keys {
					return key, nil
				}
			}
			return nil, fmt.Errorf("missing kid in token header")
		}

		key, ok := s.keys[kid]
		if !ok {
			return nil, fmt.Errorf("no key found for kid %q", kid)
		}
		return key, nil
	}
}

// jwk is one entry of a JSON Web Key Set.  Only EC P-256 keys are used;
// anything else in the set is skipped.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

func parseKeySet(body []byte) (*KeySet, error) {
	doc := jwksDoc{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("malformed key set: %w", err)
	}

	set := &KeySet{keys: map[string]*ecdsa.PublicKey{}}
	for _, k := range doc.Keys {
		if k.Kty != "EC" || k.Crv != "P-256" {
			continue
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k.Kid, err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k.Kid, err)
		}
		set.keys[k.Kid] = &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
	}

	if len(set.keys) == 0 {
		return nil, fmt.Errorf("key set contains no usable ES256 keys")
	}
	return set, nil
}

type cacheEntry struct {
	keys      *KeySet
	fetchedAt time.Time
}

// JWKSCache fetches and caches key sets per base URL.  Entries are served
// from cache within the TTL and refreshed with a single-flight fetch after
// it;  concurrent verifications against a cold URL coalesce into one GET.
type JWKSCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	group  singleflight.Group
	client *http.Client
	ttl    time.Duration
	clock  clockwork.Clock
}

type JWKSOpt func(c *JWKSCache)

func WithJWKSTTL(ttl time.Duration) JWKSOpt {
	return func(c *JWKSCache) {
		c.ttl = ttl
	}
}

func WithJWKSClient(client *http.Client) JWKSOpt {
	return func(c *JWKSCache) {
		c.client = client
	}
}

func WithJWKSClock(clock clockwork.Clock) JWKSOpt {
	return func(c *JWKSCache) {
		c.clock = clock
	}
}

func NewJWKSCache(opts ...JWKSOpt) *JWKSCache {
	c := &JWKSCache{
		entries: map[string]cacheEntry{},
		client:  &http.Client{Timeout: consts.JWKSFetchTimeout},
		ttl:     consts.JWKSCacheTTL,
		clock:   clockwork.NewRealClock(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Get returns the key set for baseURL, fetching it from the well-known
// endpoint when the cache is cold or stale.
func (c *JWKSCache) Get(ctx context.Context, baseURL string) (*KeySet, error) {
	c.mu.RLock()
	entry, ok := c.entries[baseURL]
	c.mu.RUnlock()

	if ok && c.clock.Since(entry.fetchedAt) < c.ttl {
		return entry.keys, nil
	}

	keys, err, _ := c.group.Do(baseURL, func() (interface{}, error) {
		return c.fetch(ctx, baseURL)
	})
	if err != nil {
		return nil, err
	}
	return keys.(*KeySet), nil
}

// Clear drops every cached entry.  Used to force a refetch after the
// platform rotates its keys.
func (c *JWKSCache) Clear() {
	c.mu.Lock()
	c.entries = map[string]cacheEntry{}
	c.mu.Unlock()
}

func (c *JWKSCache) fetch(ctx context.Context, baseURL string) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, consts.JWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+consts.JWKSPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeyFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, consts.MaxDeliverySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}

	set, err := parseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}

	c.mu.Lock()
	c.entries[baseURL] = cacheEntry{keys: set, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return set, nil
}
