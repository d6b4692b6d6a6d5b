package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agentgate/internal/logging"
)

// KeySet is a TTL-cached view of the issuer's published key-set document.
// Refreshes are single-flighted: concurrent cache misses share one fetch.
type KeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger logging.Logger

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet creates a key cache for the given key-set endpoint. refreshTimeout
// bounds each network fetch so verification never blocks indefinitely.
func NewKeySet(url string, ttl, refreshTimeout time.Duration, logger logging.Logger) *KeySet {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if refreshTimeout <= 0 {
		refreshTimeout = 10 * time.Second
	}
	return &KeySet{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: refreshTimeout},
		logger: logging.OrNop(logger),
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Key resolves the signing key for a key identifier, refreshing the cache
// when the identifier is unknown or the cache is stale. A refresh that fails
// while a stale copy of the key exists falls back to the stale copy.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, fresh := s.lookup(kid); key != nil && fresh {
		return key, nil
	}

	refreshErr := s.refresh(ctx, kid)

	if key, _ := s.lookup(kid); key != nil {
		if refreshErr != nil {
			s.logger.Warn("key-set refresh failed, using cached key %q: %v", kid, refreshErr)
		}
		return key, nil
	}

	if refreshErr != nil {
		return nil, newError(KindUnknownSigningKey, fmt.Errorf("key %q not cached and refresh failed: %w", kid, refreshErr))
	}
	return nil, newError(KindUnknownSigningKey, fmt.Errorf("key %q not present in key set", kid))
}

func (s *KeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < s.ttl
	return key, fresh
}

// refresh fetches the key-set document at most once per concurrent burst.
// An unknown kid always reaches the network even when the cache is within
// TTL, so rotated issuer keys are picked up immediately.
func (s *KeySet) refresh(ctx context.Context, kid string) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		// Re-check under the flight: a waiter queued behind a completed
		// refresh that already delivered its kid should not fetch again.
		s.mu.RLock()
		_, known := s.keys[kid]
		fresh := time.Since(s.fetchedAt) < s.ttl && len(s.keys) > 0
		s.mu.RUnlock()
		if known && fresh {
			return nil, nil
		}

		keys, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.keys = keys
		s.fetchedAt = time.Now()
		s.mu.Unlock()

		s.logger.Debug("key set refreshed, %d keys", len(keys))
		return nil, nil
	})
	return err
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key-set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key-set fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key-set endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode key-set document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			s.logger.Warn("skipping unparsable key %q: %v", jwk.Kid, err)
			continue
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

func (k jwksKey) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid public exponent %d", e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
