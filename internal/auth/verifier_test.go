package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

const testAudience = "agentgate-clients"

type testIssuer struct {
	t       *testing.T
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int64
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := &testIssuer{t: t, key: key, kid: "key-1"}
	issuer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(issuer.document())
	}))
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (i *testIssuer) document() map[string]any {
	pub := &i.key.PublicKey
	return map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": i.kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
}

type tokenOpts struct {
	kid      string
	audience string
	subject  string
	email    string
	expires  time.Time
	key      *rsa.PrivateKey
}

func (i *testIssuer) token(opts tokenOpts) string {
	i.t.Helper()
	if opts.kid == "" {
		opts.kid = i.kid
	}
	if opts.audience == "" {
		opts.audience = testAudience
	}
	if opts.expires.IsZero() {
		opts.expires = time.Now().Add(time.Hour)
	}
	if opts.key == nil {
		opts.key = i.key
	}

	claims := jwt.MapClaims{
		"aud": opts.audience,
		"exp": opts.expires.Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	if opts.subject != "" {
		claims["sub"] = opts.subject
	}
	if opts.email != "" {
		claims["email"] = opts.email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = opts.kid
	signed, err := token.SignedString(opts.key)
	require.NoError(i.t, err)
	return signed
}

func (i *testIssuer) verifier() *Verifier {
	i.t.Helper()
	v, err := NewVerifier(config.AuthConfig{
		JWKSURL:        i.server.URL,
		Audience:       testAudience,
		Algorithm:      "RS256",
		KeyTTL:         time.Minute,
		RefreshTimeout: 5 * time.Second,
	}, logging.Nop())
	require.NoError(i.t, err)
	return v
}

func TestVerifyValidToken(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	identity, err := v.Verify(context.Background(), issuer.token(tokenOpts{
		subject: "user_2abc",
		email:   "dev@example.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, "user_2abc", identity.SubjectID)
	assert.Equal(t, "dev@example.com", identity.Email)
	assert.Equal(t, "user_2abc", identity.Claims["sub"])
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	_, err := v.Verify(context.Background(), issuer.token(tokenOpts{
		subject: "user_2abc",
		expires: time.Now().Add(-time.Hour),
	}))
	require.Error(t, err)
	assert.Equal(t, KindExpiredToken, KindOf(err))
}

func TestVerifyExpiredTokenWithBadSignature(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Expiration wins over signature validity.
	_, err = v.Verify(context.Background(), issuer.token(tokenOpts{
		subject: "user_2abc",
		expires: time.Now().Add(-time.Hour),
		key:     otherKey,
	}))
	require.Error(t, err)
	assert.Equal(t, KindExpiredToken, KindOf(err))
}

func TestVerifyInvalidSignature(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), issuer.token(tokenOpts{
		subject: "user_2abc",
		key:     otherKey,
	}))
	require.Error(t, err)
	assert.Equal(t, KindInvalidSignature, KindOf(err))
}

func TestVerifyAudienceMismatch(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	_, err := v.Verify(context.Background(), issuer.token(tokenOpts{
		subject:  "user_2abc",
		audience: "someone-else",
	}))
	require.Error(t, err)
	assert.Equal(t, KindInvalidSignature, KindOf(err))
}

func TestVerifyMissingSubject(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	_, err := v.Verify(context.Background(), issuer.token(tokenOpts{}))
	require.Error(t, err)
	assert.Equal(t, KindMissingSubjectClaim, KindOf(err))
}

func TestVerifyMalformedToken(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	for _, credential := range []string{"", "not-a-token", "a.b"} {
		_, err := v.Verify(context.Background(), credential)
		require.Error(t, err, "credential %q", credential)
		assert.Equal(t, KindMalformedToken, KindOf(err))
	}
}

func TestVerifyRejectsDifferentAlgorithm(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_2abc",
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = issuer.kid
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, KindInvalidSignature, KindOf(err))
}

func TestVerifyUnknownSigningKey(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	_, err := v.Verify(context.Background(), issuer.token(tokenOpts{
		subject: "user_2abc",
		kid:     "key-that-never-existed",
	}))
	require.Error(t, err)
	assert.Equal(t, KindUnknownSigningKey, KindOf(err))
}

func TestVerifyRotatedSigningKey(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()

	_, err := v.Verify(context.Background(), issuer.token(tokenOpts{subject: "user_2abc"}))
	require.NoError(t, err)
	require.Equal(t, int64(1), issuer.fetches.Load())

	// Issuer rotates to a fresh key pair while the cached set is still
	// within its TTL. The unseen kid must reach the endpoint again rather
	// than being rejected off the cached set.
	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer.key = rotated
	issuer.kid = "key-2"

	identity, err := v.Verify(context.Background(), issuer.token(tokenOpts{subject: "user_2abc"}))
	require.NoError(t, err)
	assert.Equal(t, "user_2abc", identity.SubjectID)
	assert.Equal(t, int64(2), issuer.fetches.Load(), "unknown kid within TTL must refetch the key set")
}

func TestVerifyUnknownKeyRefreshFailure(t *testing.T) {
	issuer := newTestIssuer(t)
	token := issuer.token(tokenOpts{subject: "user_2abc"})
	v := issuer.verifier()

	// With the endpoint gone and nothing cached, refresh failure surfaces
	// as UnknownSigningKey, not a crash.
	issuer.server.Close()

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, KindUnknownSigningKey, KindOf(err))
}

func TestConcurrentMissesSingleFetch(t *testing.T) {
	issuer := newTestIssuer(t)
	v := issuer.verifier()
	token := issuer.token(tokenOpts{subject: "user_2abc"})

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = v.Verify(context.Background(), token)
		}(n)
	}
	wg.Wait()

	for n, err := range errs {
		require.NoError(t, err, "worker %d", n)
	}
	assert.Equal(t, int64(1), issuer.fetches.Load(), "concurrent misses must share one key-set fetch")
}

func TestKeySetStaleFallback(t *testing.T) {
	issuer := newTestIssuer(t)
	ks := NewKeySet(issuer.server.URL, time.Nanosecond, time.Second, logging.Nop())

	_, err := ks.Key(context.Background(), issuer.kid)
	require.NoError(t, err)

	// Cache is instantly stale; with the endpoint gone the cached key is
	// still served rather than failing verification.
	issuer.server.Close()
	time.Sleep(time.Millisecond)

	key, err := ks.Key(context.Background(), issuer.kid)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestNewVerifierRequiresEndpoint(t *testing.T) {
	_, err := NewVerifier(config.AuthConfig{Audience: testAudience}, logging.Nop())
	require.Error(t, err)
}
