package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

// Verifier converts an opaque bearer credential into an Identity.
//
// Verification resolves the signing key from the cached key set, checks the
// signature with the single configured asymmetric algorithm, and validates
// expiration, audience and subject claims.
type Verifier struct {
	keys     *KeySet
	audience string
	method   string
	logger   logging.Logger
}

// NewVerifier creates a token verifier backed by the issuer's key-set endpoint.
func NewVerifier(cfg config.AuthConfig, logger logging.Logger) (*Verifier, error) {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil, fmt.Errorf("key-set endpoint not configured")
	}
	method := cfg.Algorithm
	if method == "" {
		method = "RS256"
	}
	if jwt.GetSigningMethod(method) == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", method)
	}
	logger = logging.OrNop(logger)
	return &Verifier{
		keys:     NewKeySet(cfg.JWKSURL, cfg.KeyTTL, cfg.RefreshTimeout, logger),
		audience: cfg.Audience,
		method:   method,
		logger:   logger,
	}, nil
}

// Verify validates the raw token string (without the "Bearer " prefix) and
// returns the authenticated identity.
func (v *Verifier) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, newError(KindMalformedToken, errors.New("empty credential"))
	}

	// Expiration is reported ahead of signature state so a caller holding an
	// expired token always sees ExpiredToken, not whichever signature error
	// the parser hits first.
	if err := v.checkExpiry(credential); err != nil {
		return Identity{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parser := jwt.NewParser(opts...)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(credential, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, newError(KindUnknownSigningKey, errors.New("token header has no key identifier"))
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return Identity{}, classifyParseError(err)
	}

	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		return Identity{}, newError(KindMissingSubjectClaim, errors.New("subject claim absent or empty"))
	}

	email, _ := claims["email"].(string)
	identity := Identity{
		SubjectID: subject,
		Email:     email,
		Claims:    map[string]any(claims),
	}
	v.logger.Debug("token verified for subject %s", subject)
	return identity, nil
}

// checkExpiry reads the expiration claim without verifying the signature.
func (v *Verifier) checkExpiry(credential string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return newError(KindMalformedToken, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return newError(KindMalformedToken, fmt.Errorf("invalid expiration claim: %w", err))
	}
	if exp != nil && exp.Before(time.Now()) {
		return newError(KindExpiredToken, fmt.Errorf("token expired at %s", exp.Time.Format(time.RFC3339)))
	}
	return nil
}

func classifyParseError(err error) error {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(KindExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(KindMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newError(KindInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		// The token was issued for a different consumer; treat it like a
		// signature that does not belong to us.
		return newError(KindInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newError(KindMalformedToken, err)
	default:
		return newError(KindMalformedToken, err)
	}
}
