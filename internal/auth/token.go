package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is applied when Issue is called without a ttl.
const DefaultTokenTTL = 7 * 24 * time.Hour

const (
	// ClaimUserID is the identity claim carried by every session token.
	ClaimUserID = "user_id"
	// ClaimPurpose scopes a token to a single non-session use.
	ClaimPurpose = "purpose"
	claimExpiry  = "exp"
)

// PurposeVerifyEmail marks tokens mailed out for address confirmation.
const PurposeVerifyEmail = "verify_email"

// ErrMissingSecret is returned when no signing secret is configured and an
// ephemeral one is not allowed.
var ErrMissingSecret = errors.New("signing secret is required")

const ephemeralSecretBytes = 32

// TokenIssuer mints and verifies HS256 signed tokens.
type TokenIssuer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A non-positive defaultTTL falls back to
// DefaultTokenTTL.
func NewTokenIssuer(secret []byte, defaultTTL time.Duration) *TokenIssuer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret:     secret,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *i
	cp.now = now
	return &cp
}

// DefaultTTL returns the lifetime applied when Issue gets no explicit ttl.
func (i *TokenIssuer) DefaultTTL() time.Duration {
	return i.defaultTTL
}

// Issue signs claims with an expiry of now+ttl. When ttl is omitted the
// issuer's default applies. A ttl <= 0 yields a token that is already expired.
func (i *TokenIssuer) Issue(claims map[string]any, ttl ...time.Duration) (string, error) {
	lifetime := i.defaultTTL
	if len(ttl) > 0 {
		lifetime = ttl[0]
	}
	return i.IssueWithTTL(claims, lifetime)
}

// IssueWithTTL is Issue with an explicit lifetime.
func (i *TokenIssuer) IssueWithTTL(claims map[string]any, ttl time.Duration) (string, error) {
	mc := make(jwt.MapClaims, len(claims)+1)
	for k, v := range claims {
		mc[k] = v
	}

	exp := i.now().Add(ttl)
	if ttl <= 0 {
		// Second-granularity expiry; push it strictly into the past.
		exp = i.now().Add(-time.Second)
	}
	mc[claimExpiry] = exp.Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Any failure (bad signature, malformed
// token, unexpected algorithm, missing or past expiry) reports false.
func (i *TokenIssuer) Verify(token string) (map[string]any, bool) {
	if token == "" {
		return nil, false
	}

	parsed, err := jwt.ParseWithClaims(token, jwt.MapClaims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	return map[string]any(mc), true
}

// UserID verifies token and extracts its user_id claim.
func (i *TokenIssuer) UserID(token string) (int64, bool) {
	claims, ok := i.Verify(token)
	if !ok {
		return 0, false
	}
	return ClaimInt64(claims, ClaimUserID)
}

// ClaimInt64 reads an integral numeric claim. JSON decoding yields float64, so
// fractional or out-of-range values are rejected.
func ClaimInt64(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// ResolveSigningSecret returns the configured secret, or a random
// process-lifetime secret when allowEphemeral is set. The boolean reports
// whether the secret is ephemeral; sessions signed with it do not survive a
// restart.
func ResolveSigningSecret(configured string, allowEphemeral bool) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	if !allowEphemeral {
		return nil, false, ErrMissingSecret
	}

	secret := make([]byte, ephemeralSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, false, fmt.Errorf("generate signing secret: %w", err)
	}
	return secret, true, nil
}
