// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// APNs rejects provider tokens older than an hour and throttles tokens that
// are refreshed more often than every 20 minutes.
const APNsTokenTTL = 50 * time.Minute

// ProviderTokenGenerator mints and caches the ES256 provider token APNs
// expects in the authorization header.
type ProviderTokenGenerator struct {
	priv   *ecdsa.PrivateKey
	keyID  string
	teamID string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

func NewProviderTokenGenerator(priv *ecdsa.PrivateKey, keyID, teamID string) *ProviderTokenGenerator {
	return &ProviderTokenGenerator{
		priv:   priv,
		keyID:  keyID,
		teamID: teamID,
		ttl:    APNsTokenTTL,
		now:    time.Now,
	}
}

// Token returns the cached token, minting a new one once it has aged past
// the TTL.
func (g *ProviderTokenGenerator) Token() (string, error) {
	if g.priv == nil {
		return "", fmt.Errorf("provider token generator has nil private key")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.token != "" && now.Sub(g.issuedAt) < g.ttl {
		return g.token, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:   g.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	})
	tok.Header["kid"] = g.keyID

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign provider token: %w", err)
	}

	g.token = signed
	g.issuedAt = now
	return signed, nil
}

// Invalidate drops the cached token, e.g. after APNs answers
// ExpiredProviderToken.
func (g *ProviderTokenGenerator) Invalidate() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}

// AssertionGenerator signs RS256 JWT-bearer assertions for a Google service
// account.
type AssertionGenerator struct {
	priv     *rsa.PrivateKey
	email    string
	audience string
	scope    string
	kid      string
	Ttl      time.Duration
}

func NewAssertionGenerator(priv *rsa.PrivateKey, email, audience, scope, kid string) *AssertionGenerator {
	return &AssertionGenerator{
		priv:     priv,
		email:    email,
		audience: audience,
		scope:    scope,
		kid:      kid,
		Ttl:      time.Hour,
	}
}

// Generate returns a signed assertion and its expiry.
func (g *AssertionGenerator) Generate(now time.Time) (string, time.Time, error) {
	if g.priv == nil {
		return "", time.Time{}, fmt.Errorf("assertion generator has nil private key")
	}

	expiresAt := now.Add(g.Ttl)
	claims := &AssertionClaims{
		Scope: g.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.email,
			Subject:   g.email,
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        ulid.Make().String(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, expiresAt, nil
}
