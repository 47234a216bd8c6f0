// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// AssertionClaims is the JWT-bearer grant assertion Google exchanges for an
// OAuth2 access token.
type AssertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}
