package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestProviderTokenIsCachedUntilTTL(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewProviderTokenGenerator(key, "KEY123", "TEAM456")
	g.now = func() time.Time { return now }

	first, err := g.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	again, _ := g.Token()
	if first != again {
		t.Fatal("token should be reused inside the TTL")
	}

	now = now.Add(APNsTokenTTL + time.Second)
	rotated, _ := g.Token()
	if rotated == first {
		t.Fatal("token should rotate after the TTL")
	}

	parsed, err := jwt.Parse(rotated, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Header["kid"] != "KEY123" {
		t.Fatalf("kid = %v", parsed.Header["kid"])
	}
	if iss, _ := parsed.Claims.GetIssuer(); iss != "TEAM456" {
		t.Fatalf("iss = %q", iss)
	}
}

func TestParseServiceAccountBuildsAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	raw, _ := json.Marshal(ServiceAccount{
		ProjectID:   "demo-project",
		PrivateKey:  string(pemKey),
		ClientEmail: "push@demo-project.iam.gserviceaccount.com",
		TokenURI:    "https://oauth.example.test/token",
	})

	sa, gen, err := ParseServiceAccount(raw)
	if err != nil {
		t.Fatalf("parse service account: %v", err)
	}
	if sa.ProjectID != "demo-project" {
		t.Fatalf("project = %q", sa.ProjectID)
	}

	signed, _, err := gen.Generate(time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims := &AssertionClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithAudience("https://oauth.example.test/token"))
	if err != nil {
		t.Fatalf("verify assertion: %v", err)
	}
	if claims.Scope != FirebaseMessagingScope {
		t.Fatalf("scope = %q", claims.Scope)
	}
}
