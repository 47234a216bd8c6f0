// internal/pkg/jwt/loader.go
package jwt

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	FirebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	defaultGoogleTokenURI  = "https://oauth2.googleapis.com/token"
)

// ServiceAccount is the subset of a Google service-account JSON file the FCM
// gateway needs.
type ServiceAccount struct {
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads a service-account file and builds the assertion
// generator for the FCM scope.
func LoadServiceAccount(path string) (*ServiceAccount, *AssertionGenerator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read service account %s: %w", path, err)
	}
	return ParseServiceAccount(b)
}

func ParseServiceAccount(b []byte) (*ServiceAccount, *AssertionGenerator, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(b, &sa); err != nil {
		return nil, nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, nil, fmt.Errorf("service account is missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultGoogleTokenURI
	}

	priv, err := ParseRSAPrivateKeyPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load service account key: %w", err)
	}

	gen := NewAssertionGenerator(priv, sa.ClientEmail, sa.TokenURI, FirebaseMessagingScope, sa.PrivateKeyID)
	return &sa, gen, nil
}
