package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceAccount is the subset of a Google service-account key file used here.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads a key file from disk.
func LoadServiceAccount(path string) (ServiceAccount, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("read service account %s: %w", path, err)
	}
	return ParseServiceAccount(b)
}

// ParseServiceAccount decodes key file JSON. Private keys stored with escaped
// newlines (common in environment variables) are accepted.
func ParseServiceAccount(b []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(b, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("decode service account: %w", err)
	}
	sa.PrivateKey = strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	if strings.TrimSpace(sa.ClientEmail) == "" {
		return ServiceAccount{}, errors.New("service account client_email is required")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		return ServiceAccount{}, errors.New("service account private_key is required")
	}
	return sa, nil
}

// Config builds a Manager config for sa. Scope and audience keep their defaults
// unless set on the returned value.
func (sa ServiceAccount) Config() (Config, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return Config{}, fmt.Errorf("parse service account private key: %w", err)
	}
	return Config{
		Issuer:     sa.ClientEmail,
		TokenURL:   sa.TokenURI,
		Audience:   sa.TokenURI,
		PrivateKey: key,
		KeyID:      sa.PrivateKeyID,
	}, nil
}
