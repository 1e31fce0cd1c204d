package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// HMACSecretLength is the byte length of generated secrets (64 hex characters).
const HMACSecretLength = 32

// GenerateHMACSecret returns a random hex secret for auth.hmac-secret.
func GenerateHMACSecret() (string, error) {
	b := make([]byte, HMACSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateInitConfigYAML renders the defaults with a fresh HMAC secret, so a server
// started from it verifies tokens signed by whoever holds the secret.
func GenerateInitConfigYAML() ([]byte, error) {
	cfg := NewDefaultConfig()
	secret, err := GenerateHMACSecret()
	if err != nil {
		return nil, err
	}
	cfg.Auth.HMACSecret = secret
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return data, nil
}
