package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretService    = "persona"
	signingSecretKey = "jwt_secret"
)

// Keychain is a file-backed secret store at $XDG_DATA_HOME/persona/secrets.json.
// It only holds secrets the server generates for itself; provider credentials
// come from the environment.
type Keychain struct {
	path string
}

func NewKeychain() Keychain {
	return Keychain{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func (k Keychain) Get(service, account string) (string, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return "", fmt.Errorf("secret store not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

func (k Keychain) Set(service, account, value string) error {
	var secrets map[string]map[string]string

	data, err := os.ReadFile(k.path)
	if err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}

// GetSigningSecret returns the HMAC secret used for bearer and upload
// tokens, generating and storing a random one on first use.
func GetSigningSecret(kc keychain) (string, error) {
	if s, err := kc.Get(secretService, signingSecretKey); err == nil && s != "" {
		return s, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating signing secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := kc.Set(secretService, signingSecretKey, secret); err != nil {
		return "", fmt.Errorf("storing signing secret: %w", err)
	}
	return secret, nil
}
