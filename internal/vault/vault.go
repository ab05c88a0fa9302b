package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "anchor"

// knownProviders is the list of providers checked by List().
var knownProviders = []string{"openai"}

// ErrNoCredential is returned when a key reference resolves to nothing.
var ErrNoCredential = errors.New("no credential configured")

// Vault provides API key storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores an API key for the given provider in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	return keyring.Set(serviceName, provider, key)
}

// Get retrieves the API key for the given provider. It first checks the
// OS keychain, then falls back to the environment variable
// ANCHOR_KEY_{UPPER(provider)}.
func (v *Vault) Get(provider string) (string, error) {
	secret, err := keyring.Get(serviceName, provider)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := envKeyFor(provider)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("%w: %q not in keychain and %s not set", ErrNoCredential, provider, envKey)
}

// Delete removes the API key for the given provider from the OS keychain.
func (v *Vault) Delete(provider string) error {
	return keyring.Delete(serviceName, provider)
}

// List returns the names of known providers that currently have keys stored.
// It checks both the keychain and environment variables for each provider.
func (v *Vault) List() ([]string, error) {
	var providers []string
	for _, provider := range knownProviders {
		if _, err := v.Get(provider); err == nil {
			providers = append(providers, provider)
		}
	}
	return providers, nil
}

// ResolveKeyRef parses a key reference and retrieves the corresponding API key.
// Supported formats:
//   - "keyring://anchor/<provider>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/key"
//
// A reference that is well formed but resolves to nothing returns an error
// wrapping ErrNoCredential.
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://anchor/<provider>\")", keyRef)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if envVar == "" {
			return "", fmt.Errorf("invalid key reference format: %q (empty variable name)", keyRef)
		}
		if val := strings.TrimSpace(os.Getenv(envVar)); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNoCredential, envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: key file %q does not exist", ErrNoCredential, filePath)
		}
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("%w: key file %q is empty", ErrNoCredential, filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://anchor/<provider>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}

// KeyRefSource resolves a fixed key reference on every call, so rotating a
// secret in the environment, keychain or key file takes effect without a
// restart.
type KeyRefSource struct {
	vault  *Vault
	keyRef string
}

// NewKeyRefSource returns a credential source bound to keyRef.
func NewKeyRefSource(v *Vault, keyRef string) *KeyRefSource {
	return &KeyRefSource{vault: v, keyRef: keyRef}
}

// Credential returns the current secret. An unresolvable reference yields
// ("", nil) when nothing is configured, and an error only when the reference
// itself is broken.
func (s *KeyRefSource) Credential(_ context.Context) (string, error) {
	key, err := s.vault.ResolveKeyRef(s.keyRef)
	if errors.Is(err, ErrNoCredential) {
		return "", nil
	}
	return key, err
}

func envKeyFor(provider string) string {
	return "ANCHOR_KEY_" + strings.ToUpper(provider)
}
