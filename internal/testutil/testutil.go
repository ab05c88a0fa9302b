package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/anchor/internal/config"
)

// NewTestConfig returns a minimal valid config for testing.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	return cfg
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// StaticCredential is a credential source that always returns Key.
// An empty Key behaves like an unconfigured credential.
type StaticCredential struct {
	Key string
	Err error
}

// Credential implements upstream.CredentialSource.
func (s StaticCredential) Credential(context.Context) (string, error) {
	return s.Key, s.Err
}
