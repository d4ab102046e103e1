// Package testutil provides helpers for testing tslinstall in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root     string
	Prefix   string
	BinDir   string
	LibDir   string
	CacheDir string
	StateDir string
}

// SetupTestEnv creates isolated install directories and points the
// tslinstall environment variables at them, so tests never touch a real
// prefix. Cleanup is handled by t.TempDir.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	root := t.TempDir()
	env := &Env{
		Root:     root,
		Prefix:   filepath.Join(root, "prefix"),
		BinDir:   filepath.Join(root, "prefix", "bin"),
		LibDir:   filepath.Join(root, "prefix", "lib"),
		CacheDir: filepath.Join(root, "cache"),
		StateDir: filepath.Join(root, "prefix", "var", "tslinstall"),
	}

	t.Setenv("TSLINSTALL_PREFIX", env.Prefix)
	t.Setenv("TSLINSTALL_CACHE_DIR", env.CacheDir)
	t.Setenv("TSLINSTALL_TEST_MODE", "1")

	for _, dir := range []string{env.BinDir, env.LibDir, env.CacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}
