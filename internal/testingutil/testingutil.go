package testingutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir returns a freshly created temporary directory that is removed
// when the test completes.
func TempDir(tb testing.TB) string {
	tb.Helper()

	dir, err := os.MkdirTemp("", "replicore-")
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := os.RemoveAll(dir); err != nil {
			tb.Fatal(err)
		}
	})
	return dir
}

// MustWriteFile writes data to path, creating parent directories as needed,
// and fails the test on any error.
func MustWriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatal(err)
	}
}
