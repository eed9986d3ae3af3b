package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return statederrors.NewIOError(dir, "mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return statederrors.NewIOError(path, "write", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return statederrors.NewIOError(path, "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return statederrors.NewIOError(path, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return statederrors.NewIOError(path, "write", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return statederrors.NewIOError(path, "chmod", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return statederrors.NewIOError(path, "rename", err)
	}
	return nil
}

// WriteSealed seals data and atomically writes it to path with owner-only
// permissions.
func WriteSealed(path string, data []byte, sealer Sealer) error {
	if sealer == nil {
		return fmt.Errorf("write %s: no sealer configured", path)
	}
	sealed, err := sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}
	return WriteFile(path, sealed, 0o600)
}

// ReadFile returns the contents of path, opening them with sealer when the
// file is sealed. Plaintext files are returned as-is.
func ReadFile(path string, sealer Sealer) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, statederrors.NewIOError(path, "read", err)
	}
	if !IsSealed(data) {
		return data, nil
	}
	if sealer == nil {
		return nil, fmt.Errorf("read %s: file is sealed and no key or passphrase was supplied", path)
	}
	plaintext, err := sealer.Open(data)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return plaintext, nil
}
