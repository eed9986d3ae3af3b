package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stated.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultSettingsAreValid(t *testing.T) {
	cfg := DefaultSettings()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "never", cfg.RollbackPolicy)

	d, err := cfg.DebounceInterval()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestLoadSettingsOverlaysDefaults(t *testing.T) {
	path := writeSettings(t, `
log_level = "debug"
verify = true
rollback_policy = "on-any-failure"

[repo]
root = "/srv/repos"

[packages]
install_cmd = ["dnf", "install", "-y"]
`)

	cfg, err := LoadSettings(path, false)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Verify)
	assert.Equal(t, "on-any-failure", cfg.RollbackPolicy)
	assert.Equal(t, "/srv/repos", cfg.Repo.Root)
	assert.Equal(t, []string{"dnf", "install", "-y"}, cfg.Packages.InstallCmd)
	assert.Equal(t, DefaultSettings().Packages.RemoveCmd, cfg.Packages.RemoveCmd)
}

func TestLoadSettingsRejectsUnknownKeys(t *testing.T) {
	path := writeSettings(t, "colour = \"blue\"\n")

	_, err := LoadSettings(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys: colour")
}

func TestLoadSettingsRejectsInvalidPolicy(t *testing.T) {
	path := writeSettings(t, "rollback_policy = \"sometimes\"\n")

	_, err := LoadSettings(path, false)
	require.Error(t, err)

	var validationErr *statederrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "rollback_policy", validationErr.Field)
}

func TestLoadSettingsRejectsBadDebounce(t *testing.T) {
	path := writeSettings(t, "[watch]\ndebounce = \"soon\"\n")

	_, err := LoadSettings(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch.debounce")
}

func TestLoadSettingsMalformed(t *testing.T) {
	path := writeSettings(t, "log_level = \n")

	_, err := LoadSettings(path, false)
	require.Error(t, err)

	var parseErr *statederrors.ConfigParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestLoadSettingsMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")

	cfg, err := LoadSettings(missing, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), cfg)

	_, err = LoadSettings(missing, false)
	require.Error(t, err)
	var ioErr *statederrors.IOError
	require.True(t, errors.As(err, &ioErr))
}

func TestLoadSettingsExample(t *testing.T) {
	cfg, err := LoadSettings(filepath.Join("..", "..", "examples", "stated.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, "on-fatal-failure", cfg.RollbackPolicy)
	assert.True(t, cfg.Verify)
	assert.Equal(t, "/srv/repos", cfg.Repo.Root)
	assert.Equal(t, "${db:Status-Abbrev}\t${Package}\n", cfg.Packages.QueryCmd[3])

	debounce, err := cfg.DebounceInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, debounce)
}
