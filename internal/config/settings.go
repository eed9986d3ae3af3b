package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

// Settings configures the engine and the bundled backends. It is read from a
// TOML file; every key is optional.
type Settings struct {
	LogLevel       string          `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	HumanReadable  bool            `toml:"human_readable"`
	Verify         bool            `toml:"verify"`
	RollbackPolicy string          `toml:"rollback_policy" validate:"omitempty,oneof=never on-any-failure on-fatal-failure"`
	MetricsFile    string          `toml:"metrics_file"`
	Watch          WatchSettings   `toml:"watch"`
	Network        NetworkSettings `toml:"net"`
	Repo           RepoSettings    `toml:"repo"`
	Packages       PackageSettings `toml:"packages"`
}

// WatchSettings tunes the document watcher.
type WatchSettings struct {
	Debounce string `toml:"debounce"`
}

// NetworkSettings configures the net backend.
type NetworkSettings struct {
	StateFile string `toml:"state_file" validate:"required"`
}

// RepoSettings configures the repos backend.
type RepoSettings struct {
	Root string `toml:"root" validate:"required"`
}

// PackageSettings configures the packages backend. Each command is an argv
// prefix; package names are appended.
type PackageSettings struct {
	QueryCmd   []string `toml:"query_cmd" validate:"min=1"`
	InstallCmd []string `toml:"install_cmd" validate:"min=1"`
	RemoveCmd  []string `toml:"remove_cmd" validate:"min=1"`
}

// DefaultSettings returns the settings used when no file is supplied.
func DefaultSettings() Settings {
	dataDir := defaultDataDir()
	return Settings{
		LogLevel:       "info",
		HumanReadable:  true,
		RollbackPolicy: "never",
		Watch:          WatchSettings{Debounce: "500ms"},
		Network:        NetworkSettings{StateFile: filepath.Join(dataDir, "net.yaml")},
		Repo:           RepoSettings{Root: filepath.Join(dataDir, "repos")},
		Packages: PackageSettings{
			QueryCmd:   []string{"dpkg-query", "-W", "-f", "${db:Status-Abbrev}\t${Package}\n"},
			InstallCmd: []string{"apt-get", "install", "-y"},
			RemoveCmd:  []string{"apt-get", "remove", "-y"},
		},
	}
}

// LoadSettings reads settings from path layered over DefaultSettings. A missing
// file at path yields the defaults only when allowMissing is set.
func LoadSettings(path string, allowMissing bool) (Settings, error) {
	cfg := DefaultSettings()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return Settings{}, statederrors.NewIOError(path, "read", err)
		}
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return Settings{}, statederrors.NewConfigParseError(path, parseErr.Position.Line, err)
		}
		return Settings{}, statederrors.NewConfigParseError(path, 0, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return Settings{}, statederrors.NewConfigParseError(path, 0, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", ")))
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := ValidateStruct(&s); err != nil {
		return err
	}
	if _, err := s.DebounceInterval(); err != nil {
		return statederrors.NewValidationError("watch.debounce", err.Error(), err)
	}
	return nil
}

// DebounceInterval parses Watch.Debounce.
func (s Settings) DebounceInterval() (time.Duration, error) {
	raw := strings.TrimSpace(s.Watch.Debounce)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse debounce: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("debounce must not be negative")
	}
	return d, nil
}

func defaultDataDir() string {
	if dir := os.Getenv("STATED_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stated")
	}
	return filepath.Join(os.TempDir(), "stated")
}
