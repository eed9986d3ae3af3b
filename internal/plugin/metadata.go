package plugin

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/stated/internal/config"
)

// ValidName reports whether name is usable as a domain key.
func ValidName(name string) bool {
	return config.GetValidator().Var(name, "required,plugin_name") == nil
}

// ValidateIdentity ensures a backend reports a well-formed name and version.
func ValidateIdentity(p StatePlugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	name := p.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("plugin requires a non-empty Name")
	}
	if !ValidName(name) {
		return fmt.Errorf("plugin '%s' has invalid Name (expected lowercase letters, digits, '-' or '_')", name)
	}
	version := p.Version()
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("plugin '%s' requires Version", name)
	}
	if err := config.GetValidator().Var(version, "semver"); err != nil {
		return fmt.Errorf("plugin '%s' has invalid Version '%s' (expected format: X.Y.Z)", name, version)
	}
	return nil
}

// Description summarises a backend's identity and capabilities for listings.
type Description struct {
	Name         string
	Version      string
	PlugTree     bool
	PluggetType  string
	Rollback     bool
	Checkpoints  bool
	Verification bool
	Atomic       bool
}

// Describe builds a listing entry for p.
func Describe(p StatePlugin) Description {
	caps := p.Capabilities()
	d := Description{
		Name:         p.Name(),
		Version:      p.Version(),
		Rollback:     caps.SupportsRollback,
		Checkpoints:  caps.SupportsCheckpoints,
		Verification: caps.SupportsVerification,
		Atomic:       caps.AtomicOperations,
	}
	if tree, ok := AsPlugTree(p); ok {
		d.PlugTree = true
		d.PluggetType = tree.PluggetType()
	}
	return d
}
