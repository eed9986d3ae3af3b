// Package pkgmgr is the "packages" backend. It installs and removes system
// packages through configurable query/install/remove commands, dpkg-query and
// apt-get by default.
package pkgmgr

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/stated/internal/config"
	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/plugins/internalexec"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

const (
	// Name is the domain key of this backend.
	Name    = "packages"
	version = "1.0.0"
)

// Config is the "packages" domain document.
type Config struct {
	Install []string `yaml:"install,omitempty" validate:"omitempty,dive,package_name"`
	Remove  []string `yaml:"remove,omitempty" validate:"omitempty,dive,package_name"`
}

// Validate checks package names and rejects a package listed both for
// installation and removal.
func (c Config) Validate() error {
	if err := config.ValidateStruct(&c); err != nil {
		return err
	}
	install := make(map[string]struct{}, len(c.Install))
	for _, name := range c.Install {
		install[name] = struct{}{}
	}
	for _, name := range c.Remove {
		if _, ok := install[name]; ok {
			return fmt.Errorf("package %s is listed in both install and remove", name)
		}
	}
	return nil
}

// Installed is the observed state: the sorted set of installed packages.
type Installed struct {
	Installed []string `yaml:"installed"`
}

// Plugin reconciles the installed package set.
type Plugin struct {
	settings config.PackageSettings
	runner   *internalexec.Runner
}

// New creates the "packages" backend. A nil runner discards command output.
func New(settings config.PackageSettings, runner *internalexec.Runner) *Plugin {
	if runner == nil {
		runner = &internalexec.Runner{}
	}
	return &Plugin{settings: settings, runner: runner}
}

var _ plugin.StatePlugin = (*Plugin)(nil)

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version }

// Capabilities reports that package transactions cannot be undone.
func (p *Plugin) Capabilities() state.PluginCapabilities {
	return state.PluginCapabilities{
		SupportsRollback:     false,
		SupportsCheckpoints:  true,
		SupportsVerification: true,
		AtomicOperations:     false,
	}
}

// QueryCurrentState returns {"installed": [...]}.
func (p *Plugin) QueryCurrentState(ctx context.Context) (any, error) {
	installed, err := p.installed(ctx)
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	doc, err := state.Encode(Installed{Installed: installed})
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	return doc, nil
}

// CalculateDiff emits a create for every requested package that is missing
// and a delete for every package marked for removal that is installed.
func (p *Plugin) CalculateDiff(current, desired any) (*state.StateDiff, error) {
	var want Config
	if desired != nil {
		if err := state.Decode(desired, &want); err != nil {
			return nil, plugin.NewDiffComputationError(Name, err)
		}
	}
	if err := want.Validate(); err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	var have Installed
	if current != nil {
		if err := state.Decode(current, &have); err != nil {
			return nil, plugin.NewDiffComputationError(Name, fmt.Errorf("current state: %w", err))
		}
	}

	installed := make(map[string]struct{}, len(have.Installed))
	for _, name := range have.Installed {
		installed[name] = struct{}{}
	}

	var actions []state.StateAction
	for _, name := range uniqueSorted(want.Install) {
		if _, ok := installed[name]; !ok {
			actions = append(actions, state.Create(name, nil))
		}
	}
	for _, name := range uniqueSorted(want.Remove) {
		if _, ok := installed[name]; ok {
			actions = append(actions, state.Delete(name))
		}
	}
	return state.NewDiff(Name, current, desired, actions), nil
}

// ApplyState runs one install and one remove transaction. A failed install
// does not prevent the removals from running.
func (p *Plugin) ApplyState(ctx context.Context, diff *state.StateDiff) (*state.ApplyResult, error) {
	result := state.NewApplyResult(Name)
	if diff.IsEmpty() {
		return result, nil
	}

	var install, remove []string
	for _, action := range diff.Actions {
		switch action.Kind {
		case state.ActionCreate:
			install = append(install, action.Resource)
		case state.ActionDelete:
			remove = append(remove, action.Resource)
		case state.ActionNoOp:
		default:
			result.Fail(plugin.NewApplyError(Name, action.Resource, fmt.Errorf("unsupported action %q", action.Kind)))
		}
	}

	p.transact(ctx, result, p.settings.InstallCmd, install, "installed")
	p.transact(ctx, result, p.settings.RemoveCmd, remove, "removed")
	return result, nil
}

// VerifyState reports whether a fresh diff against desired is empty.
func (p *Plugin) VerifyState(ctx context.Context, desired any) (bool, error) {
	current, err := p.QueryCurrentState(ctx)
	if err != nil {
		return false, plugin.NewVerificationFailure(Name, err)
	}
	diff, err := p.CalculateDiff(current, desired)
	if err != nil {
		return false, plugin.NewVerificationFailure(Name, err)
	}
	return !diff.HasChanges(), nil
}

// CreateCheckpoint records the installed set for audit. It cannot be rolled
// back to.
func (p *Plugin) CreateCheckpoint(ctx context.Context) (*state.Checkpoint, error) {
	current, err := p.QueryCurrentState(ctx)
	if err != nil {
		return nil, plugin.NewCheckpointError(Name, err)
	}
	return state.NewCheckpoint(Name, current, nil), nil
}

func (p *Plugin) Rollback(_ context.Context, _ *state.Checkpoint) error {
	return plugin.NewCheckpointError(Name, plugin.ErrUnsupported)
}

func (p *Plugin) transact(ctx context.Context, result *state.ApplyResult, prefix, packages []string, verb string) {
	if len(packages) == 0 {
		return
	}
	argv := append(append([]string{}, prefix...), packages...)
	if _, err := p.runner.Run(ctx, argv...); err != nil {
		result.Fail(plugin.NewApplyError(Name, strings.Join(packages, " "), err))
		return
	}
	for _, name := range packages {
		result.Record(fmt.Sprintf("%s %s", verb, name))
	}
}

func (p *Plugin) installed(ctx context.Context) ([]string, error) {
	res, err := p.runner.Run(ctx, p.settings.QueryCmd...)
	if err != nil {
		return nil, err
	}
	return parseInstalled(res.Stdout), nil
}

// parseInstalled reads "<status>\t<package>" lines and keeps packages whose
// status is "ii" (desired install, currently installed).
func parseInstalled(out string) []string {
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		status, name, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.TrimSpace(status) != "ii" || name == "" {
			continue
		}
		names = append(names, name)
	}
	return uniqueSorted(names)
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
