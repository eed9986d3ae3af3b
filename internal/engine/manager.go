// Package engine implements the reconciliation engine: a registry of state
// backends and the checkpoint, diff, apply, verify and rollback protocol that
// drives them toward a desired-state document.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/stated/internal/config"
	"github.com/alexisbeaulieu97/stated/internal/logger"
	"github.com/alexisbeaulieu97/stated/internal/metrics"
	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

// Options configures a StateManager.
type Options struct {
	// Verify runs VerifyState on every backend after the apply sweep.
	Verify bool
	// RollbackPolicy selects which failed backends are restored afterwards.
	RollbackPolicy RollbackPolicy
	Logger         *logger.Logger
	Metrics        metrics.Recorder
}

// StateManager owns the backend registry and orchestrates reconciliation.
// The registry lock is held only for individual lookups, never across a
// backend call.
type StateManager struct {
	mu      sync.RWMutex
	plugins map[string]plugin.StatePlugin

	opts    Options
	log     *logger.Logger
	metrics metrics.Recorder
}

// NewStateManager creates an empty manager.
func NewStateManager(opts Options) *StateManager {
	if opts.RollbackPolicy == "" {
		opts.RollbackPolicy = RollbackNever
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &StateManager{
		plugins: make(map[string]plugin.StatePlugin),
		opts:    opts,
		log:     opts.Logger,
		metrics: rec,
	}
}

// Register adds p under p.Name(). A later registration under the same name
// replaces the earlier one.
func (m *StateManager) Register(p plugin.StatePlugin) error {
	if err := plugin.ValidateIdentity(p); err != nil {
		name := ""
		if p != nil {
			name = p.Name()
		}
		return statederrors.NewPluginError(name, err)
	}
	name := p.Name()

	m.mu.Lock()
	_, replaced := m.plugins[name]
	m.plugins[name] = p
	m.mu.Unlock()

	if replaced {
		m.log.Debug("replaced registered plugin", "plugin", name, "version", p.Version())
	} else {
		m.log.Debug("registered plugin", "plugin", name, "version", p.Version())
	}
	return nil
}

// Get returns the backend registered under name.
func (m *StateManager) Get(name string) (plugin.StatePlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// PlugTree returns the collection extension of the backend registered under
// name, if it implements one.
func (m *StateManager) PlugTree(name string) (plugin.PlugTree, bool) {
	p, ok := m.Get(name)
	if !ok {
		return nil, false
	}
	return plugin.AsPlugTree(p)
}

// Plugins returns the registered backend names in sorted order.
func (m *StateManager) Plugins() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Describe lists identity and capabilities of every registered backend.
func (m *StateManager) Describe() []plugin.Description {
	var out []plugin.Description
	for _, name := range m.Plugins() {
		if p, ok := m.Get(name); ok {
			out = append(out, plugin.Describe(p))
		}
	}
	return out
}

// LoadDesiredState parses the document at path.
func (m *StateManager) LoadDesiredState(path string) (*state.DesiredState, error) {
	desired, err := config.LoadDesiredState(path)
	if err != nil {
		return nil, err
	}
	m.log.Debug("loaded desired state", "path", path, "version", desired.Version, "domains", desired.Names())
	return desired, nil
}

// QueryCurrentState observes every registered backend. The first failure
// aborts the call and no partial state is returned.
func (m *StateManager) QueryCurrentState(ctx context.Context) (*state.CurrentState, error) {
	current := &state.CurrentState{Plugins: map[string]any{}}
	for _, name := range m.Plugins() {
		p, ok := m.Get(name)
		if !ok {
			continue
		}
		value, err := p.QueryCurrentState(ctx)
		if err != nil {
			err = asObservationError(name, err)
			m.log.Error(err, "query current state failed", "plugin", name)
			return nil, err
		}
		current.Plugins[name] = value
	}
	return current, nil
}

// CalculateAllDiffs computes a diff for every domain in desired that has a
// registered backend. Domains without a backend are skipped with a warning.
// Only diffs with at least one action are returned, ordered by domain name.
func (m *StateManager) CalculateAllDiffs(ctx context.Context, desired *state.DesiredState) ([]*state.StateDiff, error) {
	if desired == nil {
		return nil, fmt.Errorf("desired state is nil")
	}

	var diffs []*state.StateDiff
	for _, name := range desired.Names() {
		p, ok := m.Get(name)
		if !ok {
			m.log.Warn("no plugin registered for domain, skipping", "domain", name)
			m.metrics.IncUnknownDomain(name)
			continue
		}

		current, err := p.QueryCurrentState(ctx)
		if err != nil {
			return nil, asObservationError(name, err)
		}

		want := desired.Plugins[name]
		diff, err := p.CalculateDiff(current, want)
		if err != nil {
			return nil, asDiffError(name, err)
		}
		if diff.IsEmpty() {
			m.log.Debug("domain converged", "plugin", name)
			continue
		}

		diff.Plugin = name
		if diff.Metadata.Timestamp.IsZero() {
			diff.Metadata.Timestamp = time.Now().UTC()
		}
		diff.Metadata.CurrentHash = state.Fingerprint(current)
		diff.Metadata.DesiredHash = state.Fingerprint(want)

		m.log.Debug("computed diff",
			"plugin", name,
			"actions", len(diff.Actions),
			"current_hash", diff.Metadata.CurrentHash,
			"desired_hash", diff.Metadata.DesiredHash,
		)
		diffs = append(diffs, diff)
	}
	return diffs, nil
}

// ShowDiff is the read-only planning step: it computes diffs without taking
// checkpoints or applying anything.
func (m *StateManager) ShowDiff(ctx context.Context, desired *state.DesiredState) ([]*state.StateDiff, error) {
	start := time.Now()
	diffs, err := m.CalculateAllDiffs(ctx, desired)
	m.metrics.ObservePhaseDuration(metrics.PhaseDiff, time.Since(start))
	return diffs, err
}

func asObservationError(name string, err error) error {
	if _, ok := plugin.AsPluginError(err); ok {
		return err
	}
	return plugin.NewObservationError(name, err)
}

func asDiffError(name string, err error) error {
	if _, ok := plugin.AsPluginError(err); ok {
		return err
	}
	return plugin.NewDiffComputationError(name, err)
}

func asCheckpointError(name string, err error) error {
	if _, ok := plugin.AsPluginError(err); ok {
		return err
	}
	return plugin.NewCheckpointError(name, err)
}
