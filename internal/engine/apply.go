package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/stated/internal/metrics"
	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

var (
	errNoResult     = errors.New("plugin returned no apply result")
	errNoCheckpoint = errors.New("no checkpoint was taken before apply")
)

// ApplyState reconciles every domain in desired with its backend.
//
// The run takes a best-effort checkpoint of each backend, computes all diffs
// (any error here aborts before anything is mutated), then applies each diff
// in domain order. A failing backend is recorded in its own result and the
// sweep continues. Verification and rollback follow according to Options.
// The report's Success is the logical AND of the per-backend results.
func (m *StateManager) ApplyState(ctx context.Context, desired *state.DesiredState) (*state.ApplyReport, error) {
	if desired == nil {
		return nil, fmt.Errorf("desired state is nil")
	}

	report := &state.ApplyReport{
		Success:     true,
		Results:     []state.ApplyResult{},
		Checkpoints: []state.PluginCheckpoint{},
	}

	start := time.Now()
	checkpoints := m.checkpointPhase(ctx, desired, report)
	m.metrics.ObservePhaseDuration(metrics.PhaseCheckpoint, time.Since(start))

	start = time.Now()
	diffs, err := m.CalculateAllDiffs(ctx, desired)
	m.metrics.ObservePhaseDuration(metrics.PhaseDiff, time.Since(start))
	if err != nil {
		m.log.Error(err, "diff computation failed, aborting apply")
		m.metrics.IncApplyRun(metrics.ResultAborted)
		return nil, err
	}

	start = time.Now()
	failures := m.applyPhase(ctx, diffs, checkpoints, report)
	m.metrics.ObservePhaseDuration(metrics.PhaseApply, time.Since(start))

	if m.opts.Verify {
		start = time.Now()
		report.Verifications = m.verifyDomains(ctx, desired)
		m.metrics.ObservePhaseDuration(metrics.PhaseVerify, time.Since(start))
	}

	if len(failures) > 0 && m.opts.RollbackPolicy != RollbackNever {
		start = time.Now()
		report.Rollbacks = m.rollbackPhase(ctx, failures, checkpoints)
		m.metrics.ObservePhaseDuration(metrics.PhaseRollback, time.Since(start))
	}

	if report.Success {
		m.metrics.IncApplyRun(metrics.ResultSuccess)
		m.log.Info("apply finished", "domains", len(diffs))
	} else {
		m.metrics.IncApplyRun(metrics.ResultDegraded)
		m.log.Warn("apply finished with failures", "failed", report.Failed())
	}
	return report, nil
}

// checkpointPhase snapshots every backend named in desired. Failures are
// logged and the backend is left out.
func (m *StateManager) checkpointPhase(ctx context.Context, desired *state.DesiredState, report *state.ApplyReport) map[string]*state.Checkpoint {
	checkpoints := make(map[string]*state.Checkpoint)
	for _, name := range desired.Names() {
		p, ok := m.Get(name)
		if !ok {
			continue
		}

		log := m.log.WithPlugin(name)
		cp, err := p.CreateCheckpoint(ctx)
		if err == nil {
			err = cp.ValidFor(name)
		}
		if err != nil {
			err = asCheckpointError(name, err)
			if plugin.IsUnsupported(err) {
				log.Debug("plugin does not support checkpoints")
				m.metrics.IncCheckpoint(name, metrics.ResultSkipped)
			} else {
				log.Warn("checkpoint failed, continuing without one", "error", err.Error())
				m.metrics.IncCheckpoint(name, metrics.ResultFailed)
			}
			continue
		}

		m.metrics.IncCheckpoint(name, metrics.ResultSuccess)
		checkpoints[name] = cp
		report.Checkpoints = append(report.Checkpoints, state.PluginCheckpoint{Plugin: name, Checkpoint: cp})
	}
	return checkpoints
}

// applyPhase applies every diff and returns the failed backends mapped to
// whether the failure was fatal (the call itself returned an error).
func (m *StateManager) applyPhase(ctx context.Context, diffs []*state.StateDiff, checkpoints map[string]*state.Checkpoint, report *state.ApplyReport) map[string]bool {
	failures := make(map[string]bool)
	for _, diff := range diffs {
		name := diff.Plugin
		log := m.log.WithPlugin(name)
		result, fatal := m.applyOne(ctx, diff)
		if result.Checkpoint == nil {
			result.Checkpoint = checkpoints[name]
		}

		if !result.Success {
			failures[name] = fatal
			report.Success = false
			log.Error(errors.New(joinErrors(result.Errors)), "apply failed", "fatal", fatal)
		} else {
			log.Info("applied diff", "changes", len(result.ChangesApplied))
		}
		m.metrics.IncBackendApply(name, metrics.Outcome(result.Success))
		report.Results = append(report.Results, *result)
	}
	return failures
}

func (m *StateManager) applyOne(ctx context.Context, diff *state.StateDiff) (*state.ApplyResult, bool) {
	name := diff.Plugin
	p, ok := m.Get(name)
	if !ok {
		result := state.NewApplyResult(name)
		result.Fail(plugin.NewApplyError(name, "", plugin.ErrPluginNotFound{Name: name}))
		return result, true
	}

	result, err := p.ApplyState(ctx, diff)
	switch {
	case err != nil:
		if result == nil {
			result = state.NewApplyResult(name)
		}
		result.Fail(err)
		result.Plugin = name
		return result, true
	case result == nil:
		result = state.NewApplyResult(name)
		result.Fail(plugin.NewApplyError(name, "", errNoResult))
		return result, true
	}

	result.Plugin = name
	if !result.Success && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, "plugin reported failure without details")
	}
	return result, false
}

// Verify checks convergence of every domain in desired against its backend.
// Failures are reported per backend and never returned as an error.
func (m *StateManager) Verify(ctx context.Context, desired *state.DesiredState) ([]state.Verification, error) {
	if desired == nil {
		return nil, fmt.Errorf("desired state is nil")
	}
	start := time.Now()
	defer func() { m.metrics.ObservePhaseDuration(metrics.PhaseVerify, time.Since(start)) }()
	return m.verifyDomains(ctx, desired), nil
}

func (m *StateManager) verifyDomains(ctx context.Context, desired *state.DesiredState) []state.Verification {
	verifications := []state.Verification{}
	for _, name := range desired.Names() {
		p, ok := m.Get(name)
		if !ok {
			continue
		}
		log := m.log.WithPlugin(name)
		if !p.Capabilities().SupportsVerification {
			log.Debug("plugin does not support verification")
			continue
		}

		v := state.Verification{Plugin: name}
		converged, err := p.VerifyState(ctx, desired.Plugins[name])
		switch {
		case err != nil:
			var failure *plugin.VerificationFailure
			if !errors.As(err, &failure) {
				err = plugin.NewVerificationFailure(name, err)
			}
			v.Error = err.Error()
			log.Warn("verification could not run", "error", v.Error)
		case !converged:
			log.Warn("plugin has not converged")
		default:
			v.Converged = true
		}
		m.metrics.IncVerification(name, v.Converged)
		verifications = append(verifications, v)
	}
	return verifications
}

// rollbackPhase restores failed backends covered by the policy. Successful
// backends are never touched.
func (m *StateManager) rollbackPhase(ctx context.Context, failures map[string]bool, checkpoints map[string]*state.Checkpoint) []state.RollbackOutcome {
	var outcomes []state.RollbackOutcome
	for _, name := range sortedFailures(failures) {
		if !m.opts.RollbackPolicy.covers(failures[name]) {
			continue
		}

		outcome := state.RollbackOutcome{Plugin: name}
		log := m.log.WithPlugin(name)
		cp, ok := checkpoints[name]
		if !ok {
			outcome.Error = plugin.NewCheckpointError(name, errNoCheckpoint).Error()
			log.Warn("cannot roll back without a checkpoint")
			m.metrics.IncRollback(name, metrics.ResultSkipped)
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.CheckpointID = cp.ID

		if err := m.Rollback(ctx, state.PluginCheckpoint{Plugin: name, Checkpoint: cp}); err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Rollback restores the backend named in pc to pc.Checkpoint. The checkpoint
// must have been created by that backend, and the backend must support
// rollback.
func (m *StateManager) Rollback(ctx context.Context, pc state.PluginCheckpoint) error {
	name := pc.Plugin
	if name == "" && pc.Checkpoint != nil {
		name = pc.Checkpoint.Plugin
	}
	p, ok := m.Get(name)
	if !ok {
		return plugin.NewCheckpointError(name, plugin.ErrPluginNotFound{Name: name})
	}
	if err := pc.Checkpoint.ValidFor(name); err != nil {
		return plugin.NewCheckpointError(name, err)
	}
	if !p.Capabilities().SupportsRollback {
		m.metrics.IncRollback(name, metrics.ResultSkipped)
		return plugin.NewCheckpointError(name, fmt.Errorf("rollback: %w", plugin.ErrUnsupported))
	}

	log := m.log.WithPlugin(name)
	if err := p.Rollback(ctx, pc.Checkpoint); err != nil {
		err = asCheckpointError(name, err)
		log.Error(err, "rollback failed", "checkpoint", pc.Checkpoint.ID)
		m.metrics.IncRollback(name, metrics.ResultFailed)
		return err
	}
	log.Info("rolled back plugin", "checkpoint", pc.Checkpoint.ID)
	m.metrics.IncRollback(name, metrics.ResultSuccess)
	return nil
}
