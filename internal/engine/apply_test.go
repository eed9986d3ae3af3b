package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

func TestApplyStateConvergedIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, Options{Verify: true})
	a := newStub("a")
	a.resources["r1"] = "v1"
	require.NoError(t, m.Register(a))

	desired := desiredOf(map[string]any{"a": map[string]any{"r1": "v1"}})
	report, err := m.ApplyState(context.Background(), desired)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Empty(t, report.Results)
	require.Len(t, report.Verifications, 1)
	assert.True(t, report.Verifications[0].Converged)
	assert.NotContains(t, a.Calls(), "apply")
}

func TestApplyStateIdempotentReapply(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	a.emitNoOp = true
	require.NoError(t, m.Register(a))

	desired := desiredOf(map[string]any{"a": map[string]any{"r1": "v1", "r2": "v2"}})

	first, err := m.ApplyState(context.Background(), desired)
	require.NoError(t, err)
	require.True(t, first.Success)
	require.Len(t, first.Results, 1)
	assert.Len(t, first.Results[0].ChangesApplied, 2)

	diffs, err := m.ShowDiff(context.Background(), desired)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	for _, action := range diffs[0].Actions {
		assert.Equal(t, state.ActionNoOp, action.Kind)
	}

	second, err := m.ApplyState(context.Background(), desired)
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Len(t, second.Results, 1)
	assert.Empty(t, second.Results[0].ChangesApplied)
	assert.Empty(t, second.Results[0].Errors)
}

func TestApplyStatePartialFailureIsolation(t *testing.T) {
	tests := []struct {
		name     string
		sabotage func(*stubPlugin)
	}{
		{"call error", func(s *stubPlugin) { s.applyErr = errors.New("daemon down") }},
		{"unsuccessful result", func(s *stubPlugin) { s.applyFails = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, Options{})
			a := newStub("a")
			b := newStub("b")
			c := newStub("c")
			tt.sabotage(b)
			require.NoError(t, m.Register(a))
			require.NoError(t, m.Register(b))
			require.NoError(t, m.Register(c))

			report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
				"a": map[string]any{"r": "1"},
				"b": map[string]any{"r": "1"},
				"c": map[string]any{"r": "1"},
			}))
			require.NoError(t, err)
			assert.False(t, report.Success)
			assert.Equal(t, []string{"b"}, report.Failed())

			resA, ok := report.Result("a")
			require.True(t, ok)
			assert.True(t, resA.Success)

			resB, ok := report.Result("b")
			require.True(t, ok)
			assert.False(t, resB.Success)
			assert.NotEmpty(t, resB.Errors)

			resC, ok := report.Result("c")
			require.True(t, ok)
			assert.True(t, resC.Success, "the sweep continues past a failing backend")
			assert.Equal(t, map[string]any{"r": "1"}, c.Resources())
		})
	}
}

func TestApplyStateUnknownPluginStillSucceeds(t *testing.T) {
	m, logs := newTestManager(t, Options{})
	require.NoError(t, m.Register(newStub("a")))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
		"a":              map[string]any{"r": "1"},
		"unknown_plugin": map[string]any{"x": "y"},
	}))
	require.NoError(t, err)
	assert.True(t, report.Success)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "a", report.Results[0].Plugin)
	assert.Contains(t, logs.String(), "unknown_plugin")
}

func TestApplyStateCheckpointFailureDoesNotBlock(t *testing.T) {
	m, logs := newTestManager(t, Options{})
	a := newStub("a")
	a.checkpointErr = errors.New("snapshot store full")
	b := newStub("b")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
		"a": map[string]any{"r": "1"},
		"b": map[string]any{"r": "1"},
	}))
	require.NoError(t, err)
	assert.True(t, report.Success)

	_, ok := report.Checkpoint("a")
	assert.False(t, ok)
	cpB, ok := report.Checkpoint("b")
	require.True(t, ok)
	assert.Equal(t, "b", cpB.Plugin)

	resB, _ := report.Result("b")
	require.NotNil(t, resB.Checkpoint)
	assert.Equal(t, cpB.ID, resB.Checkpoint.ID)
	assert.Contains(t, logs.String(), "checkpoint failed")
}

func TestApplyStateCheckpointsOnlyDesiredDomains(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	idle := newStub("idle")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(idle))

	_, err := m.ApplyState(context.Background(), desiredOf(map[string]any{"a": map[string]any{"r": "1"}}))
	require.NoError(t, err)
	assert.Empty(t, idle.Calls())
}

func TestApplyStateDiffErrorAbortsBeforeMutation(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	b := newStub("b")
	b.diffErr = errors.New("malformed payload")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
		"a": map[string]any{"r": "1"},
		"b": map[string]any{"r": "1"},
	}))
	require.Error(t, err)
	assert.Nil(t, report)

	var diffErr *plugin.DiffComputationError
	require.True(t, errors.As(err, &diffErr))
	assert.NotContains(t, a.Calls(), "apply")
	assert.Empty(t, a.Resources())
}

func TestApplyStateVerification(t *testing.T) {
	m, _ := newTestManager(t, Options{Verify: true})
	a := newStub("a")
	b := newStub("b")
	b.verifyErr = errors.New("cannot inspect")
	c := newStub("c")
	c.caps.SupportsVerification = false
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	require.NoError(t, m.Register(c))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
		"a": map[string]any{"r": "1"},
		"b": map[string]any{"r": "1"},
		"c": map[string]any{"r": "1"},
	}))
	require.NoError(t, err)
	assert.True(t, report.Success, "verification never changes the apply outcome")
	require.Len(t, report.Verifications, 2)

	assert.Equal(t, "a", report.Verifications[0].Plugin)
	assert.True(t, report.Verifications[0].Converged)
	assert.Equal(t, "b", report.Verifications[1].Plugin)
	assert.False(t, report.Verifications[1].Converged)
	assert.Contains(t, report.Verifications[1].Error, "verification failure in plugin b")
	assert.False(t, report.Converged())
}

func TestApplyStateRollbackPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    RollbackPolicy
		wantFatal bool
		wantSoft  bool
	}{
		{"never", RollbackNever, false, false},
		{"on any failure", RollbackOnAnyFailure, true, true},
		{"on fatal failure", RollbackOnFatalFailure, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, Options{RollbackPolicy: tt.policy})

			ok := newStub("ok")
			fatal := newStub("fatal")
			fatal.resources["keep"] = "original"
			fatal.applyErr = errors.New("crashed")
			soft := newStub("soft")
			soft.resources["keep"] = "original"
			soft.applyFails = true

			for _, p := range []*stubPlugin{ok, fatal, soft} {
				require.NoError(t, m.Register(p))
			}

			report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
				"fatal": map[string]any{"keep": "changed"},
				"ok":    map[string]any{"new": "1"},
				"soft":  map[string]any{"keep": "changed"},
			}))
			require.NoError(t, err)
			assert.False(t, report.Success)

			assert.Equal(t, tt.wantFatal, contains(fatal.Calls(), "rollback"))
			assert.Equal(t, tt.wantSoft, contains(soft.Calls(), "rollback"))
			assert.False(t, contains(ok.Calls(), "rollback"), "successful backends are never rolled back")
			assert.Equal(t, map[string]any{"new": "1"}, ok.Resources())

			if tt.wantSoft {
				assert.Equal(t, map[string]any{"keep": "original"}, soft.Resources())
			} else {
				assert.Equal(t, map[string]any{"keep": "changed"}, soft.Resources())
			}

			var rolledBack []string
			for _, outcome := range report.Rollbacks {
				assert.True(t, outcome.Succeeded(), outcome.Error)
				assert.NotEmpty(t, outcome.CheckpointID)
				rolledBack = append(rolledBack, outcome.Plugin)
			}
			switch {
			case tt.wantFatal && tt.wantSoft:
				assert.Equal(t, []string{"fatal", "soft"}, rolledBack)
			case tt.wantFatal:
				assert.Equal(t, []string{"fatal"}, rolledBack)
			default:
				assert.Empty(t, rolledBack)
			}
		})
	}
}

func TestApplyStateRollbackUnavailable(t *testing.T) {
	m, _ := newTestManager(t, Options{RollbackPolicy: RollbackOnAnyFailure})

	noRollback := newStub("norollback")
	noRollback.caps.SupportsRollback = false
	noRollback.applyFails = true
	noCheckpoint := newStub("nocheckpoint")
	noCheckpoint.checkpointErr = errors.New("unavailable")
	noCheckpoint.applyFails = true
	require.NoError(t, m.Register(noRollback))
	require.NoError(t, m.Register(noCheckpoint))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{
		"norollback":   map[string]any{"r": "1"},
		"nocheckpoint": map[string]any{"r": "1"},
	}))
	require.NoError(t, err)
	require.Len(t, report.Rollbacks, 2)

	assert.Equal(t, "nocheckpoint", report.Rollbacks[0].Plugin)
	assert.Contains(t, report.Rollbacks[0].Error, "no checkpoint")
	assert.Equal(t, "norollback", report.Rollbacks[1].Plugin)
	assert.Contains(t, report.Rollbacks[1].Error, "not supported")
	assert.False(t, contains(noRollback.Calls(), "rollback"))
}

func TestCheckpointRollbackRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	a.resources["r1"] = "v1"
	require.NoError(t, m.Register(a))

	before, err := m.QueryCurrentState(context.Background())
	require.NoError(t, err)

	cp, err := a.CreateCheckpoint(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Rollback(context.Background(), state.PluginCheckpoint{Plugin: "a", Checkpoint: cp}))

	after, err := m.QueryCurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRollbackAfterApplyRestoresState(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	a.resources["r1"] = "v1"
	require.NoError(t, m.Register(a))

	report, err := m.ApplyState(context.Background(), desiredOf(map[string]any{"a": map[string]any{"r1": "v2"}}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"r1": "v2"}, a.Resources())

	cp, ok := report.Checkpoint("a")
	require.True(t, ok)
	require.NoError(t, m.Rollback(context.Background(), state.PluginCheckpoint{Plugin: "a", Checkpoint: cp}))
	assert.Equal(t, map[string]any{"r1": "v1"}, a.Resources())
}

func TestRollbackRejectsForeignCheckpoint(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	b := newStub("b")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	cp, err := b.CreateCheckpoint(context.Background())
	require.NoError(t, err)

	err = m.Rollback(context.Background(), state.PluginCheckpoint{Plugin: "a", Checkpoint: cp})
	require.Error(t, err)
	var cpErr *plugin.CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.False(t, contains(a.Calls(), "rollback"))

	err = m.Rollback(context.Background(), state.PluginCheckpoint{Plugin: "missing", Checkpoint: cp})
	require.Error(t, err)

	err = m.Rollback(context.Background(), state.PluginCheckpoint{Plugin: "a"})
	require.ErrorIs(t, err, state.ErrInvalidCheckpointID)
}

func TestRollbackFailureIsCheckpointError(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	a.rollbackErr = errors.New("disk full")
	require.NoError(t, m.Register(a))

	cp, err := a.CreateCheckpoint(context.Background())
	require.NoError(t, err)

	err = m.Rollback(context.Background(), state.PluginCheckpoint{Checkpoint: cp})
	require.Error(t, err)
	var cpErr *plugin.CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Contains(t, err.Error(), "disk full")
}

func TestVerifyReportsPerBackend(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := newStub("a")
	a.resources["r1"] = "v1"
	b := newStub("b")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	verifications, err := m.Verify(context.Background(), desiredOf(map[string]any{
		"a":       map[string]any{"r1": "v1"},
		"b":       map[string]any{"r1": "v1"},
		"missing": map[string]any{},
	}))
	require.NoError(t, err)
	require.Len(t, verifications, 2)
	assert.True(t, verifications[0].Converged)
	assert.False(t, verifications[1].Converged)
	assert.Empty(t, verifications[1].Error)
}

func TestParseRollbackPolicy(t *testing.T) {
	tests := map[string]RollbackPolicy{
		"":                 RollbackNever,
		"never":            RollbackNever,
		"On-Any-Failure":   RollbackOnAnyFailure,
		"on-fatal-failure": RollbackOnFatalFailure,
	}
	for raw, want := range tests {
		got, err := ParseRollbackPolicy(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseRollbackPolicy("sometimes")
	require.Error(t, err)

	var p RollbackPolicy
	require.NoError(t, p.Set("on-any-failure"))
	assert.Equal(t, "on-any-failure", p.String())
	assert.Equal(t, "policy", p.Type())
	assert.Equal(t, "never", RollbackPolicy("").String())
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
