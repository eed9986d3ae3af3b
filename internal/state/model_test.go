package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action StateAction
		kind   ActionKind
	}{
		{"create", Create("br0", map[string]any{"type": "ovs-bridge"}), ActionCreate},
		{"modify", Modify("br0", map[string]any{"mtu": 9000}), ActionModify},
		{"delete", Delete("br0"), ActionDelete},
		{"noop", NoOp("br0"), ActionNoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.kind, tt.action.Kind)
			require.Equal(t, "br0", tt.action.Resource)
		})
	}
}

func TestStateDiffEmptiness(t *testing.T) {
	t.Parallel()

	t.Run("nil diff is empty", func(t *testing.T) {
		t.Parallel()
		var diff *StateDiff
		require.True(t, diff.IsEmpty())
		require.False(t, diff.HasChanges())
	})

	t.Run("noop-only diff is not empty but has no changes", func(t *testing.T) {
		t.Parallel()
		diff := NewDiff("net", nil, nil, []StateAction{NoOp("br0")})
		require.False(t, diff.IsEmpty())
		require.False(t, diff.HasChanges())
	})

	t.Run("counts per kind", func(t *testing.T) {
		t.Parallel()
		diff := NewDiff("net", nil, nil, []StateAction{
			Create("a", nil), Create("b", nil), Delete("c"), NoOp("d"),
		})
		require.True(t, diff.HasChanges())
		require.Equal(t, 2, diff.Count(ActionCreate))
		require.Equal(t, 1, diff.Count(ActionDelete))
		require.Equal(t, 0, diff.Count(ActionModify))
	})
}

func TestNewDiffStampsMetadata(t *testing.T) {
	t.Parallel()

	current := map[string]any{"interfaces": []any{}}
	desired := map[string]any{"interfaces": []any{map[string]any{"name": "br0"}}}

	diff := NewDiff("net", current, desired, nil)

	require.Equal(t, "net", diff.Plugin)
	require.False(t, diff.Metadata.Timestamp.IsZero())
	require.Equal(t, Fingerprint(current), diff.Metadata.CurrentHash)
	require.Equal(t, Fingerprint(desired), diff.Metadata.DesiredHash)
	require.NotEqual(t, diff.Metadata.CurrentHash, diff.Metadata.DesiredHash)
}

func TestApplyResultFail(t *testing.T) {
	t.Parallel()

	res := NewApplyResult("net")
	require.True(t, res.Success)

	res.Record("created br0")
	res.Fail(errors.New("store offline"))

	require.False(t, res.Success)
	require.Equal(t, []string{"created br0"}, res.ChangesApplied)
	require.Equal(t, []string{"store offline"}, res.Errors)
}

func TestApplyReportLookups(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("a", nil, nil)
	report := &ApplyReport{
		Results: []ApplyResult{
			{Plugin: "a", Success: true},
			{Plugin: "b", Success: false},
		},
		Checkpoints: []PluginCheckpoint{{Plugin: "a", Checkpoint: cp}},
		Verifications: []Verification{
			{Plugin: "a", Converged: true},
		},
	}

	res, ok := report.Result("a")
	require.True(t, ok)
	require.True(t, res.Success)

	_, ok = report.Result("missing")
	require.False(t, ok)

	got, ok := report.Checkpoint("a")
	require.True(t, ok)
	require.Equal(t, cp.ID, got.ID)

	require.Equal(t, []string{"b"}, report.Failed())
	require.True(t, report.Converged())

	report.Verifications = append(report.Verifications, Verification{Plugin: "b", Converged: false})
	require.False(t, report.Converged())
}

func TestDesiredStateNamesSorted(t *testing.T) {
	t.Parallel()

	desired := &DesiredState{Version: 1, Plugins: map[string]any{"repos": nil, "net": nil, "packages": nil}}
	require.Equal(t, []string{"net", "packages", "repos"}, desired.Names())

	var empty *DesiredState
	require.Nil(t, empty.Names())
}
