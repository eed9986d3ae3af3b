package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCheckpointCopiesSnapshot(t *testing.T) {
	t.Parallel()

	snapshot := map[string]any{"interfaces": []any{map[string]any{"name": "br0"}}}
	cp := NewCheckpoint("net", snapshot, map[string]any{"generation": 3})

	require.NoError(t, cp.Validate())
	require.NotEmpty(t, cp.ID)
	require.Equal(t, "net", cp.Plugin)
	require.False(t, cp.Timestamp.IsZero())

	snapshot["interfaces"] = []any{}
	stored := cp.StateSnapshot.(map[string]any)
	require.Len(t, stored["interfaces"], 1)
}

func TestCheckpointIDsAreUnique(t *testing.T) {
	t.Parallel()

	a := NewCheckpoint("net", nil, nil)
	b := NewCheckpoint("net", nil, nil)
	require.NotEqual(t, a.ID, b.ID)
}

func TestCheckpointValidFor(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("net", nil, nil)
	require.NoError(t, cp.ValidFor("net"))

	err := cp.ValidFor("packages")
	require.Error(t, err)
	require.Contains(t, err.Error(), `belongs to plugin "net"`)

	var missing *Checkpoint
	require.ErrorIs(t, missing.ValidFor("net"), ErrInvalidCheckpointID)
	require.ErrorIs(t, (&Checkpoint{ID: "x"}).Validate(), ErrInvalidPlugin)
}
