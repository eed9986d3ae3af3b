package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stated/internal/state"
)

type identityPlugin struct {
	name    string
	version string
	caps    state.PluginCapabilities
}

func (p identityPlugin) Name() string    { return p.name }
func (p identityPlugin) Version() string { return p.version }
func (p identityPlugin) QueryCurrentState(context.Context) (any, error) {
	return nil, nil
}
func (p identityPlugin) CalculateDiff(_, _ any) (*state.StateDiff, error) {
	return state.NewDiff(p.name, nil, nil, nil), nil
}
func (p identityPlugin) ApplyState(context.Context, *state.StateDiff) (*state.ApplyResult, error) {
	return state.NewApplyResult(p.name), nil
}
func (p identityPlugin) VerifyState(context.Context, any) (bool, error) { return true, nil }
func (p identityPlugin) CreateCheckpoint(context.Context) (*state.Checkpoint, error) {
	return nil, NewCheckpointError(p.name, ErrUnsupported)
}
func (p identityPlugin) Rollback(context.Context, *state.Checkpoint) error {
	return NewCheckpointError(p.name, ErrUnsupported)
}
func (p identityPlugin) Capabilities() state.PluginCapabilities { return p.caps }

type treePlugin struct {
	identityPlugin
}

func (treePlugin) PluggetType() string    { return "widget" }
func (treePlugin) PluggetIDField() string { return "id" }
func (treePlugin) ExtractPluggetID(resource any) (string, error) {
	return ExtractID("widgets", resource, "id")
}
func (treePlugin) ApplyPlugget(context.Context, string, any) (*state.ApplyResult, error) {
	return state.NewApplyResult("widgets"), nil
}
func (treePlugin) QueryPlugget(context.Context, string) (any, error) { return nil, nil }
func (treePlugin) ListPluggetIDs(context.Context) ([]string, error) { return nil, nil }

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		plugin  StatePlugin
		wantErr string
	}{
		{name: "valid", plugin: identityPlugin{name: "net", version: "1.0.0"}},
		{name: "prerelease version", plugin: identityPlugin{name: "net", version: "2.1.0-rc.1"}},
		{name: "nil plugin", plugin: nil, wantErr: "plugin is nil"},
		{name: "empty name", plugin: identityPlugin{name: " ", version: "1.0.0"}, wantErr: "non-empty Name"},
		{name: "uppercase name", plugin: identityPlugin{name: "Net", version: "1.0.0"}, wantErr: "invalid Name"},
		{name: "missing version", plugin: identityPlugin{name: "net"}, wantErr: "requires Version"},
		{name: "short version", plugin: identityPlugin{name: "net", version: "1.0"}, wantErr: "invalid Version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.plugin)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("unknown_plugin"))
	assert.True(t, ValidName("net-2"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("../etc"))
	assert.False(t, ValidName("Repos"))
}

func TestDescribe(t *testing.T) {
	plain := identityPlugin{name: "packages", version: "1.0.0", caps: state.PluginCapabilities{SupportsCheckpoints: true}}
	d := Describe(plain)
	assert.Equal(t, Description{Name: "packages", Version: "1.0.0", Checkpoints: true}, d)

	tree := treePlugin{identityPlugin{name: "widgets", version: "0.1.0", caps: state.PluginCapabilities{SupportsRollback: true}}}
	d = Describe(tree)
	assert.True(t, d.PlugTree)
	assert.Equal(t, "widget", d.PluggetType)
	assert.True(t, d.Rollback)
}
