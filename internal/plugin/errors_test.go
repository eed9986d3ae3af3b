package plugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationError(t *testing.T) {
	underlyingErr := errors.New("ovs-vsctl: database connection failed")
	err := NewObservationError("net", underlyingErr)

	t.Run("Error returns formatted message", func(t *testing.T) {
		expected := "observation error in plugin net: ovs-vsctl: database connection failed"
		assert.Equal(t, expected, err.Error())
	})

	t.Run("PluginName returns backend name", func(t *testing.T) {
		assert.Equal(t, "net", err.PluginName())
	})

	t.Run("Unwrap returns underlying error", func(t *testing.T) {
		assert.Equal(t, underlyingErr, err.Unwrap())
	})

	t.Run("errors.Is works correctly", func(t *testing.T) {
		assert.True(t, errors.Is(err, &ObservationError{}))
		assert.False(t, errors.Is(err, &ApplyError{}))
	})
}

func TestApplyErrorIncludesResource(t *testing.T) {
	err := NewApplyError("net", "br0", errors.New("device busy"))
	assert.Equal(t, "apply error in plugin net (br0): device busy", err.Error())

	bare := NewApplyError("packages", "", nil)
	assert.Equal(t, "apply error in plugin packages", bare.Error())
}

func TestSchemaErrorIncludesField(t *testing.T) {
	err := NewSchemaError("net", "name", errors.New("missing"))
	assert.Equal(t, "schema error in plugin net: field name: missing", err.Error())
	assert.True(t, errors.Is(err, &SchemaError{}))
}

func TestCheckpointErrorWrapsUnsupported(t *testing.T) {
	err := NewCheckpointError("packages", fmt.Errorf("rollback: %w", ErrUnsupported))

	assert.True(t, IsUnsupported(err))
	assert.True(t, errors.Is(err, &CheckpointError{}))
	assert.False(t, errors.Is(err, &VerificationFailure{}))
}

func TestAsPluginError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		plugin string
	}{
		{"observation", NewObservationError("a", errors.New("x")), "a"},
		{"diff", NewDiffComputationError("b", errors.New("x")), "b"},
		{"apply", NewApplyError("c", "r", errors.New("x")), "c"},
		{"checkpoint", NewCheckpointError("d", errors.New("x")), "d"},
		{"verify", NewVerificationFailure("e", errors.New("x")), "e"},
		{"schema", NewSchemaError("f", "id", errors.New("x")), "f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)

			pluginErr, ok := AsPluginError(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.plugin, pluginErr.PluginName())
			assert.Equal(t, "x", pluginErr.Unwrap().Error())
		})
	}

	_, ok := AsPluginError(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorsWithoutCause(t *testing.T) {
	assert.Equal(t, "observation error in plugin net", NewObservationError("net", nil).Error())
	assert.Equal(t, "diff computation error in plugin net", NewDiffComputationError("net", nil).Error())
	assert.Equal(t, "checkpoint error in plugin net", NewCheckpointError("net", nil).Error())
	assert.Equal(t, "verification failure in plugin net", NewVerificationFailure("net", nil).Error())
}

func TestErrPluginNotFound(t *testing.T) {
	err := ErrPluginNotFound{Name: "dns"}
	assert.Contains(t, err.Error(), "plugin 'dns' not found")
}
