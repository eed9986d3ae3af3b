// Package plugin defines the contract every state backend implements and the
// optional PlugTree extension for backends that manage keyed collections.
package plugin

import (
	"context"

	"github.com/alexisbeaulieu97/stated/internal/state"
)

// StatePlugin is the nine-operation contract between the reconciliation engine
// and a backend owning one configuration domain.
//
// Implementations should:
//   - Return a stable Name, used as the key in the desired-state document
//   - Keep CalculateDiff pure: it must not touch the system
//   - Make ApplyState idempotent for a given diff
//   - Return ErrUnsupported (wrapped) from Rollback or CreateCheckpoint when the
//     corresponding capability is false
//
// Desired and current documents are opaque to the engine; a backend decodes
// them into its own types, typically with state.Decode.
type StatePlugin interface {
	// Name returns the unique backend identifier, e.g. "net".
	Name() string

	// Version returns the backend's semantic version.
	Version() string

	// QueryCurrentState observes live state. Read-only. Failures are reported
	// as ObservationError.
	QueryCurrentState(ctx context.Context) (any, error)

	// CalculateDiff computes the ordered actions that move current to desired.
	// It must be deterministic and side-effect free. Failures are reported as
	// DiffComputationError.
	CalculateDiff(current, desired any) (*state.StateDiff, error)

	// ApplyState executes the diff. Partial success is reported through the
	// result; a returned error means the call itself failed.
	ApplyState(ctx context.Context, diff *state.StateDiff) (*state.ApplyResult, error)

	// VerifyState reports whether live state now equals desired.
	VerifyState(ctx context.Context, desired any) (bool, error)

	// CreateCheckpoint snapshots live state so it can be restored later.
	CreateCheckpoint(ctx context.Context) (*state.Checkpoint, error)

	// Rollback restores the state captured in checkpoint.
	Rollback(ctx context.Context, checkpoint *state.Checkpoint) error

	// Capabilities describes what the backend supports. It must be static.
	Capabilities() state.PluginCapabilities
}

// PlugTree is implemented by backends whose domain is a collection of
// independently addressable items (plugget instances) keyed by an identifier
// field.
type PlugTree interface {
	// PluggetType names the item kind, e.g. "interface".
	PluggetType() string

	// PluggetIDField names the field carrying the item identifier, e.g. "name".
	PluggetIDField() string

	// ExtractPluggetID returns the identifier of a single item document.
	// Failures are reported as SchemaError.
	ExtractPluggetID(resource any) (string, error)

	// ApplyPlugget converges one item to desired.
	ApplyPlugget(ctx context.Context, id string, desired any) (*state.ApplyResult, error)

	// QueryPlugget observes one item. Missing items return a nil document.
	QueryPlugget(ctx context.Context, id string) (any, error)

	// ListPluggetIDs returns the identifiers of every live item.
	ListPluggetIDs(ctx context.Context) ([]string, error)
}

// AsPlugTree reports whether p also implements PlugTree.
func AsPlugTree(p StatePlugin) (PlugTree, bool) {
	if p == nil {
		return nil, false
	}
	tree, ok := p.(PlugTree)
	return tree, ok
}
