package network

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

const (
	// Name is the domain key of this backend.
	Name    = "net"
	version = "1.0.0"

	idField = "name"
)

// Plugin reconciles network interfaces held in a Store.
type Plugin struct {
	store Store
}

// New creates the "net" backend on top of store.
func New(store Store) *Plugin {
	return &Plugin{store: store}
}

var (
	_ plugin.StatePlugin = (*Plugin)(nil)
	_ plugin.PlugTree    = (*Plugin)(nil)
)

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version }

func (p *Plugin) Capabilities() state.PluginCapabilities {
	return state.PluginCapabilities{
		SupportsRollback:     true,
		SupportsCheckpoints:  true,
		SupportsVerification: true,
		AtomicOperations:     true,
	}
}

// QueryCurrentState returns {"interfaces": [...]} sorted by name.
func (p *Plugin) QueryCurrentState(ctx context.Context) (any, error) {
	items, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := state.Encode(Config{Interfaces: items})
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	return doc, nil
}

// CalculateDiff compares interface collections by name. Live interfaces that
// are not desired are only deleted when the desired document sets prune.
func (p *Plugin) CalculateDiff(current, desired any) (*state.StateDiff, error) {
	want, err := decodeConfig(desired)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	if err := want.Validate(); err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	have, err := decodeConfig(current)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, fmt.Errorf("current state: %w", err))
	}

	haveDocs, err := encodeInterfaces(have.Interfaces)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	wantDocs, err := encodeInterfaces(want.Interfaces)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}

	actions, err := plugin.DiffCollection(Name, haveDocs, wantDocs, idField, plugin.CollectionOptions{Prune: want.Prune})
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	return state.NewDiff(Name, current, desired, actions), nil
}

// ApplyState executes the diff against the store. Either every action is
// saved or none is.
func (p *Plugin) ApplyState(ctx context.Context, diff *state.StateDiff) (*state.ApplyResult, error) {
	result := state.NewApplyResult(Name)
	if diff.IsEmpty() {
		return result, nil
	}

	items, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	index := indexInterfaces(items)

	var changes []string
	for _, action := range diff.Actions {
		change, err := applyAction(index, action)
		if err != nil {
			result.Fail(plugin.NewApplyError(Name, action.Resource, err))
			continue
		}
		if change != "" {
			changes = append(changes, change)
		}
	}
	if !result.Success {
		return result, nil
	}

	if err := p.store.Save(ctx, flatten(index)); err != nil {
		result.Fail(plugin.NewApplyError(Name, "", err))
		return result, nil
	}
	for _, change := range changes {
		result.Record(change)
	}
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

func (p *Plugin) CreateCheckpoint(ctx context.Context) (*state.Checkpoint, error) {
	current, err := p.QueryCurrentState(ctx)
	if err != nil {
		return nil, plugin.NewCheckpointError(Name, err)
	}
	return state.NewCheckpoint(Name, current, nil), nil
}

// Rollback replaces the live interface set with the checkpoint snapshot.
func (p *Plugin) Rollback(ctx context.Context, checkpoint *state.Checkpoint) error {
	if err := checkpoint.ValidFor(Name); err != nil {
		return plugin.NewCheckpointError(Name, err)
	}
	snapshot, err := decodeConfig(checkpoint.StateSnapshot)
	if err != nil {
		return plugin.NewCheckpointError(Name, fmt.Errorf("decode snapshot: %w", err))
	}
	if err := p.store.Save(ctx, snapshot.Interfaces); err != nil {
		return plugin.NewCheckpointError(Name, err)
	}
	return nil
}

func (p *Plugin) load(ctx context.Context) ([]Interface, error) {
	items, err := p.store.Load(ctx)
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	sortInterfaces(items)
	return items, nil
}

func applyAction(index map[string]Interface, action state.StateAction) (string, error) {
	switch action.Kind {
	case state.ActionCreate:
		var iface Interface
		if err := state.Decode(action.Config, &iface); err != nil {
			return "", err
		}
		if iface.Name == "" {
			iface.Name = action.Resource
		}
		if err := iface.Validate(); err != nil {
			return "", err
		}
		index[iface.Name] = iface
		return fmt.Sprintf("created %s %s", iface.Type, iface.Name), nil

	case state.ActionModify:
		existing, ok := index[action.Resource]
		if !ok {
			return "", fmt.Errorf("interface %s does not exist", action.Resource)
		}
		changes, ok := action.Changes.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unexpected changes payload %T", action.Changes)
		}
		base, err := state.Encode(existing)
		if err != nil {
			return "", err
		}
		baseDoc, _ := base.(map[string]any)
		var updated Interface
		if err := state.Decode(plugin.ApplyChanges(baseDoc, changes), &updated); err != nil {
			return "", err
		}
		if err := updated.Validate(); err != nil {
			return "", err
		}
		index[action.Resource] = updated
		return fmt.Sprintf("modified %s", action.Resource), nil

	case state.ActionDelete:
		if _, ok := index[action.Resource]; !ok {
			return "", nil
		}
		delete(index, action.Resource)
		return fmt.Sprintf("deleted %s", action.Resource), nil

	case state.ActionNoOp:
		return "", nil

	default:
		return "", fmt.Errorf("unknown action %q", action.Kind)
	}
}

func decodeConfig(doc any) (Config, error) {
	var cfg Config
	if doc == nil {
		return cfg, nil
	}
	if err := state.Decode(doc, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func encodeInterfaces(items []Interface) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		doc, err := state.Encode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func indexInterfaces(items []Interface) map[string]Interface {
	index := make(map[string]Interface, len(items))
	for _, item := range items {
		index[item.Name] = item
	}
	return index
}

func flatten(index map[string]Interface) []Interface {
	items := make([]Interface, 0, len(index))
	for _, item := range index {
		items = append(items, item)
	}
	sortInterfaces(items)
	return items
}
