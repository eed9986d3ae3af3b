package network

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

func (p *Plugin) PluggetType() string    { return "interface" }
func (p *Plugin) PluggetIDField() string { return idField }

func (p *Plugin) ExtractPluggetID(resource any) (string, error) {
	return plugin.ExtractID(Name, resource, idField)
}

// QueryPlugget returns the document of one interface, or nil when it does not
// exist.
func (p *Plugin) QueryPlugget(ctx context.Context, id string) (any, error) {
	items, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Name == id {
			doc, err := state.Encode(item)
			if err != nil {
				return nil, plugin.NewObservationError(Name, err)
			}
			return doc, nil
		}
	}
	return nil, nil
}

// ListPluggetIDs returns the names of every live interface, sorted.
func (p *Plugin) ListPluggetIDs(ctx context.Context) ([]string, error) {
	items, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Name)
	}
	return ids, nil
}

// ApplyPlugget converges a single interface without touching its siblings. A
// nil desired document removes the interface.
func (p *Plugin) ApplyPlugget(ctx context.Context, id string, desired any) (*state.ApplyResult, error) {
	result := state.NewApplyResult(Name)

	var action state.StateAction
	if desired == nil {
		action = state.Delete(id)
	} else {
		docID, err := p.ExtractPluggetID(desired)
		if err != nil {
			return nil, err
		}
		if docID != id {
			return nil, plugin.NewSchemaError(Name, idField, fmt.Errorf("document names %q, expected %q", docID, id))
		}
		action = state.Create(id, desired)
	}

	items, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	index := indexInterfaces(items)

	change, err := applyAction(index, action)
	if err != nil {
		result.Fail(plugin.NewApplyError(Name, id, err))
		return result, nil
	}
	if change == "" {
		return result, nil
	}
	if err := p.store.Save(ctx, flatten(index)); err != nil {
		result.Fail(plugin.NewApplyError(Name, id, err))
		return result, nil
	}
	result.Record(change)
	return result, nil
}
