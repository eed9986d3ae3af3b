package plugin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/stated/internal/state"
)

// The helpers below operate on generic documents as produced by the YAML and
// JSON decoders: collections are []any of map[string]any items.

var errMissingID = errors.New("identifier is missing")

// CollectionOptions tunes DiffCollection.
type CollectionOptions struct {
	// Prune emits delete actions for live items absent from desired.
	Prune bool
	// EmitNoOp records converged items as no-op actions.
	EmitNoOp bool
}

// ExtractID returns the string identifier stored under field in resource.
func ExtractID(plugin string, resource any, field string) (string, error) {
	item, ok := asMap(resource)
	if !ok {
		return "", NewSchemaError(plugin, field, fmt.Errorf("expected a mapping, got %T", resource))
	}
	raw, ok := item[field]
	if !ok || raw == nil {
		return "", NewSchemaError(plugin, field, errMissingID)
	}
	id, ok := raw.(string)
	if !ok {
		return "", NewSchemaError(plugin, field, fmt.Errorf("identifier must be a string, got %T", raw))
	}
	if id == "" {
		return "", NewSchemaError(plugin, field, errMissingID)
	}
	return id, nil
}

// IndexByID maps every item to its identifier and returns the identifiers in
// input order. Duplicate identifiers are a SchemaError.
func IndexByID(plugin string, items []any, field string) (map[string]map[string]any, []string, error) {
	index := make(map[string]map[string]any, len(items))
	order := make([]string, 0, len(items))
	for _, raw := range items {
		id, err := ExtractID(plugin, raw, field)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := index[id]; dup {
			return nil, nil, NewSchemaError(plugin, field, fmt.Errorf("duplicate identifier %q", id))
		}
		item, _ := asMap(raw)
		index[id] = item
		order = append(order, id)
	}
	return index, order, nil
}

// Orphans returns the known identifiers that are not desired, sorted.
func Orphans(known, desired []string) []string {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	var orphans []string
	for _, id := range known {
		if _, ok := want[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// DiffCollection compares two id-keyed collections. Actions for desired items
// come first in desired order, followed by deletes in identifier order.
func DiffCollection(plugin string, current, desired []any, field string, opts CollectionOptions) ([]state.StateAction, error) {
	have, haveOrder, err := IndexByID(plugin, current, field)
	if err != nil {
		return nil, err
	}
	want, wantOrder, err := IndexByID(plugin, desired, field)
	if err != nil {
		return nil, err
	}

	actions := make([]state.StateAction, 0, len(wantOrder))
	for _, id := range wantOrder {
		existing, ok := have[id]
		if !ok {
			actions = append(actions, state.Create(id, want[id]))
			continue
		}
		if changes := FieldChanges(existing, want[id]); len(changes) > 0 {
			actions = append(actions, state.Modify(id, changes))
		} else if opts.EmitNoOp {
			actions = append(actions, state.NoOp(id))
		}
	}

	if opts.Prune {
		for _, id := range Orphans(haveOrder, wantOrder) {
			actions = append(actions, state.Delete(id))
		}
	}
	return actions, nil
}

// FieldChanges returns the fields of desired that differ from current. Fields
// present in current but absent from desired map to nil. Values are compared
// by content fingerprint so numeric representations do not matter.
func FieldChanges(current, desired map[string]any) map[string]any {
	changes := map[string]any{}
	for key, want := range desired {
		have, ok := current[key]
		if ok && state.Fingerprint(have) == state.Fingerprint(want) {
			continue
		}
		changes[key] = want
	}
	for key := range current {
		if _, ok := desired[key]; !ok {
			changes[key] = nil
		}
	}
	return changes
}

// ApplyChanges returns a copy of base with changes merged in. Nil values
// remove the field.
func ApplyChanges(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for key, value := range base {
		out[key] = state.Clone(value)
	}
	for key, value := range changes {
		if value == nil {
			delete(out, key)
			continue
		}
		out[key] = state.Clone(value)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[fmt.Sprint(key)] = value
		}
		return out, true
	default:
		return nil, false
	}
}
