package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

// stubPlugin manages a flat map of resource name to value. Desired documents
// have the same shape.
type stubPlugin struct {
	name    string
	version string
	caps    state.PluginCapabilities

	mu        sync.Mutex
	resources map[string]any
	calls     []string

	queryErr      error
	diffErr       error
	applyErr      error
	applyFails    bool
	checkpointErr error
	rollbackErr   error
	verifyErr     error
	emitNoOp      bool
}

func newStub(name string) *stubPlugin {
	return &stubPlugin{
		name:      name,
		version:   "1.0.0",
		resources: map[string]any{},
		caps: state.PluginCapabilities{
			SupportsRollback:     true,
			SupportsCheckpoints:  true,
			SupportsVerification: true,
		},
	}
}

var _ plugin.StatePlugin = (*stubPlugin)(nil)

func (s *stubPlugin) Name() string    { return s.name }
func (s *stubPlugin) Version() string { return s.version }

func (s *stubPlugin) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *stubPlugin) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubPlugin) snapshot() map[string]any {
	out := make(map[string]any, len(s.resources))
	for k, v := range s.resources {
		out[k] = v
	}
	return out
}

func (s *stubPlugin) QueryCurrentState(context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("query")
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.snapshot(), nil
}

func (s *stubPlugin) CalculateDiff(current, desired any) (*state.StateDiff, error) {
	if s.diffErr != nil {
		return nil, s.diffErr
	}
	have, _ := current.(map[string]any)
	want, ok := desired.(map[string]any)
	if !ok && desired != nil {
		return nil, plugin.NewDiffComputationError(s.name, fmt.Errorf("expected mapping, got %T", desired))
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var actions []state.StateAction
	for _, k := range keys {
		existing, found := have[k]
		switch {
		case !found:
			actions = append(actions, state.Create(k, want[k]))
		case existing != want[k]:
			actions = append(actions, state.Modify(k, want[k]))
		case s.emitNoOp:
			actions = append(actions, state.NoOp(k))
		}
	}
	return state.NewDiff(s.name, current, desired, actions), nil
}

func (s *stubPlugin) ApplyState(_ context.Context, diff *state.StateDiff) (*state.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("apply")
	if s.applyErr != nil {
		return nil, s.applyErr
	}

	result := state.NewApplyResult(s.name)
	for _, action := range diff.Actions {
		switch action.Kind {
		case state.ActionCreate:
			s.resources[action.Resource] = action.Config
			result.Record("created " + action.Resource)
		case state.ActionModify:
			s.resources[action.Resource] = action.Changes
			result.Record("modified " + action.Resource)
		case state.ActionDelete:
			delete(s.resources, action.Resource)
			result.Record("deleted " + action.Resource)
		}
	}
	if s.applyFails {
		result.Fail(errors.New("partial failure"))
	}
	return result, nil
}

func (s *stubPlugin) VerifyState(_ context.Context, desired any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("verify")
	if s.verifyErr != nil {
		return false, s.verifyErr
	}
	want, _ := desired.(map[string]any)
	for k, v := range want {
		if s.resources[k] != v {
			return false, nil
		}
	}
	return true, nil
}

func (s *stubPlugin) CreateCheckpoint(context.Context) (*state.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("checkpoint")
	if s.checkpointErr != nil {
		return nil, s.checkpointErr
	}
	return state.NewCheckpoint(s.name, s.snapshot(), nil), nil
}

func (s *stubPlugin) Rollback(_ context.Context, cp *state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("rollback")
	if s.rollbackErr != nil {
		return s.rollbackErr
	}
	snapshot, _ := cp.StateSnapshot.(map[string]any)
	s.resources = map[string]any{}
	for k, v := range snapshot {
		s.resources[k] = v
	}
	return nil
}

func (s *stubPlugin) Capabilities() state.PluginCapabilities {
	return s.caps
}

func (s *stubPlugin) Resources() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}
