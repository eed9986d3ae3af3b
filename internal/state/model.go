// Package state holds the data model shared by the reconciliation engine and
// every backend: desired and current state documents, diffs, actions, apply
// results, checkpoints and the top-level apply report.
package state

import (
	"time"
)

// DesiredState is the operator-supplied target configuration. Plugins maps a
// domain name to an opaque, backend-private document. A missing key means "no
// change requested", never "remove everything".
type DesiredState struct {
	Version uint           `json:"version" yaml:"version"`
	Plugins map[string]any `json:"plugins" yaml:"plugins"`
}

// Names returns the domain names present in the document in sorted order.
func (d *DesiredState) Names() []string {
	if d == nil {
		return nil
	}
	return sortedKeys(d.Plugins)
}

// CurrentState is the observed state of every registered backend.
type CurrentState struct {
	Plugins map[string]any `json:"plugins" yaml:"plugins"`
}

// ActionKind tags a StateAction variant.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionModify ActionKind = "modify"
	ActionDelete ActionKind = "delete"
	ActionNoOp   ActionKind = "noop"
)

// StateAction is one step needed to move a resource from its current to its
// desired state. Config is set for creates, Changes for modifications.
type StateAction struct {
	Kind     ActionKind `json:"action" yaml:"action"`
	Resource string     `json:"resource" yaml:"resource"`
	Config   any        `json:"config,omitempty" yaml:"config,omitempty"`
	Changes  any        `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// Create returns an action that creates resource with the given configuration.
func Create(resource string, config any) StateAction {
	return StateAction{Kind: ActionCreate, Resource: resource, Config: config}
}

// Modify returns an action that changes an existing resource.
func Modify(resource string, changes any) StateAction {
	return StateAction{Kind: ActionModify, Resource: resource, Changes: changes}
}

// Delete returns an action that removes resource.
func Delete(resource string) StateAction {
	return StateAction{Kind: ActionDelete, Resource: resource}
}

// NoOp records that resource already matches its desired state.
func NoOp(resource string) StateAction {
	return StateAction{Kind: ActionNoOp, Resource: resource}
}

// DiffMetadata carries audit information for a diff. The hashes are content
// fingerprints used for logging only, never for authorization.
type DiffMetadata struct {
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	CurrentHash string    `json:"current_hash" yaml:"current_hash"`
	DesiredHash string    `json:"desired_hash" yaml:"desired_hash"`
}

// StateDiff is the ordered action list for one backend.
type StateDiff struct {
	Plugin   string        `json:"plugin" yaml:"plugin"`
	Actions  []StateAction `json:"actions" yaml:"actions"`
	Metadata DiffMetadata  `json:"metadata" yaml:"metadata"`
}

// NewDiff builds a diff for plugin and stamps its metadata with fingerprints of
// the current and desired documents.
func NewDiff(plugin string, current, desired any, actions []StateAction) *StateDiff {
	return &StateDiff{
		Plugin:  plugin,
		Actions: actions,
		Metadata: DiffMetadata{
			Timestamp:   time.Now().UTC(),
			CurrentHash: Fingerprint(current),
			DesiredHash: Fingerprint(desired),
		},
	}
}

// IsEmpty reports whether the diff has no actions and must not be applied.
func (d *StateDiff) IsEmpty() bool {
	return d == nil || len(d.Actions) == 0
}

// HasChanges reports whether any action other than a no-op is present.
func (d *StateDiff) HasChanges() bool {
	if d == nil {
		return false
	}
	for _, action := range d.Actions {
		if action.Kind != ActionNoOp {
			return true
		}
	}
	return false
}

// Count returns how many actions of the given kind the diff holds.
func (d *StateDiff) Count(kind ActionKind) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, action := range d.Actions {
		if action.Kind == kind {
			n++
		}
	}
	return n
}

// PluginCapabilities is a backend's static self-description.
type PluginCapabilities struct {
	SupportsRollback     bool `json:"supports_rollback" yaml:"supports_rollback"`
	SupportsCheckpoints  bool `json:"supports_checkpoints" yaml:"supports_checkpoints"`
	SupportsVerification bool `json:"supports_verification" yaml:"supports_verification"`
	AtomicOperations     bool `json:"atomic_operations" yaml:"atomic_operations"`
}

// ApplyResult is the outcome of applying one backend's diff.
type ApplyResult struct {
	Plugin         string      `json:"plugin" yaml:"plugin"`
	Success        bool        `json:"success" yaml:"success"`
	ChangesApplied []string    `json:"changes_applied" yaml:"changes_applied"`
	Errors         []string    `json:"errors" yaml:"errors"`
	Checkpoint     *Checkpoint `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
}

// NewApplyResult returns a successful, empty result for plugin.
func NewApplyResult(plugin string) *ApplyResult {
	return &ApplyResult{
		Plugin:         plugin,
		Success:        true,
		ChangesApplied: []string{},
		Errors:         []string{},
	}
}

// Record appends a description of an applied change.
func (r *ApplyResult) Record(change string) {
	r.ChangesApplied = append(r.ChangesApplied, change)
}

// Fail marks the result as failed and records err.
func (r *ApplyResult) Fail(err error) {
	r.Success = false
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// PluginCheckpoint pairs a checkpoint with the backend that created it.
type PluginCheckpoint struct {
	Plugin     string      `json:"plugin" yaml:"plugin"`
	Checkpoint *Checkpoint `json:"checkpoint" yaml:"checkpoint"`
}

// Verification is the convergence check for one backend.
type Verification struct {
	Plugin    string `json:"plugin" yaml:"plugin"`
	Converged bool   `json:"converged" yaml:"converged"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RollbackOutcome records an automatic rollback attempted after a failed apply.
type RollbackOutcome struct {
	Plugin       string `json:"plugin" yaml:"plugin"`
	CheckpointID string `json:"checkpoint_id" yaml:"checkpoint_id"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Succeeded reports whether the rollback completed without error.
func (o RollbackOutcome) Succeeded() bool {
	return o.Error == ""
}

// ApplyReport is the top-level result of one reconciliation run.
type ApplyReport struct {
	Success       bool               `json:"success" yaml:"success"`
	Results       []ApplyResult      `json:"results" yaml:"results"`
	Checkpoints   []PluginCheckpoint `json:"checkpoints" yaml:"checkpoints"`
	Verifications []Verification     `json:"verifications,omitempty" yaml:"verifications,omitempty"`
	Rollbacks     []RollbackOutcome  `json:"rollbacks,omitempty" yaml:"rollbacks,omitempty"`
}

// Result returns the apply result recorded for plugin.
func (r *ApplyReport) Result(plugin string) (ApplyResult, bool) {
	if r == nil {
		return ApplyResult{}, false
	}
	for _, res := range r.Results {
		if res.Plugin == plugin {
			return res, true
		}
	}
	return ApplyResult{}, false
}

// Checkpoint returns the checkpoint taken for plugin during the run.
func (r *ApplyReport) Checkpoint(plugin string) (*Checkpoint, bool) {
	if r == nil {
		return nil, false
	}
	for _, cp := range r.Checkpoints {
		if cp.Plugin == plugin {
			return cp.Checkpoint, true
		}
	}
	return nil, false
}

// Failed lists the plugins whose apply did not succeed.
func (r *ApplyReport) Failed() []string {
	if r == nil {
		return nil
	}
	var failed []string
	for _, res := range r.Results {
		if !res.Success {
			failed = append(failed, res.Plugin)
		}
	}
	return failed
}

// Converged reports whether every verification that ran found the backend converged.
func (r *ApplyReport) Converged() bool {
	if r == nil {
		return false
	}
	for _, v := range r.Verifications {
		if !v.Converged {
			return false
		}
	}
	return true
}
