package plugin

import (
	"errors"
	"fmt"
)

// ErrUnsupported is wrapped by backends when asked for a capability they do
// not declare, such as rollback.
var ErrUnsupported = errors.New("operation not supported")

// ErrPluginNotFound is returned when the requested plugin is not registered.
type ErrPluginNotFound struct {
	Name string
}

func (e ErrPluginNotFound) Error() string {
	return fmt.Sprintf("plugin '%s' not found in registry\nHint: ensure the plugin is registered before usage", e.Name)
}

// PluginError is the base interface for all plugin errors.
// It carries the name of the backend the failure originated from so the
// engine can attribute it in logs and reports.
type PluginError interface {
	error
	PluginName() string
	Unwrap() error
}

// ObservationError reports that a backend could not read live state.
type ObservationError struct {
	Plugin string
	Err    error
}

// NewObservationError creates a new ObservationError.
func NewObservationError(plugin string, err error) *ObservationError {
	return &ObservationError{Plugin: plugin, Err: err}
}

func (e *ObservationError) Error() string {
	if e.Err == nil {
		return "observation error in plugin " + e.Plugin
	}
	return "observation error in plugin " + e.Plugin + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *ObservationError) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *ObservationError) Unwrap() error { return e.Err }

// Is checks if this error matches another ObservationError.
func (e *ObservationError) Is(target error) bool {
	_, ok := target.(*ObservationError)
	return ok
}

// DiffComputationError reports malformed desired state or an internal diff
// failure. It aborts an apply run before anything is mutated.
type DiffComputationError struct {
	Plugin string
	Err    error
}

// NewDiffComputationError creates a new DiffComputationError.
func NewDiffComputationError(plugin string, err error) *DiffComputationError {
	return &DiffComputationError{Plugin: plugin, Err: err}
}

func (e *DiffComputationError) Error() string {
	if e.Err == nil {
		return "diff computation error in plugin " + e.Plugin
	}
	return "diff computation error in plugin " + e.Plugin + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *DiffComputationError) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *DiffComputationError) Unwrap() error { return e.Err }

// Is checks if this error matches another DiffComputationError.
func (e *DiffComputationError) Is(target error) bool {
	_, ok := target.(*DiffComputationError)
	return ok
}

// ApplyError reports a failed mutation. The engine captures it in the
// backend's ApplyResult rather than propagating it.
type ApplyError struct {
	Plugin   string
	Resource string
	Err      error
}

// NewApplyError creates a new ApplyError. Resource may be empty when the
// failure is not tied to a single item.
func NewApplyError(plugin, resource string, err error) *ApplyError {
	return &ApplyError{Plugin: plugin, Resource: resource, Err: err}
}

func (e *ApplyError) Error() string {
	msg := "apply error in plugin " + e.Plugin
	if e.Resource != "" {
		msg += " (" + e.Resource + ")"
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *ApplyError) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *ApplyError) Unwrap() error { return e.Err }

// Is checks if this error matches another ApplyError.
func (e *ApplyError) Is(target error) bool {
	_, ok := target.(*ApplyError)
	return ok
}

// CheckpointError reports that a checkpoint could not be created or restored.
type CheckpointError struct {
	Plugin string
	Err    error
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(plugin string, err error) *CheckpointError {
	return &CheckpointError{Plugin: plugin, Err: err}
}

func (e *CheckpointError) Error() string {
	if e.Err == nil {
		return "checkpoint error in plugin " + e.Plugin
	}
	return "checkpoint error in plugin " + e.Plugin + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *CheckpointError) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *CheckpointError) Unwrap() error { return e.Err }

// Is checks if this error matches another CheckpointError.
func (e *CheckpointError) Is(target error) bool {
	_, ok := target.(*CheckpointError)
	return ok
}

// VerificationFailure reports that verification could not run. A backend that
// ran verification and found drift returns false with a nil error instead.
type VerificationFailure struct {
	Plugin string
	Err    error
}

// NewVerificationFailure creates a new VerificationFailure.
func NewVerificationFailure(plugin string, err error) *VerificationFailure {
	return &VerificationFailure{Plugin: plugin, Err: err}
}

func (e *VerificationFailure) Error() string {
	if e.Err == nil {
		return "verification failure in plugin " + e.Plugin
	}
	return "verification failure in plugin " + e.Plugin + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *VerificationFailure) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *VerificationFailure) Unwrap() error { return e.Err }

// Is checks if this error matches another VerificationFailure.
func (e *VerificationFailure) Is(target error) bool {
	_, ok := target.(*VerificationFailure)
	return ok
}

// SchemaError reports a document that does not have the shape a backend
// expects, such as a collection item without its identifier field.
type SchemaError struct {
	Plugin string
	Field  string
	Err    error
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(plugin, field string, err error) *SchemaError {
	return &SchemaError{Plugin: plugin, Field: field, Err: err}
}

func (e *SchemaError) Error() string {
	msg := "schema error in plugin " + e.Plugin
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

// PluginName returns the backend the error originated from.
func (e *SchemaError) PluginName() string { return e.Plugin }

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error { return e.Err }

// Is checks if this error matches another SchemaError.
func (e *SchemaError) Is(target error) bool {
	_, ok := target.(*SchemaError)
	return ok
}

// AsPluginError attempts to convert any error to a PluginError.
func AsPluginError(err error) (PluginError, bool) {
	var pluginErr PluginError
	if errors.As(err, &pluginErr) {
		return pluginErr, true
	}
	return nil, false
}

// IsUnsupported reports whether err signals a capability the backend lacks.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
