// Package metrics exposes reconciliation counters and timings.
package metrics

import "time"

// Result labels used by the counters.
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultAborted  = "aborted"
	ResultDegraded = "degraded"
)

// Phase names for ObservePhaseDuration.
const (
	PhaseCheckpoint = "checkpoint"
	PhaseDiff       = "diff"
	PhaseApply      = "apply"
	PhaseVerify     = "verify"
	PhaseRollback   = "rollback"
)

// Recorder receives observations from the engine. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObservePhaseDuration(phase string, d time.Duration)
	IncApplyRun(result string)
	IncBackendApply(plugin, result string)
	IncCheckpoint(plugin, result string)
	IncRollback(plugin, result string)
	IncVerification(plugin string, converged bool)
	IncUnknownDomain(domain string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePhaseDuration(string, time.Duration) {}
func (NoopRecorder) IncApplyRun(string)                         {}
func (NoopRecorder) IncBackendApply(string, string)             {}
func (NoopRecorder) IncCheckpoint(string, string)               {}
func (NoopRecorder) IncRollback(string, string)                 {}
func (NoopRecorder) IncVerification(string, bool)               {}
func (NoopRecorder) IncUnknownDomain(string)                    {}

// Outcome maps a success flag to a result label.
func Outcome(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailed
}
