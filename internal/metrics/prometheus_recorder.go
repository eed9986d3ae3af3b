package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry       *prom.Registry
	phaseDuration  *prom.HistogramVec
	applyRuns      *prom.CounterVec
	backendApplies *prom.CounterVec
	checkpoints    *prom.CounterVec
	rollbacks      *prom.CounterVec
	verifications  *prom.CounterVec
	unknownDomains *prom.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers the collectors on reg. A nil
// reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		phaseDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "stated",
			Name:      "phase_duration_seconds",
			Help:      "Duration of reconciliation phases",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"}),
		applyRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "apply_runs_total",
			Help:      "Apply runs by overall result",
		}, []string{"result"}),
		backendApplies: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "backend_apply_total",
			Help:      "Per-backend apply outcomes",
		}, []string{"plugin", "result"}),
		checkpoints: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "checkpoints_total",
			Help:      "Checkpoint attempts by outcome",
		}, []string{"plugin", "result"}),
		rollbacks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by outcome",
		}, []string{"plugin", "result"}),
		verifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "verifications_total",
			Help:      "Post-apply verifications by convergence",
		}, []string{"plugin", "converged"}),
		unknownDomains: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stated",
			Name:      "unknown_domains_total",
			Help:      "Desired-state domains with no registered backend",
		}, []string{"domain"}),
	}
	reg.MustRegister(pr.phaseDuration, pr.applyRuns, pr.backendApplies, pr.checkpoints, pr.rollbacks, pr.verifications, pr.unknownDomains)
	return pr
}

// Registry returns the registry the collectors are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.registry
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for pickup by a node_exporter textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if p == nil {
		return nil
	}
	if err := prom.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	if p == nil {
		return
	}
	p.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncApplyRun(result string) {
	if p == nil {
		return
	}
	p.applyRuns.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncBackendApply(plugin, result string) {
	if p == nil {
		return
	}
	p.backendApplies.WithLabelValues(plugin, result).Inc()
}

func (p *PrometheusRecorder) IncCheckpoint(plugin, result string) {
	if p == nil {
		return
	}
	p.checkpoints.WithLabelValues(plugin, result).Inc()
}

func (p *PrometheusRecorder) IncRollback(plugin, result string) {
	if p == nil {
		return
	}
	p.rollbacks.WithLabelValues(plugin, result).Inc()
}

func (p *PrometheusRecorder) IncVerification(plugin string, converged bool) {
	if p == nil {
		return
	}
	label := "false"
	if converged {
		label = "true"
	}
	p.verifications.WithLabelValues(plugin, label).Inc()
}

func (p *PrometheusRecorder) IncUnknownDomain(domain string) {
	if p == nil {
		return
	}
	p.unknownDomains.WithLabelValues(domain).Inc()
}
