package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncApplyRun(ResultSuccess)
	pr.IncApplyRun(ResultSuccess)
	pr.IncApplyRun(ResultDegraded)
	pr.IncBackendApply("net", ResultFailed)
	pr.IncRollback("net", ResultSuccess)
	pr.IncVerification("net", true)
	pr.IncUnknownDomain("dns")
	pr.ObservePhaseDuration(PhaseApply, 150*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(pr.applyRuns.WithLabelValues(ResultSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.applyRuns.WithLabelValues(ResultDegraded)))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.backendApplies.WithLabelValues("net", ResultFailed)))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.rollbacks.WithLabelValues("net", ResultSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.verifications.WithLabelValues("net", "true")))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.unknownDomains.WithLabelValues("dns")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestPrometheusRecorderWriteTextfile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncApplyRun(ResultFailed)

	path := filepath.Join(t.TempDir(), "stated.prom")
	require.NoError(t, pr.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `stated_apply_runs_total{result="failed"} 1`)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	require.NotPanics(t, func() {
		pr.IncApplyRun(ResultSuccess)
		pr.IncBackendApply("net", ResultSuccess)
		pr.ObservePhaseDuration(PhaseDiff, time.Second)
		require.NoError(t, pr.WriteTextfile("/nonexistent/x.prom"))
	})
	var noop Recorder = NoopRecorder{}
	noop.IncApplyRun(ResultSuccess)
}

func TestOutcome(t *testing.T) {
	require.Equal(t, ResultSuccess, Outcome(true))
	require.Equal(t, ResultFailed, Outcome(false))
}
