package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveGraph(7, 20*time.Millisecond)
	m.ObserveModule("source_collection", ResultSucceeded, time.Second)
	m.ObserveModule("source_collection", ResultFailed, time.Second)
	m.ObserveModule("dynamic_library", ResultSkipped, 0)
	m.ObserveRun(ResultRejected)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.modulesConstructed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moduleBuilds.WithLabelValues("source_collection", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moduleBuilds.WithLabelValues("dynamic_library", ResultSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.moduleBuildDuration), "skipped modules record no duration")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultRejected)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGraph(1, time.Second)
	m.ObserveModule("x", ResultSucceeded, time.Second)
	m.ObserveRun(ResultFailed)
	require.NoError(t, m.WriteTextfile("/nonexistent/path"))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveModule("console_application", ResultSucceeded, time.Millisecond)
	path := filepath.Join(t.TempDir(), "buildgrid.prom")

	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `buildgrid_module_builds_total{kind="console_application",result="succeeded"} 1`)
}
