package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/vigil/pkg/types"
)

func TestRecorder_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	require.NotNil(t, r)

	r.ObserveProbe(types.ModePoll, types.StatusDead, 250*time.Millisecond)
	r.ObserveProbe(types.ModePoll, types.StatusDead, time.Second)
	r.SetGlobalStatus(types.StatusSick, 3)
	r.SetNodeStatus("web", "api", types.StatusDead)
	r.ObserveDelivery("slack", errors.New("boom"))
	r.ObserveRestart("aggregator")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.probeResults.WithLabelValues("poll", "dead")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.globalStatus))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.backoffCounter))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.nodeStatus.WithLabelValues("web", "api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("slack", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.restarts.WithLabelValues("aggregator")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveProbe(types.ModeScript, types.StatusHealthy, time.Millisecond)
		r.ObserveCycle("poll", time.Second)
		r.SetGlobalStatus(types.StatusDead, 1)
		r.SetProbeStatus("web", types.StatusDead)
		r.ObserveDispatch("startup")
		r.ObserveReport("web", "worker", nil)
	})
}
