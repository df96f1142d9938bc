package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWrapperRecordsThroughToPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	w := NewWrapper(m)

	w.TrainCallsInc()
	w.InferCallsInc()
	w.InferCallsInc()
	w.BridgeFailuresInc()
	w.PayloadBytesAdd(1024)
	w.TrainLatencyObserve(0.25)
	w.InferLatencyObserve(0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainCalls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InferCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeFailures))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.PayloadBytes))
}

func TestIsolatedRegistries(t *testing.T) {
	// Two registries must not collide on metric names.
	a := NewWithRegistry(prometheus.NewRegistry())
	b := NewWithRegistry(prometheus.NewRegistry())

	a.TrainCalls.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TrainCalls))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TrainCalls))
}
