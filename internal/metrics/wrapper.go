package metrics

// Wrapper adapts Metrics to the narrow interface the bridge client reports
// through, keeping the engine package free of a Prometheus dependency.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps a Metrics set for the bridge client.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) TrainCallsInc()                  { w.m.TrainCalls.Inc() }
func (w *Wrapper) InferCallsInc()                  { w.m.InferCalls.Inc() }
func (w *Wrapper) BridgeFailuresInc()              { w.m.BridgeFailures.Inc() }
func (w *Wrapper) TrainLatencyObserve(sec float64) { w.m.TrainLatency.Observe(sec) }
func (w *Wrapper) InferLatencyObserve(sec float64) { w.m.InferLatency.Observe(sec) }
func (w *Wrapper) PayloadBytesAdd(n float64)       { w.m.PayloadBytes.Add(n) }
