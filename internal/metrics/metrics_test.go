package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("events_processed", nil, "Events processed")
	r.IncrementCounter("events_processed", nil, "Events processed")
	r.AddToCounter("events_processed", 3, nil, "Events processed")

	snapshot := r.Snapshot()
	counters := snapshot["counters"].(map[string]*Metric)
	require.Contains(t, counters, "events_processed")
	assert.Equal(t, float64(5), counters["events_processed"].Value)
}

func TestCounterLabelsSeparateSeries(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("deliveries", map[string]string{"channel": "email"}, "")
	r.IncrementCounter("deliveries", map[string]string{"channel": "sms"}, "")
	r.IncrementCounter("deliveries", map[string]string{"channel": "email"}, "")

	counters := r.Snapshot()["counters"].(map[string]*Metric)
	assert.Equal(t, float64(2), counters["deliveries,channel=email"].Value)
	assert.Equal(t, float64(1), counters["deliveries,channel=sms"].Value)
}

func TestGaugeOverwrites(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("pending_entries", 10, nil, "")
	r.SetGauge("pending_entries", 4, nil, "")

	gauges := r.Snapshot()["gauges"].(map[string]*Metric)
	assert.Equal(t, float64(4), gauges["pending_entries"].Value)
}

func TestTimerAggregates(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("send_duration", 100*time.Millisecond, nil, "")
	r.RecordTimer("send_duration", 300*time.Millisecond, nil, "")
	r.RecordTimer("send_duration", 200*time.Millisecond, nil, "")

	timers := r.Snapshot()["timers"].(map[string]*TimerMetric)
	timer := timers["send_duration"]
	require.NotNil(t, timer)
	assert.Equal(t, int64(3), timer.Count)
	assert.Equal(t, float64(600), timer.SumMs)
	assert.Equal(t, float64(100), timer.MinMs)
	assert.Equal(t, float64(300), timer.MaxMs)
	assert.Equal(t, float64(200), timer.AvgMs)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")

	counters := r.Snapshot()["counters"].(map[string]*Metric)
	counters["c"].Value = 999

	fresh := r.Snapshot()["counters"].(map[string]*Metric)
	assert.Equal(t, float64(1), fresh["c"].Value)
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")
	r.SetGauge("g", 1, nil, "")
	r.RecordTimer("t", time.Millisecond, nil, "")

	r.Reset()

	snapshot := r.Snapshot()
	assert.Empty(t, snapshot["counters"])
	assert.Empty(t, snapshot["gauges"])
	assert.Empty(t, snapshot["timers"])
}

func TestMetricKeyIsOrderIndependent(t *testing.T) {
	a := metricKey("m", map[string]string{"x": "1", "y": "2"})
	b := metricKey("m", map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}
