package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"mobility-feed/internal/events"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Message("taxi_data", ResultAccepted)
		m.Appended(events.KindRecords, true, 3)
		m.BufferLength(events.KindRecords, 0)
		m.Command("start_streaming", nil)
		m.Reconnect()
		m.Diagnostic("transport")
		m.ConnectionState(2)
		m.Subscribers(1)
	})
	assert.Nil(t, New(nil))
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Events("taxi_data")

	m.Message("taxi_data", ResultAccepted)
	m.Message("taxi_data", ResultMalformed)
	m.Message("taxi_data", ResultMalformed)
	m.Appended(events.KindRecords, false, 1)
	m.Appended(events.KindRecords, true, 1)
	m.Command("stop_streaming", errors.New("closed"))
	m.ConnectionState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("taxi_data", ResultMalformed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.appended.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bufferLen.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("stop_streaming", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connState))
}

func TestMetrics_EventLabelsAreBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Events("taxi_data", "analytics_data", "error")

	for i := 0; i < 500; i++ {
		m.Message(fmt.Sprintf("weather_%d", i), ResultIgnored)
		m.Message(fmt.Sprintf("junk_%d", i), ResultMalformed)
	}
	m.Message("", ResultMalformed)
	m.Message("taxi_data", ResultAccepted)

	assert.Equal(t, 4, testutil.CollectAndCount(m.messages))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.messages.WithLabelValues(EventOther, ResultIgnored)))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.messages.WithLabelValues(EventOther, ResultMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues(EventUnparsed, ResultMalformed)))
}
