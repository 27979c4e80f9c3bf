package ingest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/adapters/adaptertest"
	"mobility-feed/internal/conn"
	"mobility-feed/internal/events"
	"mobility-feed/internal/message"
	"mobility-feed/internal/metrics"
)

type refreshes struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *refreshes) Refresh(k events.Kind) {
	r.mu.Lock()
	r.kinds = append(r.kinds, k)
	r.mu.Unlock()
}

type recorder struct {
	sources []string
	errs    []error
}

func (r *recorder) Record(source string, err error) {
	r.sources = append(r.sources, source)
	r.errs = append(r.errs, err)
}

func setup(recCap, snapCap int) (*Coordinator, *events.Buffer[message.Entry], *events.Buffer[message.Entry], *refreshes, *recorder) {
	records := events.New[message.Entry](recCap)
	snaps := events.New[message.Entry](snapCap)
	ref := &refreshes{}
	rec := &recorder{}
	return New(records, snaps, ref, rec, Options{}), records, snaps, ref, rec
}

func deliver(c *Coordinator, event, payload string) {
	c.Handle(adapters.Message{Event: event, Payload: []byte(payload), Codec: message.CodecJSON})
}

func trips(from, to int) string {
	s := `{"timestamp":1700000000,"data":[`
	for i := from; i <= to; i++ {
		if i > from {
			s += ","
		}
		s += fmt.Sprintf(`{"trip":%d}`, i)
	}
	return s + "]}"
}

func TestCoordinator_RecordsKeepLastFifty(t *testing.T) {
	c, records, snaps, ref, _ := setup(50, 20)

	for i := 1; i <= 60; i++ {
		deliver(c, "taxi_data", trips(i, i))
	}

	got := records.Snapshot()
	require.Len(t, got, 50)
	first, _ := got[0].Float("trip")
	last, _ := got[49].Float("trip")
	assert.Equal(t, 11.0, first)
	assert.Equal(t, 60.0, last)
	assert.Zero(t, snaps.Len())
	for _, k := range ref.kinds {
		assert.Equal(t, events.KindRecords, k)
	}
	assert.Len(t, ref.kinds, 60)
}

func TestCoordinator_SnapshotsKeepLastTwenty(t *testing.T) {
	c, records, snaps, ref, _ := setup(50, 20)

	for i := 1; i <= 25; i++ {
		deliver(c, "analytics_data", fmt.Sprintf(`{"timestamp":1700000000,"data":{"total_trips":%d,"avg_fare":12.5,"avg_distance":2.1}}`, i))
	}

	got := snaps.Snapshot()
	require.Len(t, got, 20)
	n, _ := got[0].Float("total_trips")
	assert.Equal(t, 6.0, n)
	assert.Zero(t, records.Len())
	assert.Equal(t, events.KindSnapshots, ref.kinds[0])
}

func TestCoordinator_MalformedLeavesBufferUntouched(t *testing.T) {
	c, records, _, ref, rec := setup(50, 20)
	deliver(c, "taxi_data", trips(1, 3))

	for _, bad := range []string{
		`{"data":[{"trip":4},"oops"]}`,
		`{"data":{"trip":4}}`,
		`{"timestamp":1,"data":[{"trip":4},{"trip":5}],"count":3}`,
		`not json`,
	} {
		deliver(c, "taxi_data", bad)
	}
	c.Handle(adapters.Message{Payload: []byte("garbage"), Err: message.ErrMalformed})

	assert.Equal(t, 3, records.Len())
	assert.Len(t, ref.kinds, 1)
	require.Len(t, rec.errs, 5)
	for _, err := range rec.errs {
		assert.ErrorIs(t, err, message.ErrMalformed)
	}
	assert.Equal(t, SourceMessage, rec.sources[0])
}

func TestCoordinator_SequenceAcrossKinds(t *testing.T) {
	c, records, snaps, _, _ := setup(50, 20)
	deliver(c, "taxi_data", trips(1, 2))
	deliver(c, "analytics_data", `{"data":{"total_trips":2}}`)
	deliver(c, "taxi_data", trips(3, 3))

	r := records.Snapshot()
	s := snaps.Snapshot()
	assert.Equal(t, []uint64{1, 2, 4}, []uint64{r[0].Seq, r[1].Seq, r[2].Seq})
	assert.Equal(t, uint64(3), s[0].Seq)
	assert.False(t, r[0].ReceivedAt.IsZero())
	assert.Equal(t, int64(1700000000), r[0].SourceTime.Unix())
	assert.Equal(t, uint64(4), c.Seq())
}

func TestCoordinator_ServerEvents(t *testing.T) {
	c, records, snaps, ref, rec := setup(50, 20)

	deliver(c, EventError, `{"msg":"Socrata unavailable"}`)
	deliver(c, EventStatus, `{"msg":"Connected to streaming server"}`)
	assert.Equal(t, "Connected to streaming server", c.Status())
	deliver(c, EventStreamingStatus, `{"status":"started"}`)
	assert.Equal(t, "started", c.Status())
	deliver(c, "weather_data", `{"data":[]}`)

	require.Len(t, rec.errs, 1)
	assert.Equal(t, SourceServer, rec.sources[0])
	assert.EqualError(t, rec.errs[0], "Socrata unavailable")
	assert.Zero(t, records.Len())
	assert.Zero(t, snaps.Len())
	assert.Empty(t, ref.kinds)
}

func TestCoordinator_CustomRoutes(t *testing.T) {
	records := events.New[message.Entry](5)
	snaps := events.New[message.Entry](5)
	c := New(records, snaps, &refreshes{}, nil, Options{
		Routes: Routes{Records: "trips", Snapshots: "rollup"},
		Fields: message.Fields{Records: "items", Snapshot: "stats"},
	})
	deliver(c, "trips", `{"items":[{"a":1}]}`)
	deliver(c, "rollup", `{"stats":{"b":2}}`)
	deliver(c, "taxi_data", `{"data":[{"a":1}]}`)
	assert.Equal(t, 1, records.Len())
	assert.Equal(t, 1, snaps.Len())
}

func TestCoordinator_MetricSeriesStayFixed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(events.New[message.Entry](50), events.New[message.Entry](20), &refreshes{}, &recorder{}, Options{
		Metrics: metrics.New(reg),
	})

	deliver(c, "taxi_data", trips(1, 1))
	deliver(c, "taxi_data", `{"data":7}`)
	deliver(c, EventStatus, `{"msg":"ok"}`)
	before, err := testutil.GatherAndCount(reg, "mobility_feed_messages_total")
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		deliver(c, fmt.Sprintf("event_%d", i), `{}`)
		deliver(c, fmt.Sprintf("event_%d", i), `{}`)
	}
	c.Handle(adapters.Message{Payload: []byte("garbage"), Err: message.ErrMalformed})

	after, err := testutil.GatherAndCount(reg, "mobility_feed_messages_total")
	require.NoError(t, err)
	assert.Equal(t, before+2, after, "one series for other events, one for unparsed frames")
}

// End to end through the gate: once the machine is stopped nothing
// reaches the buffers, and a malformed message keeps the state.
func TestCoordinator_BehindMachine(t *testing.T) {
	c, records, _, _, _ := setup(50, 20)
	d := &adaptertest.Dialer{}
	m := conn.New(conn.Config{Endpoint: "ws://feed.test"}, d.Dial, c)
	defer m.Close()

	require.NoError(t, m.Start())
	tr := d.Last()
	tr.Connect()
	tr.Deliver("taxi_data", map[string]any{"data": []any{map[string]any{"trip": 1}}})
	tr.Raw(adapters.Message{Event: "taxi_data", Payload: []byte(`{"data":7}`), Codec: message.CodecJSON})
	assert.Equal(t, conn.Connected, m.State())
	assert.Equal(t, 1, records.Len())

	m.Stop()
	tr.Deliver("taxi_data", map[string]any{"data": []any{map[string]any{"trip": 2}}})
	assert.Equal(t, 1, records.Len())
	assert.False(t, errors.Is(m.LastError(), message.ErrMalformed))
}
