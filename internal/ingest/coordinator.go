// Package ingest routes inbound messages to the stream buffers.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/conn"
	"mobility-feed/internal/events"
	"mobility-feed/internal/message"
	"mobility-feed/internal/metrics"
)

// Server events handled besides the two stream events.
const (
	EventError           = "error"
	EventStatus          = "status"
	EventStreamingStatus = "streaming_status"
)

// Diagnostic sources recorded by the coordinator.
const (
	SourceMessage = "message"
	SourceServer  = "server"
)

// Routes maps event names to streams.
type Routes struct {
	Records   string
	Snapshots string
}

func DefaultRoutes() Routes { return Routes{Records: "taxi_data", Snapshots: "analytics_data"} }

// Refresher is told which stream changed.
type Refresher interface {
	Refresh(kind events.Kind)
}

type Options struct {
	Routes  Routes
	Fields  message.Fields
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator is a conn.Handler. Messages arrive serially from the
// connection's read goroutine.
type Coordinator struct {
	routes  Routes
	dec     *message.Decoder
	records *events.Buffer[message.Entry]
	snaps   *events.Buffer[message.Entry]
	pub     Refresher
	rec     conn.Recorder
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	seq atomic.Uint64

	mu     sync.RWMutex
	status string
}

func New(records, snapshots *events.Buffer[message.Entry], pub Refresher, rec conn.Recorder, opts Options) *Coordinator {
	def := DefaultRoutes()
	if opts.Routes.Records == "" {
		opts.Routes.Records = def.Records
	}
	if opts.Routes.Snapshots == "" {
		opts.Routes.Snapshots = def.Snapshots
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Metrics.Events(opts.Routes.Records, opts.Routes.Snapshots, EventError, EventStatus, EventStreamingStatus)
	return &Coordinator{
		routes:  opts.Routes,
		dec:     message.NewDecoder(opts.Fields),
		records: records,
		snaps:   snapshots,
		pub:     pub,
		rec:     rec,
		log:     opts.Logger.With("component", "ingest"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (c *Coordinator) Handle(m adapters.Message) {
	if m.Err != nil {
		c.reject("", m.Err)
		return
	}
	switch m.Event {
	case c.routes.Records:
		entries, err := c.dec.Records(m.Codec, m.Payload)
		if err != nil {
			c.reject(m.Event, err)
			return
		}
		c.metrics.Message(m.Event, metrics.ResultAccepted)
		if len(entries) == 0 {
			return
		}
		for _, e := range entries {
			c.append(c.records, e)
		}
		c.pub.Refresh(events.KindRecords)

	case c.routes.Snapshots:
		e, err := c.dec.Snapshot(m.Codec, m.Payload)
		if err != nil {
			c.reject(m.Event, err)
			return
		}
		c.metrics.Message(m.Event, metrics.ResultAccepted)
		c.append(c.snaps, e)
		c.pub.Refresh(events.KindSnapshots)

	case EventError:
		c.metrics.Message(m.Event, metrics.ResultAccepted)
		c.record(SourceServer, errors.New(c.dec.ServerError(m.Codec, m.Payload)))

	case EventStatus, EventStreamingStatus:
		c.metrics.Message(m.Event, metrics.ResultAccepted)
		s := c.dec.Status(m.Codec, m.Payload)
		c.mu.Lock()
		c.status = s
		c.mu.Unlock()
		c.log.Info("server status", "event", m.Event, "status", s)

	default:
		c.metrics.Message(m.Event, metrics.ResultIgnored)
		c.log.Debug("ignoring event", "event", m.Event, "err", message.ErrUnknownEvent)
	}
}

func (c *Coordinator) append(buf *events.Buffer[message.Entry], e message.Entry) {
	e.Seq = c.seq.Add(1)
	e.ReceivedAt = c.now()
	evicted := buf.Append(e)
	c.metrics.Appended(e.Kind, evicted, buf.Len())
}

func (c *Coordinator) reject(event string, err error) {
	c.metrics.Message(event, metrics.ResultMalformed)
	if event != "" {
		err = fmt.Errorf("%s: %w", event, err)
	}
	c.record(SourceMessage, err)
}

func (c *Coordinator) record(source string, err error) {
	if c.rec != nil {
		c.rec.Record(source, err)
		return
	}
	c.log.Warn("dropped", "source", source, "err", err)
}

// Status is the last status line the server sent.
func (c *Coordinator) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Seq is the sequence number of the newest entry.
func (c *Coordinator) Seq() uint64 { return c.seq.Load() }
