// Package session scopes one consumer's view of the feed: its buffers,
// its connection and its publisher live and die together.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/adapters/ws"
	"mobility-feed/internal/config"
	"mobility-feed/internal/conn"
	"mobility-feed/internal/diag"
	"mobility-feed/internal/events"
	"mobility-feed/internal/hub"
	"mobility-feed/internal/ingest"
	"mobility-feed/internal/message"
	"mobility-feed/internal/metrics"
)

type Options struct {
	Config  *config.Config
	Dialer  adapters.Dialer // nil means websocket
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Session struct {
	ID        string
	StartedAt time.Time

	log     *slog.Logger
	metrics *metrics.Metrics
	records *events.Buffer[message.Entry]
	snaps   *events.Buffer[message.Entry]
	diag    *diag.Log
	pub     *hub.Publisher
	coord   *ingest.Coordinator
	machine *conn.Machine

	closeOnce sync.Once
}

// Info summarises a session for display.
type Info struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	State     conn.State `json:"state"`
	Status    string     `json:"status,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Seq       uint64     `json:"seq"`
	Records   int        `json:"records"`
	Snapshots int        `json:"snapshots"`
}

// Mount builds a disconnected session. The caller must Close it.
func Mount(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("session", id)

	codec := message.CodecJSON
	if cfg.Source.Codec == "cbor" {
		codec = message.CodecCBOR
	}
	dial := opts.Dialer
	if dial == nil {
		dial = ws.NewDialer(ws.Options{
			HandshakeTimeout: cfg.Source.HandshakeTimeout,
			WriteTimeout:     cfg.Source.WriteTimeout,
			ReadLimit:        cfg.Source.ReadLimit,
			Codec:            codec,
		})
	}

	s := &Session{
		ID:        id,
		StartedAt: time.Now(),
		log:       log.With("component", "session"),
		metrics:   opts.Metrics,
		records:   events.New[message.Entry](cfg.Streams.Records.Capacity),
		snaps:     events.New[message.Entry](cfg.Streams.Snapshots.Capacity),
		diag: diag.New(diag.Options{
			Capacity: cfg.Streams.Diagnostics,
			Logger:   log,
			Metrics:  opts.Metrics,
		}),
	}
	s.pub = hub.New(map[events.Kind]*events.Buffer[message.Entry]{
		events.KindRecords:   s.records,
		events.KindSnapshots: s.snaps,
	}, log, opts.Metrics)
	s.coord = ingest.New(s.records, s.snaps, s.pub, s.diag, ingest.Options{
		Routes: ingest.Routes{
			Records:   cfg.Streams.Records.Event,
			Snapshots: cfg.Streams.Snapshots.Event,
		},
		Fields: message.Fields{
			Records:   cfg.Streams.Records.Field,
			Snapshot:  cfg.Streams.Snapshots.Field,
			Timestamp: cfg.Streams.TimestampField,
			Count:     cfg.Streams.CountField,
		},
		Logger:  log,
		Metrics: opts.Metrics,
	})
	s.machine = conn.New(conn.Config{
		Endpoint: cfg.Source.Endpoint,
		Stream: adapters.StartStreaming{
			DatasetID: cfg.Source.DatasetID,
			Interval:  cfg.Source.Interval,
		},
		Reconnect: conn.Reconnect{
			Enabled:     cfg.Source.Reconnect.Enabled,
			Initial:     cfg.Source.Reconnect.Initial,
			Max:         cfg.Source.Reconnect.Max,
			MaxAttempts: cfg.Source.Reconnect.MaxAttempts,
		},
		TeardownTimeout: cfg.Source.TeardownTimeout,
	}, dial, s.coord,
		conn.WithLogger(log),
		conn.WithRecorder(s.diag),
		conn.WithMetrics(opts.Metrics),
		conn.WithObserver(s.pub.StateChanged),
	)

	s.log.Info("mounted",
		"endpoint", cfg.Source.Endpoint,
		"records_cap", cfg.Streams.Records.Capacity,
		"snapshots_cap", cfg.Streams.Snapshots.Capacity)
	return s, nil
}

func (s *Session) Start() error {
	if err := s.machine.Start(); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	return nil
}

func (s *Session) Stop() { s.machine.Stop() }

// Reset empties both buffers and tells subscribers to redraw.
func (s *Session) Reset() {
	s.records.Reset()
	s.snaps.Reset()
	s.metrics.BufferLength(events.KindRecords, 0)
	s.metrics.BufferLength(events.KindSnapshots, 0)
	s.pub.Refresh(events.KindRecords)
	s.pub.Refresh(events.KindSnapshots)
	s.log.Info("buffers reset")
}

// Close unmounts the session: the stream is stopped, the transport torn
// down and subscribers released. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.machine.Close()
		s.pub.Close()
		s.log.Info("unmounted")
	})
}

func (s *Session) Publisher() *hub.Publisher { return s.pub }
func (s *Session) Diagnostics() *diag.Log    { return s.diag }
func (s *Session) State() conn.State         { return s.machine.State() }

func (s *Session) Info() Info {
	in := Info{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		State:     s.machine.State(),
		Status:    s.coord.Status(),
		Seq:       s.coord.Seq(),
		Records:   s.records.Len(),
		Snapshots: s.snaps.Len(),
	}
	if err := s.machine.LastError(); err != nil {
		in.LastError = err.Error()
	}
	return in
}
