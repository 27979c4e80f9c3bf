// Package emulator is a stand-in event source. It speaks the same
// websocket protocol as the real backend: it greets on connect, streams
// trip batches and rollups after start_streaming and goes quiet after
// stop_streaming.
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/events"
	"mobility-feed/internal/message"
)

type Options struct {
	BatchSize      int           // trips per taxi_data message
	AnalyticsEvery time.Duration // rollup period
	Jitter         float64       // 0..1, applied to every period
	Codec          message.Codec
	MalformedEvery int           // every Nth trip batch is corrupted, 0 = never
	IntervalUnit   time.Duration // unit of the interval in start_streaming
	Window         int           // trips the rollup is computed over
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.AnalyticsEvery <= 0 {
		o.AnalyticsEvery = 30 * time.Second
	}
	if o.IntervalUnit <= 0 {
		o.IntervalUnit = time.Second
	}
	if o.Window <= 0 {
		o.Window = 500
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Server struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:     opts,
		log:      opts.Logger.With("component", "emulator"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "err", err)
		return
	}
	p := &peer{srv: s, conn: c, trips: events.New[Trip](s.opts.Window)}
	s.log.Info("client connected", "remote", r.RemoteAddr)
	p.serve(r.Context())
	s.log.Info("client disconnected", "remote", r.RemoteAddr)
}

type peer struct {
	srv   *Server
	conn  *websocket.Conn
	trips *events.Buffer[Trip]

	wmu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	batches int
}

func (p *peer) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.stop()
		_ = p.conn.Close()
	}()

	p.emit("status", map[string]any{"msg": "Connected to real-time stream"})
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		codec := message.CodecJSON
		if mt == websocket.BinaryMessage {
			codec = message.CodecCBOR
		}
		event, payload, err := message.SplitEnvelope(codec, data)
		if err != nil {
			p.emit("error", map[string]any{"msg": err.Error()})
			continue
		}
		switch event {
		case adapters.CmdStartStreaming:
			req := adapters.StartStreaming{DatasetID: "t29m-gskq", Interval: 5}
			if err := message.Decode(codec, payload, &req); err != nil {
				p.emit("error", map[string]any{"msg": fmt.Sprintf("bad start_streaming: %v", err)})
				continue
			}
			if req.Interval <= 0 {
				req.Interval = 5
			}
			p.emit("streaming_status", map[string]any{"status": "started"})
			p.start(ctx, req)
		case adapters.CmdStopStreaming:
			p.stop()
			p.emit("streaming_status", map[string]any{"status": "stopped"})
		default:
			p.srv.log.Debug("unknown command", "event", event)
		}
	}
}

func (p *peer) start(ctx context.Context, req adapters.StartStreaming) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return // already streaming
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	every := time.Duration(req.Interval) * p.srv.opts.IntervalUnit
	p.srv.log.Info("streaming started", "dataset_id", req.DatasetID, "every", every)

	p.wg.Add(2)
	go p.loop(ctx, every, p.sendTrips)
	go p.loop(ctx, p.srv.opts.AnalyticsEvery, p.sendAnalytics)
}

func (p *peer) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.wg.Wait()
		p.srv.log.Info("streaming stopped")
	}
}

func (p *peer) loop(ctx context.Context, every time.Duration, send func()) {
	defer p.wg.Done()
	for {
		t := time.NewTimer(Jittered(every, p.srv.opts.Jitter))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			send()
		}
	}
}

func (p *peer) sendTrips() {
	p.mu.Lock()
	p.batches++
	n := p.batches
	p.mu.Unlock()

	if me := p.srv.opts.MalformedEvery; me > 0 && n%me == 0 {
		p.emit("taxi_data", map[string]any{"timestamp": now(), "data": "corrupted batch", "count": 1})
		return
	}
	batch := make([]Trip, p.srv.opts.BatchSize)
	for i := range batch {
		batch[i] = RandomTrip(time.Now())
		p.trips.Append(batch[i])
	}
	p.emit("taxi_data", map[string]any{"timestamp": now(), "data": batch, "count": len(batch)})
}

func (p *peer) sendAnalytics() {
	p.emit("analytics_data", map[string]any{"timestamp": now(), "data": Summarize(p.trips.Snapshot())})
}

func (p *peer) emit(event string, payload any) {
	frame, err := message.Encode(p.srv.opts.Codec, event, payload)
	if err != nil {
		p.srv.log.Error("encode", "event", event, "err", err)
		return
	}
	mt := websocket.TextMessage
	if p.srv.opts.Codec == message.CodecCBOR {
		mt = websocket.BinaryMessage
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.conn.WriteMessage(mt, frame); err != nil {
		p.srv.log.Debug("write failed", "event", event, "err", err)
	}
}

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// MinPeriod is the shortest pause between two sends of one loop.
const MinPeriod = time.Millisecond

const maxJitter = 0.9

// Jittered spreads base by up to ±pct, with pct capped below 1. The
// result is never under MinPeriod.
func Jittered(base time.Duration, pct float64) time.Duration {
	pct = min(max(pct, 0), maxJitter)
	d := base
	if pct > 0 {
		j := (rand.Float64()*2 - 1) * base.Seconds() * pct
		d = time.Duration((base.Seconds() + j) * float64(time.Second))
	}
	return max(d, MinPeriod)
}
