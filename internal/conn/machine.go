// Package conn owns the connection lifecycle: it dials the transport,
// issues the streaming commands and decides which inbound messages reach
// the ingestion layer.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/metrics"
)

var ErrClosed = errors.New("conn: machine closed")

// Diagnostic sources recorded by the machine.
const (
	SourceTransport = "transport"
	SourceCommand   = "command"
)

// Handler receives messages that passed the gate. It runs under the
// machine's read lock and must not call back into the Machine.
type Handler interface {
	Handle(m adapters.Message)
}

type HandlerFunc func(m adapters.Message)

func (f HandlerFunc) Handle(m adapters.Message) { f(m) }

// Recorder collects non-fatal errors.
type Recorder interface {
	Record(source string, err error)
}

// Observer is told about every state change. Called with the machine
// locked; it must not call back into the Machine.
type Observer func(from, to State)

type Reconnect struct {
	Enabled     bool
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // 0 means unlimited
}

type Config struct {
	Endpoint        string
	Stream          adapters.StartStreaming
	Reconnect       Reconnect
	TeardownTimeout time.Duration
}

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.log = l } }
func WithRecorder(r Recorder) Option   { return func(m *Machine) { m.rec = r } }
func WithMetrics(x *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = x }
}
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

type Machine struct {
	cfg       Config
	dial      adapters.Dialer
	handler   Handler
	log       *slog.Logger
	rec       Recorder
	metrics   *metrics.Metrics
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	gen      uint64
	tr       adapters.Transport
	lastErr  error
	stopped  bool // Stop was requested; suppresses reconnects
	closed   bool
	retry    *time.Timer
	attempts int
	stopDone chan struct{} // open while a Stop is tearing down
}

func New(cfg Config, dial adapters.Dialer, h Handler, opts ...Option) *Machine {
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 2 * time.Second
	}
	if cfg.Reconnect.Initial <= 0 {
		cfg.Reconnect.Initial = time.Second
	}
	if cfg.Reconnect.Max < cfg.Reconnect.Initial {
		cfg.Reconnect.Max = cfg.Reconnect.Initial
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:     cfg,
		dial:    dial,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "conn")
	return m
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the most recent transport error, nil after a clean
// connect.
func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Start dials the endpoint. It is a no-op unless the machine is
// Disconnected. Dialing does not block; the outcome arrives later.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.stopped = false
	m.attempts = 0
	m.stopRetryLocked()
	m.startLocked()
	return nil
}

func (m *Machine) startLocked() {
	if m.state != Disconnected {
		return
	}
	m.gen++
	m.setLocked(Connecting)
	tr, err := m.dial(m.ctx, m.cfg.Endpoint, &link{m: m, gen: m.gen})
	if err != nil {
		m.failLocked(fmt.Errorf("dial: %w", err))
		return
	}
	m.tr = tr
	m.log.Info("connecting", "endpoint", m.cfg.Endpoint)
}

// Stop leaves the stream. When Connected it sends stop_streaming first.
// Messages delivered after Stop returns are dropped. Stop waits for the
// transport to wind down, at most TeardownTimeout; a Stop that finds
// another one in progress waits for that one.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.stopRetryLocked()
	if m.state == Stopping {
		done := m.stopDone
		m.mu.Unlock()
		<-done
		return
	}
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	wasConnected := m.state == Connected
	tr := m.tr
	m.tr = nil
	m.gen++
	done := make(chan struct{})
	m.stopDone = done
	m.setLocked(Stopping)
	m.mu.Unlock()
	defer close(done)

	if tr != nil {
		if wasConnected {
			err := tr.Emit(adapters.CmdStopStreaming, struct{}{})
			m.metrics.Command(adapters.CmdStopStreaming, err)
			if err != nil {
				m.record(SourceCommand, fmt.Errorf("%s: %w", adapters.CmdStopStreaming, err))
			}
		}
		_ = tr.Disconnect()
		m.wait(tr)
	}

	m.mu.Lock()
	m.setLocked(Disconnected)
	m.mu.Unlock()
	m.log.Info("stopped")
}

func (m *Machine) wait(tr adapters.Transport) {
	t := time.NewTimer(m.cfg.TeardownTimeout)
	defer t.Stop()
	select {
	case <-tr.Done():
	case <-t.C:
		m.log.Warn("transport did not finish in time", "timeout", m.cfg.TeardownTimeout)
	}
}

// Close stops the machine for good. Later Start calls return ErrClosed.
func (m *Machine) Close() {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

func (m *Machine) onConnected(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != Connecting {
		return
	}
	m.attempts = 0
	m.lastErr = nil
	m.setLocked(Connected)
	m.log.Info("connected", "dataset_id", m.cfg.Stream.DatasetID, "interval", m.cfg.Stream.Interval)

	err := m.tr.Emit(adapters.CmdStartStreaming, m.cfg.Stream)
	m.metrics.Command(adapters.CmdStartStreaming, err)
	if err != nil {
		m.record(SourceCommand, fmt.Errorf("%s: %w", adapters.CmdStartStreaming, err))
	}
}

func (m *Machine) onDisconnected(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state == Disconnected {
		return
	}
	m.log.Info("disconnected", "err", err)
	m.lastErr = err
	m.teardownLocked()
	m.setLocked(Disconnected)
	m.scheduleRetryLocked()
}

func (m *Machine) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if m.state == Disconnected {
		m.record(SourceTransport, err)
		return
	}
	m.failLocked(err)
}

// failLocked records err and brings the machine down to Disconnected.
func (m *Machine) failLocked(err error) {
	m.lastErr = err
	m.record(SourceTransport, err)
	m.teardownLocked()
	m.setLocked(Disconnected)
	m.scheduleRetryLocked()
}

func (m *Machine) teardownLocked() {
	if m.tr != nil {
		_ = m.tr.Disconnect()
		m.tr = nil
	}
}

func (m *Machine) deliver(gen uint64, msg adapters.Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gen != m.gen || m.state != Connected {
		m.metrics.Message(msg.Event, metrics.ResultLate)
		return
	}
	m.handler.Handle(msg)
}

func (m *Machine) scheduleRetryLocked() {
	rc := m.cfg.Reconnect
	if !rc.Enabled || m.stopped || m.closed || m.retry != nil {
		return
	}
	if rc.MaxAttempts > 0 && m.attempts >= rc.MaxAttempts {
		m.log.Warn("giving up reconnecting", "attempts", m.attempts)
		return
	}
	delay := Backoff(rc.Initial, rc.Max, m.attempts)
	m.attempts++
	m.log.Info("reconnecting", "in", delay, "attempt", m.attempts)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.retry != t {
			return // cancelled while waiting for the lock
		}
		m.retry = nil
		if m.stopped || m.closed {
			return
		}
		m.metrics.Reconnect()
		m.startLocked()
	})
	m.retry = t
}

func (m *Machine) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// Backoff doubles initial per attempt, capped at ceiling.
func Backoff(initial, ceiling time.Duration, attempt int) time.Duration {
	d := initial
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

func (m *Machine) setLocked(s State) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	m.log.Debug("state", "from", prev, "to", s)
	m.metrics.ConnectionState(int(s))
	for _, o := range m.observers {
		o(prev, s)
	}
}

func (m *Machine) record(source string, err error) {
	if m.rec != nil {
		m.rec.Record(source, err)
		return
	}
	m.log.Warn("error", "source", source, "err", err)
}

// link binds transport callbacks to the generation that dialed it, so a
// superseded transport can no longer move the machine.
type link struct {
	m   *Machine
	gen uint64
}

func (l *link) OnConnected()                 { l.m.onConnected(l.gen) }
func (l *link) OnDisconnected(err error)     { l.m.onDisconnected(l.gen, err) }
func (l *link) OnError(err error)            { l.m.onError(l.gen, err) }
func (l *link) OnMessage(m adapters.Message) { l.m.deliver(l.gen, m) }
