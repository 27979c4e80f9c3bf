// Package diag collects non-fatal errors: transport failures, rejected
// messages and errors reported by the server. The most recent ones are
// kept for inspection; all of them are counted.
package diag

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mobility-feed/internal/events"
	"mobility-feed/internal/metrics"
)

// DefaultCapacity is how many diagnostics a Log keeps.
const DefaultCapacity = 100

type Diagnostic struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

type Options struct {
	Capacity int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// LogEvery and LogBurst throttle log output. Recording and counting
	// are never throttled.
	LogEvery time.Duration
	LogBurst int
}

type Log struct {
	buf     *events.Buffer[Diagnostic]
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	total   atomic.Uint64
	muted   atomic.Uint64
	now     func() time.Time
}

func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = time.Second
	}
	if opts.LogBurst <= 0 {
		opts.LogBurst = 5
	}
	return &Log{
		buf:     events.New[Diagnostic](opts.Capacity),
		log:     opts.Logger.With("component", "diag"),
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(rate.Every(opts.LogEvery), opts.LogBurst),
		now:     time.Now,
	}
}

// Record stores err under source. A nil err is ignored.
func (l *Log) Record(source string, err error) {
	if err == nil {
		return
	}
	d := Diagnostic{At: l.now(), Source: source, Message: err.Error()}
	l.buf.Append(d)
	l.total.Add(1)
	l.metrics.Diagnostic(source)

	if !l.limiter.Allow() {
		l.muted.Add(1)
		return
	}
	if n := l.muted.Swap(0); n > 0 {
		l.log.Warn(d.Message, "source", source, "suppressed", n)
		return
	}
	l.log.Warn(d.Message, "source", source)
}

// Recent returns the retained diagnostics, oldest first.
func (l *Log) Recent() []Diagnostic { return l.buf.Snapshot() }

// Total counts every diagnostic ever recorded, including evicted ones.
func (l *Log) Total() uint64 { return l.total.Load() }

func (l *Log) Reset() { l.buf.Reset() }

func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Total  uint64       `json:"total"`
		Recent []Diagnostic `json:"recent"`
	}{l.Total(), l.Recent()})
}
