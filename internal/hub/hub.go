// Package hub publishes stream buffers to renderers. Readers pull
// snapshots whenever they redraw; subscribers are additionally told
// which topic changed so they know when to pull.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mobility-feed/internal/conn"
	"mobility-feed/internal/events"
	"mobility-feed/internal/message"
	"mobility-feed/internal/metrics"
)

var ErrClosed = errors.New("hub: publisher closed")

// TopicState carries connection state changes. Stream topics are named
// after their events.Kind.
const TopicState = "state"

// QueueSize bounds each subscriber's pending updates.
const QueueSize = 64

type Update struct {
	Topic   string     `json:"topic"`
	Version uint64     `json:"version"`
	State   conn.State `json:"state"`
}

type Subscription struct {
	ID string
	C  <-chan Update

	ch     chan Update
	topics map[string]bool // empty means every topic
}

func (s *Subscription) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// Poll waits for at least one update and returns it together with any
// others already queued, up to QueueSize. It returns nil when ctx is done
// or the subscription was closed.
func (s *Subscription) Poll(ctx context.Context) []Update {
	select {
	case u, ok := <-s.C:
		if !ok {
			return nil
		}
		out := []Update{u}
		for len(out) < QueueSize {
			select {
			case u2, ok := <-s.C:
				if !ok {
					return out
				}
				out = append(out, u2)
			default:
				return out
			}
		}
		return out
	case <-ctx.Done():
		return nil
	}
}

type topic struct {
	buf     *events.Buffer[message.Entry]
	version atomic.Uint64
}

type Publisher struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	topics  map[events.Kind]*topic

	state        atomic.Int32
	stateVersion atomic.Uint64

	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	dropped atomic.Uint64
}

// New publishes the given buffers, one topic per kind.
func New(buffers map[events.Kind]*events.Buffer[message.Entry], log *slog.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		log:     log.With("component", "hub"),
		metrics: m,
		topics:  make(map[events.Kind]*topic, len(buffers)),
		subs:    map[string]*Subscription{},
	}
	for k, b := range buffers {
		p.topics[k] = &topic{buf: b}
	}
	return p
}

// Snapshot returns a fresh copy of the buffer of kind, oldest first.
// Unknown kinds yield nil.
func (p *Publisher) Snapshot(kind events.Kind) []message.Entry {
	t, ok := p.topics[kind]
	if !ok {
		return nil
	}
	return t.buf.Snapshot()
}

// Version increases with every Refresh of kind.
func (p *Publisher) Version(kind events.Kind) uint64 {
	t, ok := p.topics[kind]
	if !ok {
		return 0
	}
	return t.version.Load()
}

func (p *Publisher) State() conn.State { return conn.State(p.state.Load()) }

// Refresh tells subscribers of kind that its buffer changed. Other
// topics are not disturbed.
func (p *Publisher) Refresh(kind events.Kind) {
	t, ok := p.topics[kind]
	if !ok {
		return
	}
	v := t.version.Add(1)
	p.broadcast(Update{Topic: kind.String(), Version: v, State: p.State()})
}

// StateChanged is a conn.Observer.
func (p *Publisher) StateChanged(_, to conn.State) {
	p.state.Store(int32(to))
	v := p.stateVersion.Add(1)
	p.broadcast(Update{Topic: TopicState, Version: v, State: to})
}

func (p *Publisher) broadcast(u Update) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.subs {
		if !s.wants(u.Topic) {
			continue
		}
		select {
		case s.ch <- u:
		default:
			// the subscriber is behind; it can still pull the latest data
			p.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for the given topics, or for all of
// them when none are named.
func (p *Publisher) Subscribe(topics ...string) (*Subscription, error) {
	ch := make(chan Update, QueueSize)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, topics: map[string]bool{}}
	for _, t := range topics {
		s.topics[t] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.subs[s.ID] = s
	p.metrics.Subscribers(len(p.subs))
	p.log.Debug("subscribed", "id", s.ID, "topics", topics)
	return s, nil
}

func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(s.ch)
		p.metrics.Subscribers(len(p.subs))
	}
}

// Dropped counts updates discarded because a subscriber queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close ends every subscription. Snapshots stay readable.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, s := range p.subs {
		delete(p.subs, id)
		close(s.ch)
	}
	p.metrics.Subscribers(0)
}
