// Package adaptertest provides a scripted in-memory transport. Tests
// drive lifecycle events and inbound messages by hand and inspect the
// commands the code under test emitted.
package adaptertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/message"
)

var ErrClosed = errors.New("adaptertest: transport closed")

type Command struct {
	Name    string
	Payload any
}

// Dialer hands out Transports and remembers them in dial order.
type Dialer struct {
	// FailWith, when set, makes Dial return it instead of a transport.
	FailWith error

	mu         sync.Mutex
	transports []*Transport
}

func (d *Dialer) Dial(_ context.Context, endpoint string, sink adapters.Sink) (adapters.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	t := &Transport{Endpoint: endpoint, sink: sink, done: make(chan struct{})}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recently dialed transport, nil if none.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Transport is a fake connection. Its delivery helpers keep calling the
// sink even after Disconnect so tests can model late arrivals.
type Transport struct {
	Endpoint string

	sink adapters.Sink

	mu           sync.Mutex
	emitted      []Command
	disconnected bool
	done         chan struct{}
}

func (t *Transport) Connect()               { t.sink.OnConnected() }
func (t *Transport) Drop(err error)         { t.sink.OnDisconnected(err) }
func (t *Transport) Fail(err error)         { t.sink.OnError(err) }
func (t *Transport) Raw(m adapters.Message) { t.sink.OnMessage(m) }

// Deliver JSON-encodes payload and hands it to the sink as event.
func (t *Transport) Deliver(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	t.sink.OnMessage(adapters.Message{Event: event, Payload: b, Codec: message.CodecJSON})
}

func (t *Transport) Emit(command string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return ErrClosed
	}
	t.emitted = append(t.emitted, Command{Name: command, Payload: payload})
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.disconnected {
		t.disconnected = true
		close(t.done)
	}
	return nil
}

func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

func (t *Transport) Emitted() []Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Command(nil), t.emitted...)
}

// Count returns how many times command was emitted.
func (t *Transport) Count(command string) int {
	n := 0
	for _, c := range t.Emitted() {
		if c.Name == command {
			n++
		}
	}
	return n
}
