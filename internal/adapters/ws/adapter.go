// Package ws is the websocket transport: one goroutine dials, reports
// the outcome and then reads frames until the connection ends.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/message"
)

var ErrNotConnected = errors.New("ws: not connected")

// DefaultReadLimit bounds one inbound frame: a full record batch at about
// a kilobyte per record.
const DefaultReadLimit int64 = message.MaxBatch * 1024

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64         // max bytes per inbound frame
	Codec            message.Codec // encoding of outbound commands
	Header           http.Header
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// NewDialer returns an adapters.Dialer backed by gorilla/websocket.
func NewDialer(opts Options) adapters.Dialer {
	opts = opts.withDefaults()
	return func(ctx context.Context, endpoint string, sink adapters.Sink) (adapters.Transport, error) {
		u, err := Endpoint(endpoint)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(ctx)
		t := &transport{
			opts:   opts,
			sink:   sink,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		go t.run(ctx, u)
		return t, nil
	}
}

// Endpoint normalises http(s) URLs to ws(s) and rejects anything else.
func Endpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ws: endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ws: endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ws: endpoint %q: missing host", raw)
	}
	return u.String(), nil
}

type transport struct {
	opts   Options
	sink   adapters.Sink
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex // guards conn, closed and all writes
	conn   *websocket.Conn
	closed bool
}

func (t *transport) run(ctx context.Context, endpoint string) {
	defer close(t.done)

	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
	}
	conn, _, err := d.DialContext(ctx, endpoint, t.opts.Header)
	if err != nil {
		if ctx.Err() != nil {
			return // torn down while dialing
		}
		t.sink.OnError(fmt.Errorf("dial %s: %w", endpoint, err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()
	conn.SetReadLimit(t.opts.ReadLimit)

	t.sink.OnConnected()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				t.sink.OnError(fmt.Errorf("frame over %d bytes: %w", t.opts.ReadLimit, err))
				t.teardown()
				return
			}
			t.sink.OnDisconnected(err)
			t.teardown()
			return
		}
		t.sink.OnMessage(split(mt, data))
	}
}

func split(mt int, data []byte) adapters.Message {
	codec := message.CodecJSON
	if mt == websocket.BinaryMessage {
		codec = message.CodecCBOR
	}
	event, payload, err := message.SplitEnvelope(codec, data)
	if err != nil {
		return adapters.Message{Payload: data, Codec: codec, Err: err}
	}
	return adapters.Message{Event: event, Payload: payload, Codec: codec}
}

func (t *transport) Emit(command string, payload any) error {
	frame, err := message.Encode(t.opts.Codec, command, payload)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", command, err)
	}
	mt := websocket.TextMessage
	if t.opts.Codec == message.CodecCBOR {
		mt = websocket.BinaryMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := t.conn.WriteMessage(mt, frame); err != nil {
		return fmt.Errorf("ws: emit %s: %w", command, err)
	}
	return nil
}

func (t *transport) Disconnect() error {
	return t.teardown()
}

func (t *transport) teardown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *transport) Done() <-chan struct{} { return t.done }
