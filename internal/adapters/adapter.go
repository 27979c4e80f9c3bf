package adapters

import (
	"context"

	"mobility-feed/internal/message"
)

// Outbound control commands understood by the event source.
const (
	CmdStartStreaming = "start_streaming"
	CmdStopStreaming  = "stop_streaming"
)

// Message is one inbound frame split into its event name and payload.
// Err is set when the frame could not be split; Payload then holds the
// raw frame.
type Message struct {
	Event   string
	Payload []byte
	Codec   message.Codec
	Err     error
}

// Sink receives everything a transport observes, serially and in order.
type Sink interface {
	OnConnected()
	OnDisconnected(err error)
	OnError(err error)
	OnMessage(m Message)
}

// Transport is a live connection handle.
type Transport interface {
	// Emit sends a control command with its payload.
	Emit(command string, payload any) error
	// Disconnect tears the connection down. Idempotent and non-blocking;
	// safe to call from inside a Sink callback.
	Disconnect() error
	// Done is closed once the transport will make no further Sink calls.
	Done() <-chan struct{}
}

// Dialer opens a transport to endpoint. It returns at once; the outcome
// of the connection attempt arrives on sink.
type Dialer func(ctx context.Context, endpoint string, sink Sink) (Transport, error)

// StartStreaming is the payload of CmdStartStreaming.
type StartStreaming struct {
	DatasetID string `json:"dataset_id" cbor:"dataset_id"`
	Interval  int    `json:"interval" cbor:"interval"` // seconds between polls upstream
}
