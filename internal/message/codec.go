package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec says how a frame is encoded. Text frames carry JSON, binary
// frames carry CBOR.
type Codec int

const (
	CodecJSON Codec = iota
	CodecCBOR
)

func (c Codec) String() string {
	if c == CodecCBOR {
		return "cbor"
	}
	return "json"
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("message: cbor encoder: " + err.Error())
	}
	// Payloads are decoded into map[string]any; the CBOR default of
	// map[interface{}]interface{} would not match the JSON path.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("message: cbor decoder: " + err.Error())
	}
}

// Envelope is the wire frame: an event name and its payload, socket.io
// style. Outbound control commands use the same shape.
type Envelope struct {
	Event string `json:"event" cbor:"event"`
	Data  any    `json:"data,omitempty" cbor:"data,omitempty"`
}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type cborEnvelope struct {
	Event string          `cbor:"event"`
	Data  cbor.RawMessage `cbor:"data"`
}

// SplitEnvelope extracts the event name and the still-encoded payload.
func SplitEnvelope(c Codec, frame []byte) (event string, payload []byte, err error) {
	switch c {
	case CodecCBOR:
		var env cborEnvelope
		if err := cborDec.Unmarshal(frame, &env); err != nil {
			return "", nil, fmt.Errorf("%w: cbor envelope: %v", ErrMalformed, err)
		}
		event, payload = env.Event, env.Data
	default:
		var env jsonEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return "", nil, fmt.Errorf("%w: json envelope: %v", ErrMalformed, err)
		}
		event, payload = env.Event, env.Data
	}
	if event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return event, payload, nil
}

// Encode builds a frame for event with payload.
func Encode(c Codec, event string, payload any) ([]byte, error) {
	env := Envelope{Event: event, Data: payload}
	if c == CodecCBOR {
		return cborEnc.Marshal(env)
	}
	return json.Marshal(env)
}

// decodeObject turns an encoded payload into a generic map.
func decodeObject(c Codec, payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	var out map[string]any
	var err error
	if c == CodecCBOR {
		err = cborDec.Unmarshal(payload, &out)
	} else {
		err = json.Unmarshal(payload, &out)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("payload is null")
	}
	return out, nil
}

// Decode unmarshals a payload into v. An empty payload leaves v as is.
func Decode(c Codec, payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if c == CodecCBOR {
		return cborDec.Unmarshal(payload, v)
	}
	return json.Unmarshal(payload, v)
}
