package message

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"mobility-feed/internal/events"
)

var (
	// ErrMalformed marks a payload that failed decoding or validation.
	// The whole message is discarded; the connection stays up.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownEvent marks an event name with no route.
	ErrUnknownEvent = errors.New("unknown event")
)

// MaxBatch bounds the records accepted from a single message.
const MaxBatch = 10000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("maxbatch", func(fl validator.FieldLevel) bool {
		return fl.Field().Len() <= MaxBatch
	}); err != nil {
		panic("message: " + err.Error())
	}
	return v
}

type recordBatch struct {
	Timestamp *float64         `validate:"omitempty,gte=0"`
	Items     []map[string]any `validate:"required,maxbatch,dive,required"`
	Count     *int             `validate:"omitempty,gte=0"`
}

type snapshotTick struct {
	Timestamp *float64       `validate:"omitempty,gte=0"`
	Data      map[string]any `validate:"required"`
}

// Fields names the payload members the decoder reads.
type Fields struct {
	Records   string // array of record objects, "data" upstream
	Snapshot  string // single rollup object, "data" upstream
	Timestamp string // unix seconds, optional
	Count     string // declared batch size, optional
}

func DefaultFields() Fields {
	return Fields{Records: "data", Snapshot: "data", Timestamp: "timestamp", Count: "count"}
}

// Decoder validates inbound payloads and turns them into entries.
type Decoder struct {
	fields Fields
}

func NewDecoder(f Fields) *Decoder {
	d := DefaultFields()
	if f.Records != "" {
		d.Records = f.Records
	}
	if f.Snapshot != "" {
		d.Snapshot = f.Snapshot
	}
	if f.Timestamp != "" {
		d.Timestamp = f.Timestamp
	}
	if f.Count != "" {
		d.Count = f.Count
	}
	return &Decoder{fields: d}
}

// Records decodes a record-stream payload. Either every record is valid
// and returned in delivered order, or an ErrMalformed error is returned
// and nothing is.
func (d *Decoder) Records(c Codec, payload []byte) ([]Entry, error) {
	obj, err := decodeObject(c, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	batch := recordBatch{}
	if batch.Timestamp, err = optionalFloat(obj, d.fields.Timestamp); err != nil {
		return nil, err
	}
	if batch.Count, err = optionalInt(obj, d.fields.Count); err != nil {
		return nil, err
	}

	raw, ok := obj[d.fields.Records]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformed, d.fields.Records)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, want array", ErrMalformed, d.fields.Records, raw)
	}
	batch.Items = make([]map[string]any, len(list))
	for i, it := range list {
		if it == nil {
			continue // rejected by dive,required below
		}
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, want object", ErrMalformed, d.fields.Records, i, it)
		}
		batch.Items[i] = m
	}

	if err := validate.Struct(batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if batch.Count != nil && *batch.Count != len(batch.Items) {
		return nil, fmt.Errorf("%w: count %d but %d records", ErrMalformed, *batch.Count, len(batch.Items))
	}

	src := sourceTime(batch.Timestamp)
	out := make([]Entry, 0, len(batch.Items))
	for _, m := range batch.Items {
		e := NewEntry(events.KindRecords, m)
		e.SourceTime = src
		out = append(out, e)
	}
	return out, nil
}

// Snapshot decodes an aggregate-snapshot payload into exactly one entry.
func (d *Decoder) Snapshot(c Codec, payload []byte) (Entry, error) {
	obj, err := decodeObject(c, payload)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tick := snapshotTick{}
	if tick.Timestamp, err = optionalFloat(obj, d.fields.Timestamp); err != nil {
		return Entry{}, err
	}
	raw, ok := obj[d.fields.Snapshot]
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing %q", ErrMalformed, d.fields.Snapshot)
	}
	if raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %q is %T, want object", ErrMalformed, d.fields.Snapshot, raw)
		}
		tick.Data = m
	}

	if err := validate.Struct(tick); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	e := NewEntry(events.KindSnapshots, tick.Data)
	e.SourceTime = sourceTime(tick.Timestamp)
	return e, nil
}

// ServerError extracts the "msg" of an error event pushed by the source.
func (d *Decoder) ServerError(c Codec, payload []byte) string {
	obj, err := decodeObject(c, payload)
	if err != nil {
		return string(payload)
	}
	if s, ok := obj["msg"].(string); ok {
		return s
	}
	return fmt.Sprint(obj)
}

// Status extracts a human readable status line from status or
// streaming_status events.
func (d *Decoder) Status(c Codec, payload []byte) string {
	obj, err := decodeObject(c, payload)
	if err != nil {
		return ""
	}
	for _, k := range []string{"status", "msg"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

func optionalFloat(obj map[string]any, key string) (*float64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %q is not a number", ErrMalformed, key)
	}
	return &f, nil
}

func optionalInt(obj map[string]any, key string) (*int, error) {
	f, err := optionalFloat(obj, key)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrMalformed, key)
	}
	n := int(*f)
	return &n, nil
}

func sourceTime(ts *float64) time.Time {
	if ts == nil {
		return time.Time{}
	}
	sec, frac := math.Modf(*ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
