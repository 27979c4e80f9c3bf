package message

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"time"

	"mobility-feed/internal/events"
)

// Entry is one validated payload held by a stream buffer. The field map
// is unexported so readers of a snapshot cannot change what the next
// reader sees.
type Entry struct {
	Kind       events.Kind
	Seq        uint64 // arrival order across both kinds
	ReceivedAt time.Time
	SourceTime time.Time // server timestamp, zero when absent

	fields map[string]any
}

func NewEntry(kind events.Kind, fields map[string]any) Entry {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = deepCopy(v)
	}
	return Entry{Kind: kind, fields: out}
}

// Field returns a copy of a field; nested objects and arrays included.
func (e Entry) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return deepCopy(v), ok
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = deepCopy(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = deepCopy(x)
		}
		return s
	case []byte:
		return slices.Clone(t)
	}
	return v
}

// Float reads a numeric field. Upstream datasets often ship numbers as
// strings ("12.5"), so those are parsed too.
func (e Entry) Float(name string) (float64, bool) {
	v, ok := e.fields[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func (e Entry) String(name string) (string, bool) {
	v, ok := e.fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Keys returns the field names in sorted order.
func (e Entry) Keys() []string {
	return slices.Sorted(maps.Keys(e.fields))
}

func (e Entry) Len() int { return len(e.fields) }

type entryJSON struct {
	Kind       events.Kind    `json:"kind"`
	Seq        uint64         `json:"seq"`
	ReceivedAt time.Time      `json:"received_at"`
	SourceTime *time.Time     `json:"source_time,omitempty"`
	Data       map[string]any `json:"data"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		Kind:       e.Kind,
		Seq:        e.Seq,
		ReceivedAt: e.ReceivedAt,
		Data:       e.fields,
	}
	if !e.SourceTime.IsZero() {
		st := e.SourceTime
		out.SourceTime = &st
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return json.Marshal(out)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
