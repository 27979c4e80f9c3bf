package events

import "fmt"

// Kind tags a stream. Every kind gets its own buffer and capacity.
type Kind string

const (
	KindRecords   Kind = "records"   // discrete event records (one trip each)
	KindSnapshots Kind = "snapshots" // periodic aggregate rollups
)

// Kinds lists every stream kind in a stable order.
func Kinds() []Kind { return []Kind{KindRecords, KindSnapshots} }

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindRecords, KindSnapshots:
		return k, nil
	}
	return "", fmt.Errorf("unknown stream kind %q", s)
}

func (k Kind) String() string { return string(k) }
