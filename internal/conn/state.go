package conn

import "encoding/json"

// State is the connection lifecycle as seen by consumers.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Stopping
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }
