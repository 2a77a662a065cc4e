package ingest

// State is the lifecycle state of the streaming link.
type State int

const (
	// StateDisconnected is the initial state and the state after every close.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the link is open and frames are transmitted.
	StateConnected

	// StateError is terminal: a capture device failed and the client will not
	// reconnect on its own.
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
