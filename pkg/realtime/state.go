package realtime

// State is the connection state of a Client.
type State int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected State = iota
	// StateConnecting indicates the websocket handshake is in progress.
	StateConnecting
	// StateConnected indicates an open socket whose session is not yet
	// confirmed. Only session.update may be sent.
	StateConnected
	// StateReady indicates session.updated was received.
	StateReady
	// StateClosing indicates Close was called and the socket is shutting down.
	StateClosing
)

// String returns a human-readable connection state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
