package assistant

// State is the conversation state. It is changed only by the control
// goroutine.
type State int

const (
	StateIdle State = iota
	StateWaitingForWakeword
	StateRecording
	StateCommitting
	StateAwaitingResponse
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForWakeword:
		return "waiting_for_wakeword"
	case StateRecording:
		return "recording"
	case StateCommitting:
		return "committing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the allowed moves. Every non-idle state can fall back
// to idle on an error, timeout or disconnect.
var transitions = map[State][]State{
	StateIdle:               {StateWaitingForWakeword},
	StateWaitingForWakeword: {StateRecording, StateIdle},
	StateRecording:          {StateCommitting, StateIdle},
	StateCommitting:         {StateAwaitingResponse, StateIdle},
	StateAwaitingResponse:   {StatePlaying, StateIdle},
	StatePlaying:            {StateIdle},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// States returns every state in declaration order.
func States() []State {
	return []State{
		StateIdle,
		StateWaitingForWakeword,
		StateRecording,
		StateCommitting,
		StateAwaitingResponse,
		StatePlaying,
	}
}

// Active reports whether a turn is in progress.
func (s State) Active() bool {
	return s != StateIdle
}

// receivingResponse reports whether response audio belongs to the turn.
// Recording is included for the greeting.
func (s State) receivingResponse() bool {
	switch s {
	case StateRecording, StateCommitting, StateAwaitingResponse, StatePlaying:
		return true
	}
	return false
}
