package session

// State is the lifecycle phase of a [Client].
type State int

const (
	// StateDisconnected is the idle state; Connect is only legal here.
	StateDisconnected State = iota

	// StateConnecting covers device acquisition, dialing and setup.
	StateConnecting

	// StateReady is entered when the server acknowledges setup.
	StateReady

	// StateListening means the model has finished speaking and the user's
	// audio is being forwarded.
	StateListening

	// StateModelSpeaking means model audio is scheduled or playing.
	StateModelSpeaking

	// StateError is terminal for the current connection attempt. Disconnect
	// returns the client to StateDisconnected.
	StateError
)

// String returns the lower-camel name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateModelSpeaking:
		return "modelSpeaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connected reports whether the server has acknowledged setup and the
// connection is live.
func (s State) Connected() bool {
	return s == StateReady || s == StateListening || s == StateModelSpeaking
}

// AcceptsAudio reports whether captured microphone blocks are forwarded in
// this state. With fullDuplex the user may also talk over the model.
func (s State) AcceptsAudio(fullDuplex bool) bool {
	switch s {
	case StateReady, StateListening:
		return true
	case StateModelSpeaking:
		return fullDuplex
	default:
		return false
	}
}
