package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// client's current state.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrNotConnected is returned by send operations before setup completes
	// or after the connection ends.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAborted is returned by Connect when Disconnect ran while the
	// connection was still being established.
	ErrAborted = errors.New("session: connect aborted by disconnect")

	// ErrSetupTimeout is wrapped in a KindSetupRejected error when the server
	// never acknowledges setup.
	ErrSetupTimeout = errors.New("session: setup not acknowledged")
)

// Kind classifies session failures for the UI.
type Kind int

const (
	// KindTransport covers socket open, send and receive failures.
	KindTransport Kind = iota

	// KindPermissionDenied means the microphone could not be acquired, either
	// because access was refused or because no input device exists.
	KindPermissionDenied

	// KindSetupRejected means the server refused or never acknowledged setup.
	KindSetupRejected

	// KindDevice means the audio output engine failed.
	KindDevice
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindPermissionDenied:
		return "permission_denied"
	case KindSetupRejected:
		return "setup_rejected"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Error is the error type reported through [Listener.OnError] and returned by
// Connect.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}
