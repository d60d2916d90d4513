package live

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned to senders after Close or a transport failure.
	ErrSessionClosed = errors.New("live: session closed")

	// ErrNotReady is returned by sends on a transport that was never opened.
	ErrNotReady = errors.New("live: transport not opened")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("live: transport already opened")

	// ErrNoCredentials is returned when neither an API key nor a token source is set.
	ErrNoCredentials = errors.New("live: API key or token source required")
)

// TransportError is a fatal connection failure: dial, protocol violation
// or a dropped socket. The session does not reconnect.
type TransportError struct {
	// Op is the failing step ("dial", "read", "write", "decode", "remote_close").
	Op string

	// Code is the websocket close code, when known.
	Code int

	Err error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("live: %s (close %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
