package session

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("session: already active")

	// ErrSessionClosed is returned by Start when Stop interrupted it.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNotLive is returned by SendText outside the Live phase.
	ErrNotLive = errors.New("session: not live")

	// ErrEmptyText is returned by SendText for blank input.
	ErrEmptyText = errors.New("session: empty text")
)

// Phase is the lifecycle phase of a session.
type Phase int

const (
	// PhaseIdle is the initial phase.
	PhaseIdle Phase = iota
	// PhaseConnecting acquires the microphone and opens the transport.
	PhaseConnecting
	// PhaseLive streams audio both ways.
	PhaseLive
	// PhaseClosing releases resources.
	PhaseClosing
	// PhaseClosed is the end of a session stopped locally.
	PhaseClosed
	// PhaseErrored is the end of a failed session. State.Reason says why.
	PhaseErrored
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseConnecting: "connecting",
	PhaseLive:       "live",
	PhaseClosing:    "closing",
	PhaseClosed:     "closed",
	PhaseErrored:    "errored",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Startable reports whether Start is allowed from p.
func (p Phase) Startable() bool {
	return p == PhaseIdle || p == PhaseClosed || p == PhaseErrored
}

// State is a snapshot of the session lifecycle.
type State struct {
	Phase     Phase     `json:"phase"`
	Reason    string    `json:"reason,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since"`
}
