package live

import (
	"time"

	"github.com/teslashibe/go-live/pkg/codec"
	"github.com/teslashibe/go-live/pkg/transcript"
)

// EventKind identifies the type of an inbound event.
type EventKind int

const (
	// EventReady means the server accepted the setup; queued sends flush.
	EventReady EventKind = iota
	// EventAudio carries one chunk of response audio.
	EventAudio
	// EventText carries a text part of the model turn.
	EventText
	// EventTranscript carries the running transcript of one speaker.
	EventTranscript
	// EventToolCall carries tool invocation requests.
	EventToolCall
	// EventToolCancel carries ids of invocations the server abandoned.
	EventToolCancel
	// EventInterrupted means the user barged in; queued audio is stale.
	EventInterrupted
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
	// EventGoAway warns that the server will end the connection soon.
	EventGoAway
	// EventClosed is the last event. Err is nil after a local Close.
	EventClosed
)

var eventKindNames = [...]string{
	EventReady:        "ready",
	EventAudio:        "audio",
	EventText:         "text",
	EventTranscript:   "transcript",
	EventToolCall:     "tool_call",
	EventToolCancel:   "tool_cancel",
	EventInterrupted:  "interrupted",
	EventTurnComplete: "turn_complete",
	EventGoAway:       "go_away",
	EventClosed:       "closed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is one inbound occurrence, delivered in network order.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio.
	Audio codec.WireChunk

	// Speaker and Text are set for EventTranscript; Text alone for EventText.
	// Transcript text is the running text of the current turn, so the
	// newest event always supersedes earlier ones.
	Speaker transcript.Speaker
	Text    string

	// Calls is set for EventToolCall.
	Calls []FunctionCall

	// IDs is set for EventToolCancel.
	IDs []string

	// TimeLeft is set for EventGoAway.
	TimeLeft time.Duration

	// Err is set for EventClosed after a transport failure.
	Err error
}
