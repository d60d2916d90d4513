package live

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-live/pkg/codec"
	"github.com/teslashibe/go-live/pkg/transcript"
)

// Mock is an in-memory transport for testing. Sends are recorded and
// inbound events are injected with the Simulate helpers.
type Mock struct {
	mu sync.Mutex

	// State
	opened bool
	closed bool
	opens  int
	events chan Event

	// Configurable behavior
	OpenFunc             func(ctx context.Context, setup Setup) error
	SendAudioFunc        func(w codec.WireChunk) error
	SendToolResponseFunc func(ctx context.Context, resps ...FunctionResponse) error

	// Captured calls
	setup     *Setup
	audio     []codec.WireChunk
	controls  []Control
	responses []FunctionResponse
}

// NewMock creates a new Mock transport.
func NewMock() *Mock {
	return &Mock{events: make(chan Event, 256)}
}

// Open implements the transport.
func (m *Mock) Open(ctx context.Context, setup Setup) error {
	m.mu.Lock()
	if m.opened || m.closed {
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.opens++
	fn := m.OpenFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, setup); err != nil {
			m.Close()
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.setup = &setup
	return nil
}

// SendAudio implements the transport.
func (m *Mock) SendAudio(w codec.WireChunk) error {
	if err := m.check(); err != nil {
		return err
	}
	if m.SendAudioFunc != nil {
		if err := m.SendAudioFunc(w); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, w)
	return nil
}

// SendControl implements the transport.
func (m *Mock) SendControl(ctx context.Context, c Control) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = append(m.controls, c)
	return nil
}

// SendToolResponse implements the transport.
func (m *Mock) SendToolResponse(ctx context.Context, resps ...FunctionResponse) error {
	if err := m.check(); err != nil {
		return err
	}
	if m.SendToolResponseFunc != nil {
		if err := m.SendToolResponseFunc(ctx, resps...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resps...)
	return nil
}

func (m *Mock) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return ErrSessionClosed
	case !m.opened:
		return ErrNotReady
	}
	return nil
}

// Events implements the transport.
func (m *Mock) Events() <-chan Event {
	return m.events
}

// Close implements the transport. It emits EventClosed with a nil error.
func (m *Mock) Close() error {
	m.finish(nil)
	return nil
}

// Stats implements the transport.
func (m *Mock) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		AudioSent:         int64(len(m.audio)),
		ControlSent:       int64(len(m.controls)),
		ToolResponsesSent: int64(len(m.responses)),
	}
}

func (m *Mock) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	select {
	case m.events <- Event{Kind: EventClosed, Err: err}:
	default:
	}
	close(m.events)
}

// Test helpers

// Emit injects an event. Events after close are dropped.
func (m *Mock) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- ev
}

// SimulateReady emits EventReady.
func (m *Mock) SimulateReady() {
	m.Emit(Event{Kind: EventReady})
}

// SimulateAudio emits one response audio chunk.
func (m *Mock) SimulateAudio(w codec.WireChunk) {
	m.Emit(Event{Kind: EventAudio, Audio: w})
}

// SimulateTranscript emits a running transcript for a speaker.
func (m *Mock) SimulateTranscript(sp transcript.Speaker, text string) {
	m.Emit(Event{Kind: EventTranscript, Speaker: sp, Text: text})
}

// SimulateToolCall emits a tool call request.
func (m *Mock) SimulateToolCall(calls ...FunctionCall) {
	m.Emit(Event{Kind: EventToolCall, Calls: calls})
}

// SimulateToolCancel emits a tool call cancellation.
func (m *Mock) SimulateToolCancel(ids ...string) {
	m.Emit(Event{Kind: EventToolCancel, IDs: ids})
}

// SimulateInterrupted emits a barge-in.
func (m *Mock) SimulateInterrupted() {
	m.Emit(Event{Kind: EventInterrupted})
}

// SimulateTurnComplete emits the end of a model turn.
func (m *Mock) SimulateTurnComplete() {
	m.Emit(Event{Kind: EventTurnComplete})
}

// SimulateGoAway emits a go-away warning.
func (m *Mock) SimulateGoAway(left time.Duration) {
	m.Emit(Event{Kind: EventGoAway, TimeLeft: left})
}

// SimulateFailure closes the transport as if the socket dropped.
func (m *Mock) SimulateFailure(err error) {
	m.finish(err)
}

// Setup returns the setup passed to Open, or nil.
func (m *Mock) Setup() *Setup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setup
}

// OpenCount returns how many times Open was called.
func (m *Mock) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Closed reports whether the transport was closed.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AudioSent returns the recorded audio chunks.
func (m *Mock) AudioSent() []codec.WireChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]codec.WireChunk(nil), m.audio...)
}

// Controls returns the recorded control messages.
func (m *Mock) Controls() []Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Control(nil), m.controls...)
}

// ToolResponses returns the recorded tool responses.
func (m *Mock) ToolResponses() []FunctionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FunctionResponse(nil), m.responses...)
}
