// Package live implements the client side of the Gemini Live
// BidiGenerateContent websocket protocol.
//
// A Transport multiplexes three producers onto one socket: realtime audio,
// control messages and tool responses. Each kind has its own FIFO queue;
// order is kept within a kind but not across kinds. Inbound messages are
// decoded into Events and delivered on a single channel in network order.
//
// Sends made after Open but before the server acknowledges the setup are
// queued and flushed once it does.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-live/pkg/codec"
	"github.com/teslashibe/go-live/pkg/transcript"
)

const maxMessageSize = 16 << 20

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type state int32

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Stats contains transport counters.
type Stats struct {
	AudioSent         int64 `json:"audio_sent"`
	AudioDropped      int64 `json:"audio_dropped"`
	ControlSent       int64 `json:"control_sent"`
	ToolResponsesSent int64 `json:"tool_responses_sent"`
	EventsReceived    int64 `json:"events_received"`
	BytesOut          int64 `json:"bytes_out"`
	BytesIn           int64 `json:"bytes_in"`
}

// Transport is one live connection. It is single-use: after Close a new
// Transport is needed.
type Transport struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	state   state
	started bool // reader goroutine owns events
	reason  error

	audio   chan []byte
	audioMu sync.Mutex
	control chan []byte
	tool    chan []byte
	events  chan Event

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	wg        sync.WaitGroup

	// Running transcripts; touched only by the reader goroutine.
	localText, remoteText   strings.Builder
	localFresh, remoteFresh bool

	audioSent, audioDropped atomic.Int64
	controlSent, toolSent   atomic.Int64
	eventsIn                atomic.Int64
	bytesOut, bytesIn       atomic.Int64
}

// New creates an unopened transport.
func New(opts ...Option) (*Transport, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "live"),
		audio:   make(chan []byte, max(cfg.AudioQueue, 1)),
		control: make(chan []byte, max(cfg.ControlQueue, 1)),
		tool:    make(chan []byte, max(cfg.ToolQueue, 1)),
		events:  make(chan Event, max(cfg.EventBuffer, 1)),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Open dials the endpoint, sends the setup and starts the I/O goroutines.
// It returns once the socket is up; EventReady follows when the server
// accepts the setup.
func (t *Transport) Open(ctx context.Context, setup Setup) error {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.state = stateConnecting
	t.mu.Unlock()

	setupMsg, err := json.Marshal(buildSetup(setup))
	if err != nil {
		return t.abortOpen(&TransportError{Op: "encode", Err: err})
	}

	urlStr, header, err := t.cfg.endpoint()
	if err != nil {
		return t.abortOpen(&TransportError{Op: "dial", Err: err})
	}

	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := t.cfg.Dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		te := &TransportError{Op: "dial", Err: err}
		if resp != nil {
			te.Code = resp.StatusCode
		}
		return t.abortOpen(te)
	}

	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	t.started = true
	t.wg.Add(2)
	t.mu.Unlock()

	t.logger.Info("connected", "model", setup.Model, "tools", len(setup.Tools))

	go t.writeLoop(conn, setupMsg)
	go t.readLoop(conn)
	return nil
}

// abortOpen fails an Open that never started the reader.
func (t *Transport) abortOpen(err error) error {
	if ok, _ := t.shutdown(err); ok {
		t.closeEvents()
	}
	t.logger.Error("open failed", "error", err)
	return err
}

// Events returns the inbound event stream. It is closed after EventClosed.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Ready is closed once the server accepted the setup.
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// Done is closed when the transport is closing or closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the failure that closed the transport, or nil.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// SendAudio queues one audio chunk. When the queue is full the oldest
// chunk is dropped; it never blocks.
func (t *Transport) SendAudio(w codec.WireChunk) error {
	if err := t.checkSend(); err != nil {
		return err
	}
	b, err := json.Marshal(clientMessage{RealtimeInput: &realtimeInput{MediaChunks: []codec.WireChunk{w}}})
	if err != nil {
		return fmt.Errorf("live: encode audio: %w", err)
	}

	t.audioMu.Lock()
	defer t.audioMu.Unlock()
	for {
		select {
		case t.audio <- b:
			return nil
		default:
		}
		select {
		case <-t.audio:
			if n := t.audioDropped.Add(1); n == 1 || n%50 == 0 {
				t.logger.Warn("audio queue full, dropping oldest", "dropped", n)
			}
		default:
		}
	}
}

// SendControl queues a control message, waiting while the queue is full.
func (t *Transport) SendControl(ctx context.Context, c Control) error {
	return t.enqueue(ctx, t.control, buildControl(c))
}

// SendToolResponse queues tool responses, waiting while the queue is full.
func (t *Transport) SendToolResponse(ctx context.Context, resps ...FunctionResponse) error {
	if len(resps) == 0 {
		return nil
	}
	return t.enqueue(ctx, t.tool, clientMessage{ToolResponse: &toolResponse{FunctionResponses: resps}})
}

func (t *Transport) enqueue(ctx context.Context, ch chan []byte, msg clientMessage) error {
	if err := t.checkSend(); err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("live: encode: %w", err)
	}

	select {
	case <-t.done:
		return ErrSessionClosed
	default:
	}
	select {
	case ch <- b:
		return nil
	case <-t.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) checkSend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case stateIdle:
		return ErrNotReady
	case stateClosed:
		return ErrSessionClosed
	}
	return nil
}

// Close sends a normal close frame, closes the socket and releases blocked
// senders with ErrSessionClosed. It is idempotent.
func (t *Transport) Close() error {
	if ok, started := t.shutdown(nil); ok {
		t.logger.Info("closing")
		if !started {
			t.closeEvents()
		}
	}
	t.wg.Wait()
	return nil
}

// shutdown moves to the closed state once. It reports whether this call
// did the transition and whether the reader was running at that point.
// When it was not, the caller owns the events channel.
func (t *Transport) shutdown(reason error) (ok, started bool) {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return false, false
	}
	t.state = stateClosed
	t.reason = reason
	started = t.started
	t.mu.Unlock()

	t.doneOnce.Do(func() { close(t.done) })
	return true, started
}

func (t *Transport) fail(err error) {
	if ok, _ := t.shutdown(err); ok {
		t.logger.Error("transport failed", "error", err)
	}
}

// closeEvents delivers the final EventClosed and closes the channel.
func (t *Transport) closeEvents() {
	ev := Event{Kind: EventClosed, Err: t.Err()}
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case t.events <- ev:
	case <-timer.C:
		t.logger.Warn("closed event not delivered, consumer not reading")
	}
	close(t.events)
}

func (t *Transport) markReady() {
	t.readyOnce.Do(func() {
		t.mu.Lock()
		if t.state == stateConnecting {
			t.state = stateOpen
		}
		t.mu.Unlock()
		close(t.ready)
		t.logger.Info("session ready",
			"queued_audio", len(t.audio),
			"queued_control", len(t.control),
			"queued_tool", len(t.tool),
		)
	})
}

// writeLoop is the only goroutine that writes data frames.
func (t *Transport) writeLoop(conn *websocket.Conn, setup []byte) {
	defer t.wg.Done()
	defer t.closeConn(conn)

	if err := t.write(conn, setup); err != nil {
		t.fail(&TransportError{Op: "write", Err: err})
		return
	}

	ping := time.NewTicker(t.pingInterval())
	defer ping.Stop()

	// Hold queued sends until the server accepted the setup.
	for waiting := true; waiting; {
		select {
		case <-t.done:
			return
		case <-ping.C:
			if err := t.ping(conn); err != nil {
				t.fail(&TransportError{Op: "write", Err: err})
				return
			}
		case <-t.ready:
			waiting = false
		}
	}

	for {
		var (
			b       []byte
			counter *atomic.Int64
		)
		select {
		case <-t.done:
			return
		case <-ping.C:
			if err := t.ping(conn); err != nil {
				t.fail(&TransportError{Op: "write", Err: err})
				return
			}
			continue
		case b = <-t.control:
			counter = &t.controlSent
		case b = <-t.tool:
			counter = &t.toolSent
		case b = <-t.audio:
			counter = &t.audioSent
		}

		if err := t.write(conn, b); err != nil {
			t.fail(&TransportError{Op: "write", Err: err})
			return
		}
		counter.Add(1)
	}
}

func (t *Transport) write(conn *websocket.Conn, b []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	t.bytesOut.Add(int64(len(b)))
	return nil
}

func (t *Transport) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
}

func (t *Transport) pingInterval() time.Duration {
	if t.cfg.PingInterval > 0 {
		return t.cfg.PingInterval
	}
	return 20 * time.Second
}

func (t *Transport) closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteTimeout))
	_ = conn.Close()
}

// readLoop decodes server messages until the socket fails or closes.
func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer t.closeEvents()

	conn.SetReadLimit(maxMessageSize)
	t.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline(conn)
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Local close; the read error is expected.
			default:
				t.fail(readError(err))
				// Unblock the writer so it closes the socket.
			}
			return
		}
		t.extendReadDeadline(conn)
		t.bytesIn.Add(int64(len(data)))

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.fail(&TransportError{Op: "decode", Err: err})
			return
		}

		for _, ev := range t.translate(&msg) {
			if !t.emit(ev) {
				return
			}
		}
	}
}

func (t *Transport) extendReadDeadline(conn *websocket.Conn) {
	if t.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}
}

func readError(err error) *TransportError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &TransportError{Op: "remote_close", Code: ce.Code, Err: err}
	}
	return &TransportError{Op: "read", Err: err}
}

func (t *Transport) emit(ev Event) bool {
	select {
	case t.events <- ev:
		t.eventsIn.Add(1)
		return true
	case <-t.done:
		return false
	}
}

// translate turns one server message into events. Transcription fragments
// are accumulated per turn so each event carries the full running text.
func (t *Transport) translate(msg *serverMessage) []Event {
	var evs []Event

	if msg.SetupComplete != nil {
		t.markReady()
		evs = append(evs, Event{Kind: EventReady})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			t.remoteFresh = true
			evs = append(evs, Event{Kind: EventInterrupted})
		}
		if tr := sc.InputTranscription; tr != nil && tr.Text != "" {
			evs = append(evs, t.appendTranscript(transcript.Local, tr.Text))
		}
		if mt := sc.ModelTurn; mt != nil {
			for _, p := range mt.Parts {
				switch {
				case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/"):
					evs = append(evs, Event{Kind: EventAudio, Audio: *p.InlineData})
				case p.Text != "":
					evs = append(evs, Event{Kind: EventText, Text: p.Text})
				}
			}
		}
		if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
			evs = append(evs, t.appendTranscript(transcript.Remote, tr.Text))
		}
		if sc.TurnComplete {
			t.localFresh, t.remoteFresh = true, true
			evs = append(evs, Event{Kind: EventTurnComplete})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		evs = append(evs, Event{Kind: EventToolCall, Calls: tc.FunctionCalls})
	}

	if c := msg.ToolCallCancellation; c != nil && len(c.IDs) > 0 {
		evs = append(evs, Event{Kind: EventToolCancel, IDs: c.IDs})
	}

	if g := msg.GoAway; g != nil {
		left, err := time.ParseDuration(g.TimeLeft)
		if err != nil {
			left = 0
		}
		t.logger.Warn("server going away", "time_left", left)
		evs = append(evs, Event{Kind: EventGoAway, TimeLeft: left})
	}

	return evs
}

func (t *Transport) appendTranscript(sp transcript.Speaker, text string) Event {
	b, fresh := &t.remoteText, &t.remoteFresh
	if sp == transcript.Local {
		b, fresh = &t.localText, &t.localFresh
	}
	if *fresh {
		b.Reset()
		*fresh = false
	}
	b.WriteString(text)
	return Event{Kind: EventTranscript, Speaker: sp, Text: b.String()}
}

// Stats returns a snapshot of transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		AudioSent:         t.audioSent.Load(),
		AudioDropped:      t.audioDropped.Load(),
		ControlSent:       t.controlSent.Load(),
		ToolResponsesSent: t.toolSent.Load(),
		EventsReceived:    t.eventsIn.Load(),
		BytesOut:          t.bytesOut.Load(),
		BytesIn:           t.bytesIn.Load(),
	}
}
