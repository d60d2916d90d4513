// Package session drives one live audio conversation at a time.
//
// A Controller wires the capture device, the live transport, the playback
// scheduler, the transcript aggregator and the tool dispatcher together and
// exposes the lifecycle as a small state machine:
//
//	Idle → Connecting → Live → Closing → Closed
//	                 ↘ Errored (capture or transport failure)
//
// Closed and Errored are terminal until Start is called again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/codec"
	"github.com/teslashibe/go-live/pkg/live"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/transcript"
)

// Transport is the live connection a session drives.
// *live.Transport and *live.Mock satisfy it.
type Transport interface {
	Open(ctx context.Context, setup live.Setup) error
	SendAudio(w codec.WireChunk) error
	SendControl(ctx context.Context, c live.Control) error
	SendToolResponse(ctx context.Context, resps ...live.FunctionResponse) error
	Events() <-chan live.Event
	Close() error
	Stats() live.Stats
}

// TransportFactory creates a fresh transport for each session.
type TransportFactory func() (Transport, error)

// Stats is a snapshot of the current or most recent session.
type Stats struct {
	SessionID string         `json:"session_id,omitempty"`
	Phase     Phase          `json:"phase"`
	Uptime    time.Duration  `json:"uptime"`
	Counters  Counters       `json:"counters"`
	LastTurn  TurnMetrics    `json:"last_turn"`
	AvgTurn   TurnMetrics    `json:"avg_turn"`
	Playback  playback.Stats `json:"playback"`
	Transport live.Stats     `json:"transport"`
	Tools     tools.Stats    `json:"tools"`
	Capture   string         `json:"capture_backend"`
}

// run holds the resources of one session.
type run struct {
	id      string
	logger  *slog.Logger
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	codec   *codec.Codec

	mu         sync.Mutex
	stream     audioio.CaptureStream
	transport  Transport
	dispatcher *tools.Dispatcher
	running    bool

	pumpWG   sync.WaitGroup
	loopDone chan struct{}
	stopping atomic.Bool
	stopped  chan struct{}
}

// attach runs fn under the run lock unless teardown already began.
func (r *run) attach(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// Controller owns the session lifecycle.
type Controller struct {
	cfg          *Config
	capturer     audioio.Capturer
	newTransport TransportFactory
	tools        []tools.Tool
	observer     func(tools.Invocation)
	logger       *slog.Logger

	scheduler  *playback.Scheduler
	aggregator *transcript.Aggregator
	metrics    *MetricsCollector

	mu      sync.Mutex
	state   State
	cur     *run
	last    *run
	subs    map[int]chan State
	nextSub int
}

// NewController creates an idle controller.
func NewController(capturer audioio.Capturer, sink audioio.Sink, newTransport TransportFactory, toolset []tools.Tool, opts ...Option) *Controller {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "session")

	return &Controller{
		cfg:          cfg,
		capturer:     capturer,
		newTransport: newTransport,
		tools:        toolset,
		logger:       logger,
		scheduler:    playback.New(sink, playback.WithLogger(cfg.Logger)),
		aggregator:   transcript.New(),
		metrics:      NewMetricsCollector(),
		state:        State{Phase: PhaseIdle, Since: time.Now()},
		subs:         make(map[int]chan State),
	}
}

// OnInvocation registers a func called on every tool status change.
// It must be set before Start and must not block.
func (c *Controller) OnInvocation(fn func(tools.Invocation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Start begins a new session. It returns once the microphone is acquired
// and the transport is connected; the phase moves to Live when the server
// accepts the setup.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Phase.Startable() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	r := c.newRun()
	c.cur, c.last = r, r
	c.setStateLocked(PhaseConnecting, "", r.id)
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session start",
		trace.WithAttributes(attribute.String("session.id", r.id)))
	defer span.End()

	// Stop aborts a start in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.ctx, cancel)()

	c.aggregator.Reset()
	c.scheduler.Reset(time.Time{})
	c.metrics.Reset()

	if err := c.start(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		r.logger.Error("session start failed", "error", err)
		c.teardown(r, err, false)
		return err
	}

	r.logger.Info("session started",
		"model", c.cfg.Model,
		"voice", c.cfg.Voice,
		"capture", c.capturer.Name(),
	)
	return nil
}

func (c *Controller) newRun() *run {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		id:       id,
		logger:   c.logger.With("session", id),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		codec:    codec.New(),
		loopDone: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (c *Controller) start(ctx context.Context, r *run) error {
	stream, err := c.capturer.Acquire(ctx, c.cfg.Capture)
	if err != nil {
		if r.ctx.Err() != nil {
			return ErrSessionClosed
		}
		return fmt.Errorf("session: acquire microphone: %w", err)
	}
	if !r.attach(func() { r.stream = stream }) {
		_ = stream.Close()
		return ErrSessionClosed
	}

	tr, err := c.newTransport()
	if err != nil {
		return fmt.Errorf("session: create transport: %w", err)
	}

	c.mu.Lock()
	observer := c.observer
	c.mu.Unlock()
	disp := tools.NewDispatcher(responder(tr), c.tools,
		tools.WithLogger(r.logger),
		tools.WithJobTimeout(c.cfg.ToolTimeout),
		tools.WithObserver(observer),
	)
	if !r.attach(func() { r.transport, r.dispatcher = tr, disp }) {
		disp.Close()
		_ = tr.Close()
		return ErrSessionClosed
	}

	setup := c.cfg.setup(c.declarations())
	setup.SystemInstruction = c.withLocation(ctx, r.logger, setup.SystemInstruction)

	if err := tr.Open(ctx, setup); err != nil {
		if r.ctx.Err() != nil {
			return ErrSessionClosed
		}
		return fmt.Errorf("session: open transport: %w", err)
	}

	if !r.attach(func() {
		r.running = true
		r.pumpWG.Add(1)
	}) {
		return ErrSessionClosed
	}
	go c.capturePump(r)
	go c.eventLoop(r)
	return nil
}

func responder(tr Transport) tools.Responder {
	return tools.ResponderFunc(func(ctx context.Context, resp tools.Response) error {
		return tr.SendToolResponse(ctx, live.FunctionResponse{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Output,
		})
	})
}

func (c *Controller) declarations() []live.FunctionDeclaration {
	decls := make([]live.FunctionDeclaration, 0, len(c.tools))
	for _, t := range c.tools {
		decls = append(decls, live.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

// withLocation appends the location hint. Failures only cost the hint.
func (c *Controller) withLocation(ctx context.Context, logger *slog.Logger, preamble string) string {
	if c.cfg.Locator == nil {
		return preamble
	}
	if c.cfg.LocatorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.LocatorTimeout)
		defer cancel()
	}
	loc, err := c.cfg.Locator.Locate(ctx)
	if err != nil {
		logger.Warn("location hint unavailable", "error", err)
		return preamble
	}
	hint := fmt.Sprintf("The user is located near %s.", loc)
	if preamble == "" {
		return hint
	}
	return preamble + "\n\n" + hint
}

// capturePump encodes microphone frames and queues them on the transport.
// It never blocks on the network.
func (c *Controller) capturePump(r *run) {
	defer r.pumpWG.Done()

	frames := r.stream.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case chunk, ok := <-frames:
			if !ok {
				if r.ctx.Err() == nil {
					r.logger.Error("capture stream ended")
					go c.teardown(r, fmt.Errorf("session: capture ended: %w", audioio.ErrDeviceUnavailable), false)
				}
				return
			}
			c.metrics.Count(func(k *Counters) { k.FramesCaptured++ })

			w, err := r.codec.Encode(chunk)
			if err != nil {
				c.metrics.Count(func(k *Counters) { k.EncodeErrors++ })
				r.logger.Debug("frame not encoded", "error", err)
				continue
			}
			if err := r.transport.SendAudio(w); err != nil {
				if errors.Is(err, live.ErrSessionClosed) {
					return
				}
				c.metrics.Count(func(k *Counters) { k.SendErrors++ })
				r.logger.Debug("frame not sent", "error", err)
				continue
			}
			c.metrics.Count(func(k *Counters) { k.FramesSent++ })
		}
	}
}

// eventLoop processes inbound events one at a time in arrival order.
func (c *Controller) eventLoop(r *run) {
	defer close(r.loopDone)

	for ev := range r.transport.Events() {
		if ev.Kind == live.EventClosed {
			c.transportClosed(r, ev.Err)
			return
		}
		c.handle(r, ev)
	}
	c.transportClosed(r, nil)
}

func (c *Controller) transportClosed(r *run, err error) {
	if r.ctx.Err() != nil {
		return
	}
	if err == nil {
		err = live.ErrSessionClosed
	}
	r.logger.Error("transport closed unexpectedly", "error", err)
	c.teardown(r, err, true)
}

func (c *Controller) handle(r *run, ev live.Event) {
	switch ev.Kind {
	case live.EventReady:
		c.mu.Lock()
		if c.cur == r && c.state.Phase == PhaseConnecting {
			c.setStateLocked(PhaseLive, "", r.id)
		}
		c.mu.Unlock()
		r.logger.Info("session live")

	case live.EventAudio:
		chunk, err := codec.Decode(ev.Audio, c.cfg.PlaybackRate, c.cfg.PlaybackChannels)
		if err != nil {
			c.metrics.Count(func(k *Counters) { k.DecodeErrors++ })
			r.logger.Warn("dropping undecodable audio", "error", err)
			return
		}
		c.metrics.MarkAudioIn()
		if _, err := c.scheduler.Schedule(chunk); err != nil {
			r.logger.Warn("playback failed", "error", err)
		}

	case live.EventText:
		r.logger.Debug("model text", "text", ev.Text)

	case live.EventTranscript:
		c.aggregator.Update(ev.Speaker, ev.Text)
		if ev.Speaker == transcript.Local {
			c.metrics.MarkSpeech()
		}

	case live.EventToolCall:
		for _, fc := range ev.Calls {
			c.metrics.Count(func(k *Counters) { k.ToolCalls++ })
			r.dispatcher.Dispatch(tools.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}

	case live.EventToolCancel:
		n := r.dispatcher.Cancel(ev.IDs...)
		c.metrics.Count(func(k *Counters) { k.ToolCancels += int64(n) })

	case live.EventInterrupted:
		n := c.scheduler.Interrupt()
		c.metrics.MarkInterrupted()
		r.logger.Debug("interrupted", "stopped_buffers", n)

	case live.EventTurnComplete:
		c.metrics.MarkTurnComplete()
		if last, ok := c.metrics.Last(); ok {
			r.logger.Info("turn complete", "latency", last.FormatLatency())
		}

	case live.EventGoAway:
		r.logger.Warn("server will end the session", "time_left", ev.TimeLeft)
	}
}

// SendText sends a typed user turn on the live session and shows it as the
// local caption.
func (c *Controller) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	r, phase := c.cur, c.state.Phase
	c.mu.Unlock()
	if r == nil || phase != PhaseLive {
		return ErrNotLive
	}
	r.mu.Lock()
	tr := r.transport
	r.mu.Unlock()
	if tr == nil {
		return ErrNotLive
	}

	if err := tr.SendControl(ctx, live.Control{Text: text, TurnComplete: true}); err != nil {
		if errors.Is(err, live.ErrSessionClosed) {
			return ErrSessionClosed
		}
		return fmt.Errorf("session: send text: %w", err)
	}
	c.aggregator.Update(transcript.Local, text)
	r.logger.Debug("text turn sent", "chars", len(text))
	return nil
}

// Stop ends the current session. It is a no-op when no session is active
// and returns once every resource is released.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	phase := c.state.Phase
	c.mu.Unlock()

	if r == nil || phase.Startable() {
		return nil
	}
	c.teardown(r, nil, false)
	return nil
}

// teardown releases r. cause is nil for a local stop. fromLoop is set when
// called by the event loop, which must not wait for itself.
func (c *Controller) teardown(r *run, cause error, fromLoop bool) {
	if !r.stopping.CompareAndSwap(false, true) {
		if !fromLoop {
			<-r.stopped
		}
		return
	}
	defer close(r.stopped)

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	c.mu.Lock()
	if c.cur == r && (cause == nil || c.state.Phase == PhaseLive) {
		c.setStateLocked(PhaseClosing, reason, r.id)
	}
	c.mu.Unlock()

	r.mu.Lock()
	r.cancel()
	stream, tr, disp, running := r.stream, r.transport, r.dispatcher, r.running
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	// Jobs keep running; their results are discarded.
	if disp != nil {
		disp.Close()
	}
	if tr != nil {
		_ = tr.Close()
	}
	if running {
		r.pumpWG.Wait()
		if !fromLoop {
			<-r.loopDone
		}
	}
	stopped := c.scheduler.StopAll()

	final := PhaseClosed
	if cause != nil {
		final = PhaseErrored
	}
	c.mu.Lock()
	if c.cur == r {
		c.cur = nil
		c.setStateLocked(final, reason, r.id)
	}
	c.mu.Unlock()

	r.logger.Info("session ended",
		"phase", final,
		"reason", reason,
		"duration", time.Since(r.started).Round(time.Millisecond),
		"stopped_buffers", stopped,
	)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel of state changes. Slow readers only see the
// latest state. The cancel func is idempotent.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 1)
	ch <- c.state
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Controller) setStateLocked(p Phase, reason, id string) {
	c.state = State{Phase: p, Reason: reason, SessionID: id, Since: time.Now()}
	c.logger.Debug("state changed", "phase", p, "session", id)
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.state
	}
}

// Transcript returns the latest partial transcripts.
func (c *Controller) Transcript() transcript.State {
	return c.aggregator.State()
}

// SubscribeTranscript returns a channel of transcript updates.
func (c *Controller) SubscribeTranscript() (<-chan transcript.State, func()) {
	return c.aggregator.Subscribe()
}

// Invocations returns the tool invocations of the current or last session.
func (c *Controller) Invocations() []tools.Invocation {
	if d := c.dispatcher(); d != nil {
		return d.Invocations()
	}
	return nil
}

// Tools returns the advertised tool set.
func (c *Controller) Tools() []tools.Tool {
	return c.tools
}

func (c *Controller) dispatcher() *tools.Dispatcher {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatcher
}

// Stats returns counters for the current or last session.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	r, st := c.last, c.state
	c.mu.Unlock()

	s := Stats{
		Phase:    st.Phase,
		Counters: c.metrics.Counters(),
		AvgTurn:  c.metrics.Average(),
		Playback: c.scheduler.Stats(),
		Capture:  c.capturer.Name(),
	}
	s.LastTurn, _ = c.metrics.Last()
	if r == nil {
		return s
	}

	s.SessionID = r.id
	if st.Phase == PhaseConnecting || st.Phase == PhaseLive {
		s.Uptime = time.Since(r.started)
	}
	r.mu.Lock()
	tr, disp := r.transport, r.dispatcher
	r.mu.Unlock()
	if tr != nil {
		s.Transport = tr.Stats()
	}
	if disp != nil {
		s.Tools = disp.Stats()
	}
	return s
}

// Wait blocks until tool jobs of the last session have returned.
func (c *Controller) Wait() {
	if d := c.dispatcher(); d != nil {
		d.Wait()
	}
}
