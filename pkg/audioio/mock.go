package audioio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockCapturer is a mock microphone for testing.
// It generates synthetic audio (silence or sine wave) at the frame cadence.
type MockCapturer struct {
	logger *slog.Logger

	mu       sync.Mutex
	streams  []*MockStream
	acquired atomic.Int64

	// Synthetic audio generation
	frequency   float64 // Hz, 0 = silence
	amplitude   float64 // 0.0 to 1.0
	interval    time.Duration
	acquireErr  error
	acquireHook func()
}

// MockCapturerOption configures a MockCapturer.
type MockCapturerOption func(*MockCapturer)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockCapturerOption {
	return func(m *MockCapturer) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithAcquireError makes every Acquire fail with err.
func WithAcquireError(err error) MockCapturerOption {
	return func(m *MockCapturer) {
		m.acquireErr = err
	}
}

// WithAcquireHook runs fn inside Acquire before the stream starts, like a
// slow device open or a permission prompt.
func WithAcquireHook(fn func()) MockCapturerOption {
	return func(m *MockCapturer) {
		m.acquireHook = fn
	}
}

// WithFrameInterval overrides the real-time frame cadence.
func WithFrameInterval(d time.Duration) MockCapturerOption {
	return func(m *MockCapturer) {
		m.interval = d
	}
}

// NewMockCapturer creates a new mock capturer.
func NewMockCapturer(logger *slog.Logger, opts ...MockCapturerOption) *MockCapturer {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockCapturer{
		logger:    logger,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire starts a synthetic capture stream.
func (m *MockCapturer) Acquire(ctx context.Context, c Constraints) (CaptureStream, error) {
	m.acquired.Add(1)
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.acquireHook != nil {
		m.acquireHook()
	}

	interval := m.interval
	if interval <= 0 && c.SampleRate > 0 {
		interval = time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	s := &MockStream{
		c:         c,
		frequency: m.frequency,
		amplitude: m.amplitude,
		frames:    make(chan AudioChunk, 4),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.generateLoop(interval)

	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()

	m.logger.Info("mock capture started",
		"sample_rate", c.SampleRate,
		"frame_samples", c.FrameSamples,
		"frequency", m.frequency,
	)
	return s, nil
}

// Name returns "mock".
func (m *MockCapturer) Name() string {
	return "mock"
}

// Acquired returns how many times Acquire was called.
func (m *MockCapturer) Acquired() int {
	return int(m.acquired.Load())
}

// LastStream returns the most recently acquired stream, or nil.
func (m *MockCapturer) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// MockStream is a synthetic capture stream.
type MockStream struct {
	c         Constraints
	frequency float64
	amplitude float64
	phase     float64

	frames    chan AudioChunk
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	delivered atomic.Int64
	overruns  atomic.Int64
}

func (s *MockStream) generateLoop(interval time.Duration) {
	defer close(s.done)
	defer close(s.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			chunk := s.generateChunk()
			chunk.CaptureTime = now
			select {
			case s.frames <- chunk:
				s.delivered.Add(1)
			default:
				// Reader is behind, drop the frame (overrun)
				s.overruns.Add(1)
			}
		}
	}
}

func (s *MockStream) generateChunk() AudioChunk {
	channels := s.c.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int16, s.c.FrameSamples*channels)

	if s.frequency > 0 && s.c.SampleRate > 0 {
		for i := 0; i < s.c.FrameSamples; i++ {
			sample := s.amplitude * math.Sin(2*math.Pi*s.frequency*s.phase/float64(s.c.SampleRate))
			v := int16(sample * 32767)
			for ch := 0; ch < channels; ch++ {
				samples[i*channels+ch] = v
			}
			s.phase++
			if s.phase >= float64(s.c.SampleRate) {
				s.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: s.c.SampleRate,
		Channels:   channels,
	}
}

// Frames returns the frame channel.
func (s *MockStream) Frames() <-chan AudioChunk {
	return s.frames
}

// Close stops generation and closes the frame channel.
func (s *MockStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	<-s.done
	return nil
}

// Closed reports whether Close has been called.
func (s *MockStream) Closed() bool {
	return s.closed.Load()
}

// Stats returns stream statistics.
func (s *MockStream) Stats() CaptureStats {
	return CaptureStats{
		Frames:   s.delivered.Load(),
		Overruns: s.overruns.Load(),
		Backend:  "mock",
	}
}

// Scheduled records one Play call on a MockSink.
type Scheduled struct {
	Chunk   AudioChunk
	At      time.Time
	Playing *MockPlaying
}

// MockSink is a mock speaker for testing.
// Its clock only moves when the test calls Advance or SetNow, and buffers
// finish when the clock passes their end or FinishAll is called.
type MockSink struct {
	logger *slog.Logger

	mu        sync.Mutex
	now       time.Time
	scheduled []Scheduled
	closed    bool
	playErr   error
}

// NewMockSink creates a new mock sink whose clock starts at start.
func NewMockSink(start time.Time, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{logger: logger, now: start}
}

// SetPlayError makes subsequent Play calls fail with err.
func (m *MockSink) SetPlayError(err error) {
	m.mu.Lock()
	m.playErr = err
	m.mu.Unlock()
}

// Play records the chunk and returns a handle.
func (m *MockSink) Play(chunk AudioChunk, at time.Time) (Playing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.playErr != nil {
		return nil, m.playErr
	}

	p := &MockPlaying{end: at.Add(chunk.Duration()), done: make(chan struct{})}
	m.scheduled = append(m.scheduled, Scheduled{Chunk: chunk, At: at, Playing: p})
	return p, nil
}

// Now returns the mock clock.
func (m *MockSink) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow sets the mock clock and finishes any buffers that ended.
func (m *MockSink) SetNow(t time.Time) {
	m.mu.Lock()
	m.now = t
	finished := m.finishedLocked()
	m.mu.Unlock()

	for _, p := range finished {
		p.finish()
	}
}

// Advance moves the mock clock forward by d.
func (m *MockSink) Advance(d time.Duration) {
	m.SetNow(m.Now().Add(d))
}

func (m *MockSink) finishedLocked() []*MockPlaying {
	var out []*MockPlaying
	for _, s := range m.scheduled {
		if !s.Playing.end.After(m.now) {
			out = append(out, s.Playing)
		}
	}
	return out
}

// FinishAll completes every outstanding buffer.
func (m *MockSink) FinishAll() {
	for _, s := range m.Scheduled() {
		s.Playing.finish()
	}
}

// Scheduled returns a copy of all Play calls so far.
func (m *MockSink) Scheduled() []Scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Scheduled, len(m.scheduled))
	copy(out, m.scheduled)
	return out
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close stops every buffer and rejects further Play calls.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	scheduled := m.scheduled
	m.mu.Unlock()

	for _, s := range scheduled {
		s.Playing.Stop()
	}
	m.logger.Info("mock audio sink closed")
	return nil
}

// MockPlaying is the handle returned by MockSink.Play.
type MockPlaying struct {
	end     time.Time
	once    sync.Once
	done    chan struct{}
	stopped atomic.Bool
}

// Stop cancels the buffer.
func (p *MockPlaying) Stop() {
	p.once.Do(func() {
		p.stopped.Store(true)
		close(p.done)
	})
}

func (p *MockPlaying) finish() {
	p.once.Do(func() { close(p.done) })
}

// Done is closed when the buffer ended or was stopped.
func (p *MockPlaying) Done() <-chan struct{} {
	return p.done
}

// Stopped reports whether the buffer was cancelled rather than played out.
func (p *MockPlaying) Stopped() bool {
	return p.stopped.Load()
}

var (
	_ Capturer      = (*MockCapturer)(nil)
	_ CaptureStream = (*MockStream)(nil)
	_ Sink          = (*MockSink)(nil)
	_ Playing       = (*MockPlaying)(nil)
)
