//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const malgoAvailable = true

// MalgoCapturer captures microphone audio through miniaudio.
type MalgoCapturer struct {
	logger *slog.Logger
}

// NewMalgoCapturer creates a miniaudio capturer.
func NewMalgoCapturer(logger *slog.Logger) *MalgoCapturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoCapturer{logger: logger}
}

// Name returns "malgo".
func (m *MalgoCapturer) Name() string {
	return "malgo"
}

// Acquire opens the capture device and starts it.
func (m *MalgoCapturer) Acquire(ctx context.Context, c Constraints) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	actx, err := initContext(m.logger)
	if err != nil {
		return nil, classify(err)
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * channels

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = 480
	cfg.Periods = 3

	if c.Device != "" {
		info, err := findDevice(actx, malgo.Capture, c.Device)
		if err != nil {
			freeContext(actx)
			return nil, err
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	s := &malgoStream{
		logger:     m.logger,
		actx:       actx,
		frames:     make(chan AudioChunk, 4),
		frameBytes: c.FrameSamples * bytesPerFrame,
		rate:       c.SampleRate,
		channels:   channels,
	}

	s.device, err = malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(in) < n || n == 0 {
				return
			}
			s.accumulate(in[:n])
		},
	})
	if err != nil {
		freeContext(actx)
		return nil, classify(fmt.Errorf("init capture device: %w", err))
	}

	if err := s.device.Start(); err != nil {
		s.device.Uninit()
		freeContext(actx)
		return nil, classify(fmt.Errorf("start capture device: %w", err))
	}

	m.logger.Info("capture started",
		"backend", "malgo",
		"sample_rate", c.SampleRate,
		"frame_samples", c.FrameSamples,
	)
	return s, nil
}

type malgoStream struct {
	logger *slog.Logger
	actx   *malgo.AllocatedContext
	device *malgo.Device

	frameBytes int
	rate       int
	channels   int

	// pending is only touched by the device callback.
	pending []byte

	mu     sync.Mutex
	closed bool
	frames chan AudioChunk

	delivered atomic.Int64
	overruns  atomic.Int64
}

func (s *malgoStream) accumulate(data []byte) {
	s.pending = append(s.pending, data...)
	for len(s.pending) >= s.frameBytes {
		frame := s.pending[:s.frameBytes]
		chunk := AudioChunk{
			Samples:     BytesToSamples(frame),
			SampleRate:  s.rate,
			Channels:    s.channels,
			CaptureTime: time.Now(),
		}
		s.pending = s.pending[s.frameBytes:]

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		select {
		case s.frames <- chunk:
			s.delivered.Add(1)
		default:
			s.overruns.Add(1)
		}
		s.mu.Unlock()
	}
}

func (s *malgoStream) Frames() <-chan AudioChunk {
	return s.frames
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	if err := s.device.Stop(); err != nil {
		s.logger.Warn("stop capture device", "error", err)
	}
	s.device.Uninit()
	freeContext(s.actx)

	s.logger.Info("capture stopped",
		"frames", s.delivered.Load(),
		"overruns", s.overruns.Load(),
	)
	return nil
}

func (s *malgoStream) Stats() CaptureStats {
	return CaptureStats{
		Frames:   s.delivered.Load(),
		Overruns: s.overruns.Load(),
		Backend:  "malgo",
	}
}

// MalgoSink plays scheduled buffers through miniaudio. Its clock is the
// count of frames the device has pulled, so scheduled start times are
// sample accurate relative to each other.
type MalgoSink struct {
	logger *slog.Logger
	actx   *malgo.AllocatedContext
	device *malgo.Device

	rate          int
	channels      int
	bytesPerFrame int

	epoch  time.Time
	played atomic.Int64 // frames pulled by the device

	mu     sync.Mutex
	queue  []*malgoPlaying
	closed bool
}

// NewMalgoSink opens and starts the playback device.
func NewMalgoSink(cfg Config, logger *slog.Logger) (*MalgoSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	actx, err := initContext(logger)
	if err != nil {
		return nil, classify(err)
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = uint32(channels)
	dc.Alsa.NoMMap = 1
	dc.PeriodSizeInFrames = uint32(cfg.SampleRate / 100) // ~10ms of audio
	dc.Periods = 4

	if cfg.Device != "" {
		info, err := findDevice(actx, malgo.Playback, cfg.Device)
		if err != nil {
			freeContext(actx)
			return nil, err
		}
		dc.Playback.DeviceID = info.ID.Pointer()
	}

	s := &MalgoSink{
		logger:        logger,
		actx:          actx,
		rate:          cfg.SampleRate,
		channels:      channels,
		bytesPerFrame: malgo.SampleSizeInBytes(malgo.FormatS16) * channels,
	}

	s.device, err = malgo.InitDevice(actx.Context, dc, malgo.DeviceCallbacks{Data: s.render})
	if err != nil {
		freeContext(actx)
		return nil, classify(fmt.Errorf("init playback device: %w", err))
	}

	s.epoch = time.Now()
	if err := s.device.Start(); err != nil {
		s.device.Uninit()
		freeContext(actx)
		return nil, classify(fmt.Errorf("start playback device: %w", err))
	}

	logger.Info("playback started", "backend", "malgo", "sample_rate", cfg.SampleRate)
	return s, nil
}

// Name returns "malgo".
func (s *MalgoSink) Name() string {
	return "malgo"
}

// Now returns the device clock.
func (s *MalgoSink) Now() time.Time {
	return s.frameTime(s.played.Load())
}

func (s *MalgoSink) frameTime(frame int64) time.Time {
	return s.epoch.Add(time.Duration(frame) * time.Second / time.Duration(s.rate))
}

func (s *MalgoSink) frameAt(t time.Time) int64 {
	d := t.Sub(s.epoch)
	if d < 0 {
		return 0
	}
	return int64(d) * int64(s.rate) / int64(time.Second)
}

// Play queues chunk to start at the given device time.
func (s *MalgoSink) Play(chunk AudioChunk, at time.Time) (Playing, error) {
	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != s.rate {
		samples = ResampleFrames(samples, max(chunk.Channels, 1), chunk.SampleRate, s.rate)
	}
	if chunk.Channels != 0 && chunk.Channels != s.channels {
		samples = ConvertChannels(samples, chunk.Channels, s.channels)
	}

	start := s.frameAt(at)
	if now := s.played.Load(); start < now {
		start = now
	}

	p := &malgoPlaying{
		sink:  s,
		data:  SamplesToBytes(samples),
		start: start,
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	i := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].start > start })
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = p
	return p, nil
}

// render mixes every queued buffer that overlaps the device period.
func (s *MalgoSink) render(out, _ []byte, frameCount uint32) {
	for i := range out {
		out[i] = 0
	}

	periodStart := s.played.Load()
	periodEnd := periodStart + int64(frameCount)

	s.mu.Lock()
	var finished []*malgoPlaying
	keep := s.queue[:0]
	for _, p := range s.queue {
		if p.start >= periodEnd {
			keep = append(keep, p)
			continue
		}
		offFrames := p.start - periodStart
		if offFrames < 0 {
			offFrames = 0
		}
		dst := out[int(offFrames)*s.bytesPerFrame:]
		n := mixPCM16(dst, p.data[p.pos:])
		p.pos += n
		if p.pos >= len(p.data) {
			finished = append(finished, p)
			continue
		}
		keep = append(keep, p)
	}
	s.queue = keep
	s.mu.Unlock()

	s.played.Store(periodEnd)
	for _, p := range finished {
		p.finish()
	}
}

// mixPCM16 adds src into dst with saturation and returns bytes consumed.
func mixPCM16(dst, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	n &^= 1
	for i := 0; i < n; i += 2 {
		a := int32(int16(dst[i]) | int16(dst[i+1])<<8)
		b := int32(int16(src[i]) | int16(src[i+1])<<8)
		v := a + b
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = byte(v)
		dst[i+1] = byte(v >> 8)
	}
	return n
}

func (s *MalgoSink) remove(p *malgoPlaying) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Close stops every buffer and releases the device.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, p := range queue {
		p.finish()
	}
	if err := s.device.Stop(); err != nil {
		s.logger.Warn("stop playback device", "error", err)
	}
	s.device.Uninit()
	freeContext(s.actx)
	s.logger.Info("playback stopped")
	return nil
}

type malgoPlaying struct {
	sink  *MalgoSink
	data  []byte
	pos   int // guarded by sink.mu
	start int64

	once sync.Once
	done chan struct{}
}

func (p *malgoPlaying) Stop() {
	p.sink.remove(p)
	p.finish()
}

func (p *malgoPlaying) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *malgoPlaying) Done() <-chan struct{} {
	return p.done
}

// ListDevices enumerates capture and playback endpoints.
func ListDevices(logger *slog.Logger) ([]DeviceInfo, error) {
	actx, err := initContext(logger)
	if err != nil {
		return nil, classify(err)
	}
	defer freeContext(actx)

	var out []DeviceInfo
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := actx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		for _, info := range infos {
			out = append(out, DeviceInfo{
				Name:      info.Name(),
				Capture:   kind == malgo.Capture,
				IsDefault: info.IsDefault != 0,
			})
		}
	}
	return out, nil
}

func initContext(logger *slog.Logger) (*malgo.AllocatedContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
}

func freeContext(actx *malgo.AllocatedContext) {
	_ = actx.Uninit()
	actx.Free()
}

func findDevice(actx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (malgo.DeviceInfo, error) {
	infos, err := actx.Devices(kind)
	if err != nil {
		return malgo.DeviceInfo{}, classify(err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("%w: no device matching %q", ErrDeviceUnavailable, name)
}

// classify maps backend failures to the package's device errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

var (
	_ Capturer      = (*MalgoCapturer)(nil)
	_ CaptureStream = (*malgoStream)(nil)
	_ Sink          = (*MalgoSink)(nil)
	_ Playing       = (*malgoPlaying)(nil)
)
