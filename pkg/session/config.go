package session

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/live"
)

// Config holds controller configuration.
type Config struct {
	// Live endpoint setup. Tools are filled in from the controller's tool set.
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool

	// Audio formats
	Capture          audioio.Constraints
	PlaybackRate     int
	PlaybackChannels int

	// Tool jobs
	ToolTimeout time.Duration

	// Location hint appended to the preamble. Nil disables it.
	Locator        Locator
	LocatorTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the controller.
type Option func(*Config)

// WithModel sets the live model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithVoice sets the prebuilt voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithSystemInstruction sets the preamble.
func WithSystemInstruction(s string) Option {
	return func(c *Config) { c.SystemInstruction = s }
}

// WithTranscription toggles input and output transcription.
func WithTranscription(input, output bool) Option {
	return func(c *Config) {
		c.InputTranscription = input
		c.OutputTranscription = output
	}
}

// WithCapture sets the capture constraints.
func WithCapture(cons audioio.Constraints) Option {
	return func(c *Config) { c.Capture = cons }
}

// WithPlayback sets the format response audio is decoded to.
func WithPlayback(rate, channels int) Option {
	return func(c *Config) {
		c.PlaybackRate = rate
		c.PlaybackChannels = channels
	}
}

// WithToolTimeout bounds each tool job.
func WithToolTimeout(d time.Duration) Option {
	return func(c *Config) { c.ToolTimeout = d }
}

// WithLocator enables the location hint.
func WithLocator(l Locator) Option {
	return func(c *Config) { c.Locator = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults matching the live endpoint's native formats.
func DefaultConfig() *Config {
	capture := audioio.DefaultCaptureConfig()
	playback := audioio.DefaultPlaybackConfig()
	return &Config{
		Model:               "models/gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
		Capture:             capture.Constraints(),
		PlaybackRate:        playback.SampleRate,
		PlaybackChannels:    playback.Channels,
		ToolTimeout:         2 * time.Minute,
		LocatorTimeout:      3 * time.Second,
		Logger:              slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) setup(tools []live.FunctionDeclaration) live.Setup {
	return live.Setup{
		Model:               c.Model,
		Voice:               c.Voice,
		SystemInstruction:   c.SystemInstruction,
		Tools:               tools,
		InputTranscription:  c.InputTranscription,
		OutputTranscription: c.OutputTranscription,
	}
}
