package live

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// DefaultURL is the Gemini Live BidiGenerateContent endpoint.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config holds transport configuration.
type Config struct {
	// Endpoint
	URL         string
	APIKey      string
	TokenSource oauth2.TokenSource
	Dialer      Dialer

	// Queue depths. Audio drops its oldest entry when full; control and
	// tool responses block the sender instead.
	AudioQueue   int
	ControlQueue int
	ToolQueue    int
	EventBuffer  int

	// Timeouts
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the transport.
type Option func(*Config)

// WithURL overrides the endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithAPIKey authenticates with an API key query parameter.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithTokenSource authenticates with OAuth2 bearer tokens.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) { c.TokenSource = ts }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithAudioQueue sets the audio queue depth.
func WithAudioQueue(n int) Option {
	return func(c *Config) { c.AudioQueue = n }
}

// WithControlQueue sets the control and tool-response queue depths.
func WithControlQueue(n int) Option {
	return func(c *Config) {
		c.ControlQueue = n
		c.ToolQueue = n
	}
}

// WithHandshakeTimeout bounds the websocket dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

// WithReadTimeout sets how long the connection may stay silent.
// Zero disables the deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:              DefaultURL,
		AudioQueue:       8,
		ControlQueue:     16,
		ToolQueue:        16,
		EventBuffer:      64,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      90 * time.Second,
		PingInterval:     20 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.TokenSource == nil {
		return ErrNoCredentials
	}
	return nil
}
