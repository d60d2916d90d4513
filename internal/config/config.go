// Package config provides configuration loading for go-live commands.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables (a .env file in the working directory is
// loaded first if present). Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default model and audio settings.
const (
	DefaultLiveModel       = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultToolModel       = "gemini-2.5-flash"
	DefaultVoice           = "Zephyr"
	DefaultCaptureRate     = 16000
	DefaultPlaybackRate    = 24000
	DefaultFrameSamples    = 4096
	DefaultWebPort         = "8080"
	DefaultConnectTimeout  = 15 * time.Second
	DefaultToolJobTimeout  = 2 * time.Minute
	DefaultAudioQueueDepth = 8
)

// ErrMissingAPIKey is returned when neither an API key nor OAuth is configured.
var ErrMissingAPIKey = errors.New("config: GOOGLE_API_KEY is required (or set live.use_oauth)")

// Config is the full runtime configuration.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Audio AudioConfig `yaml:"audio"`
	Live  LiveConfig  `yaml:"live"`
	Tools ToolsConfig `yaml:"tools"`
	Web   WebConfig   `yaml:"web"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AudioConfig configures capture and playback devices.
type AudioConfig struct {
	Backend        string `yaml:"backend"`
	CaptureRate    int    `yaml:"capture_rate"`
	PlaybackRate   int    `yaml:"playback_rate"`
	FrameSamples   int    `yaml:"frame_samples"`
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`
}

// LiveConfig configures the live inference endpoint.
type LiveConfig struct {
	APIKey           string        `yaml:"api_key"`
	UseOAuth         bool          `yaml:"use_oauth"`
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model"`
	Voice            string        `yaml:"voice"`
	SystemPrompt     string        `yaml:"system_prompt"`
	InputTranscript  bool          `yaml:"input_transcription"`
	OutputTranscript bool          `yaml:"output_transcription"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	AudioQueueDepth  int           `yaml:"audio_queue_depth"`
	LocationHint     bool          `yaml:"location_hint"`
}

// ToolsConfig configures the secondary generation endpoint.
type ToolsConfig struct {
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

// WebConfig configures the dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Audio: AudioConfig{
			Backend:      "auto",
			CaptureRate:  DefaultCaptureRate,
			PlaybackRate: DefaultPlaybackRate,
			FrameSamples: DefaultFrameSamples,
		},
		Live: LiveConfig{
			Model:            DefaultLiveModel,
			Voice:            DefaultVoice,
			SystemPrompt:     "You are a helpful, concise voice assistant.",
			InputTranscript:  true,
			OutputTranscript: true,
			ConnectTimeout:   DefaultConnectTimeout,
			AudioQueueDepth:  DefaultAudioQueueDepth,
		},
		Tools: ToolsConfig{
			Model:       DefaultToolModel,
			Temperature: 0.2,
			JobTimeout:  DefaultToolJobTimeout,
		},
		Web: WebConfig{Port: DefaultWebPort},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and
// the environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Audio.Backend, "AUDIO_BACKEND")
	setInt(&c.Audio.FrameSamples, "AUDIO_FRAME_SAMPLES")
	setString(&c.Audio.CaptureDevice, "AUDIO_CAPTURE_DEVICE")
	setString(&c.Audio.PlaybackDevice, "AUDIO_PLAYBACK_DEVICE")

	setString(&c.Live.APIKey, "GOOGLE_API_KEY")
	setBool(&c.Live.UseOAuth, "LIVE_USE_OAUTH")
	setString(&c.Live.URL, "LIVE_URL")
	setString(&c.Live.Model, "LIVE_MODEL")
	setString(&c.Live.Voice, "LIVE_VOICE")
	setString(&c.Live.SystemPrompt, "LIVE_SYSTEM_PROMPT")
	setBool(&c.Live.LocationHint, "LIVE_LOCATION_HINT")

	setString(&c.Tools.Model, "TOOLS_MODEL")

	setString(&c.Web.Port, "WEB_PORT")
	setBool(&c.Web.Enabled, "WEB_ENABLED")
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Live.APIKey == "" && !c.Live.UseOAuth {
		return ErrMissingAPIKey
	}
	if c.Live.Model == "" {
		return errors.New("config: live.model is required")
	}
	if c.Audio.CaptureRate <= 0 || c.Audio.PlaybackRate <= 0 {
		return errors.New("config: audio sample rates must be positive")
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("config: audio.frame_samples must be positive, got %d", c.Audio.FrameSamples)
	}
	if c.Tools.Model == "" {
		return errors.New("config: tools.model is required")
	}
	return nil
}
