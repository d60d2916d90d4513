package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 16000, cfg.Audio.CaptureRate)
	assert.Equal(t, 24000, cfg.Audio.PlaybackRate)
	assert.Equal(t, 4096, cfg.Audio.FrameSamples)
	assert.Equal(t, DefaultVoice, cfg.Live.Voice)
	assert.True(t, cfg.Live.InputTranscript)
	assert.True(t, cfg.Live.OutputTranscript)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GOOGLE_API_KEY":      "k",
		"LIVE_VOICE":          "Puck",
		"AUDIO_FRAME_SAMPLES": "2048",
		"LIVE_USE_OAUTH":      "true",
		"AUDIO_BACKEND":       "mock",
		"WEB_ENABLED":         "not-a-bool",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "k", cfg.Live.APIKey)
	assert.Equal(t, "Puck", cfg.Live.Voice)
	assert.Equal(t, 2048, cfg.Audio.FrameSamples)
	assert.True(t, cfg.Live.UseOAuth)
	assert.Equal(t, "mock", cfg.Audio.Backend)
	assert.False(t, cfg.Web.Enabled, "unparseable bool leaves default")
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.yaml")
	data := []byte(`
live:
  voice: Kore
  connect_timeout: 5s
tools:
  model: gemini-test
audio:
  frame_samples: 1024
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Live.ConnectTimeout)
	assert.Equal(t, "gemini-test", cfg.Tools.Model)
	assert.Equal(t, 1024, cfg.Audio.FrameSamples)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultPlaybackRate, cfg.Audio.PlaybackRate)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid with key", func(c *Config) { c.Live.APIKey = "k" }, false},
		{"valid with oauth", func(c *Config) { c.Live.UseOAuth = true }, false},
		{"missing credentials", func(c *Config) {}, true},
		{"bad frame size", func(c *Config) { c.Live.APIKey = "k"; c.Audio.FrameSamples = 0 }, true},
		{"missing tool model", func(c *Config) { c.Live.APIKey = "k"; c.Tools.Model = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
