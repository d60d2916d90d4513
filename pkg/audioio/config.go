// Package audioio provides audio capture and scheduled playback devices.
//
// This package supports two backends:
//   - malgo (miniaudio) - real microphone and speaker on Linux, macOS and Windows
//   - Mock - CI/Testing without hardware
//
// The backend is selected by configuration; "auto" picks malgo when the
// binary was built with cgo and falls back to the mock otherwise.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendMalgo uses miniaudio through github.com/gen2brain/malgo.
	BackendMalgo Backend = "malgo"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 for capture, 24000 for playback.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameSamples is the number of samples per channel in one captured frame.
	// Default: 4096 (256ms at 16kHz)
	FrameSamples int `yaml:"frame_samples" json:"frame_samples"`

	// Device is a substring of the device name to open; empty selects the
	// system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultCaptureConfig returns the microphone defaults expected by the
// live endpoint (16kHz mono PCM16).
func DefaultCaptureConfig() Config {
	return Config{
		Backend:      BackendAuto,
		SampleRate:   16000,
		Channels:     1,
		FrameSamples: 4096,
	}
}

// DefaultPlaybackConfig returns the speaker defaults matching the live
// endpoint's output (24kHz mono PCM16).
func DefaultPlaybackConfig() Config {
	return Config{
		Backend:      BackendAuto,
		SampleRate:   24000,
		Channels:     1,
		FrameSamples: 2400,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("frame_samples must be positive, got %d", c.FrameSamples)
	}
	return nil
}

// FrameDuration returns the wall-clock length of one frame.
func (c *Config) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// FrameBytes returns the size of a frame in bytes (assuming int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSamples * c.Channels * 2 // 2 bytes per int16 sample
}

// Constraints returns the capture constraints described by this config.
func (c *Config) Constraints() Constraints {
	return Constraints{
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		FrameSamples: c.FrameSamples,
		Device:       c.Device,
	}
}
