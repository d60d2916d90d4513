package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Device errors. Acquisition failures are fatal to a session start.
var (
	// ErrPermissionDenied indicates the OS or user refused device access.
	ErrPermissionDenied = errors.New("audioio: permission denied")

	// ErrDeviceUnavailable indicates no usable device could be opened.
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")

	// ErrClosed is returned by operations on a released device.
	ErrClosed = errors.New("audioio: device closed")
)

// Constraints describe the capture format requested from a device.
type Constraints struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	Device       string
}

// Capturer acquires microphone streams.
type Capturer interface {
	// Acquire opens the capture device and starts delivering frames.
	// It fails with ErrPermissionDenied or ErrDeviceUnavailable.
	Acquire(ctx context.Context, c Constraints) (CaptureStream, error)

	// Name returns the backend name (e.g., "malgo", "mock").
	Name() string
}

// CaptureStream is an acquired microphone.
type CaptureStream interface {
	// Frames delivers fixed-size frames at the capture cadence.
	// The channel is closed when the stream is closed. The device never
	// blocks on a slow reader; frames that cannot be delivered are
	// counted as overruns and dropped.
	Frames() <-chan AudioChunk

	// Close releases the device. It is safe to call Close multiple times.
	io.Closer
}

// Sink plays audio buffers at absolute times on the device clock.
type Sink interface {
	// Play schedules chunk to start at the given device time. A time in
	// the past starts immediately.
	Play(chunk AudioChunk, at time.Time) (Playing, error)

	// Now returns the current device clock.
	Now() time.Time

	// Name returns the backend name (e.g., "malgo", "mock").
	Name() string

	// Close stops all playback and releases the device.
	io.Closer
}

// Playing is a handle to a scheduled buffer.
type Playing interface {
	// Stop cancels the buffer before or during playback. Idempotent.
	Stop()

	// Done is closed when the buffer finished playing or was stopped.
	Done() <-chan struct{}
}

// CaptureStats contains statistics about a capture stream.
type CaptureStats struct {
	// Frames is the total number of frames delivered.
	Frames int64 `json:"frames"`

	// Overruns is the number of frames dropped because the reader lagged.
	Overruns int64 `json:"overruns"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// DeviceInfo describes an audio endpoint.
type DeviceInfo struct {
	Name      string `json:"name"`
	Capture   bool   `json:"capture"`
	IsDefault bool   `json:"is_default"`
}
