//go:build !cgo

package audioio

import (
	"context"
	"fmt"
	"log/slog"
)

const malgoAvailable = false

// MalgoCapturer is unavailable in builds without cgo.
type MalgoCapturer struct{}

// NewMalgoCapturer returns a capturer whose Acquire always fails.
func NewMalgoCapturer(*slog.Logger) *MalgoCapturer {
	return &MalgoCapturer{}
}

// Name returns "malgo".
func (m *MalgoCapturer) Name() string {
	return "malgo"
}

// Acquire fails with ErrDeviceUnavailable.
func (m *MalgoCapturer) Acquire(context.Context, Constraints) (CaptureStream, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrDeviceUnavailable)
}

// MalgoSink is unavailable in builds without cgo.
type MalgoSink struct{ MockSink }

// NewMalgoSink fails with ErrDeviceUnavailable.
func NewMalgoSink(Config, *slog.Logger) (*MalgoSink, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrDeviceUnavailable)
}

// ListDevices fails with ErrDeviceUnavailable.
func ListDevices(*slog.Logger) ([]DeviceInfo, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrDeviceUnavailable)
}
