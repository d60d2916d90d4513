package audioio

import (
	"fmt"
	"log/slog"
	"time"
)

// NewCapturer creates a capturer for the configured backend.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewCapturer(cfg Config, logger *slog.Logger) (Capturer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)
	logger.Info("creating audio capturer",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameDuration().Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockCapturer(logger), nil
	case BackendMalgo:
		return NewMalgoCapturer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a playback sink for the configured backend.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)
	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(time.Now(), logger), nil
	case BackendMalgo:
		s, err := NewMalgoSink(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolveBackend(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return detectBestBackend()
	}
	return b
}

// detectBestBackend returns the best available backend for this build.
func detectBestBackend() Backend {
	if malgoAvailable {
		return BackendMalgo
	}
	return BackendMock
}

// AvailableBackends returns the list of backends available in this build.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if malgoAvailable {
		backends = append(backends, BackendMalgo)
	}
	return backends
}
