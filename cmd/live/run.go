package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-live/internal/config"
	"github.com/teslashibe/go-live/internal/log"
	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/generate"
	"github.com/teslashibe/go-live/pkg/live"
	"github.com/teslashibe/go-live/pkg/session"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/web"
)

type runFlags struct {
	backend string
	voice   string
	web     bool
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live voice session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if f.backend != "" {
				cfg.Audio.Backend = f.backend
			}
			if f.voice != "" {
				cfg.Live.Voice = f.voice
			}
			if cmd.Flags().Changed("web") {
				cfg.Web.Enabled = f.web
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&f.backend, "backend", "", "Audio backend: auto, malgo, mock")
	cmd.Flags().StringVar(&f.voice, "voice", "", "Prebuilt voice name (e.g. Zephyr, Puck)")
	cmd.Flags().BoolVar(&f.web, "web", false, "Serve the dashboard")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.L()

	capCfg := audioio.DefaultCaptureConfig()
	capCfg.Backend = audioio.Backend(cfg.Audio.Backend)
	capCfg.SampleRate = cfg.Audio.CaptureRate
	capCfg.FrameSamples = cfg.Audio.FrameSamples
	capCfg.Device = cfg.Audio.CaptureDevice

	playCfg := audioio.DefaultPlaybackConfig()
	playCfg.Backend = capCfg.Backend
	playCfg.SampleRate = cfg.Audio.PlaybackRate
	playCfg.Device = cfg.Audio.PlaybackDevice

	capturer, err := audioio.NewCapturer(capCfg, logger)
	if err != nil {
		return err
	}
	sink, err := audioio.NewSink(playCfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	newTransport, err := transportFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithModel(cfg.Live.Model),
		session.WithVoice(cfg.Live.Voice),
		session.WithSystemInstruction(cfg.Live.SystemPrompt),
		session.WithTranscription(cfg.Live.InputTranscript, cfg.Live.OutputTranscript),
		session.WithCapture(capCfg.Constraints()),
		session.WithPlayback(playCfg.SampleRate, playCfg.Channels),
		session.WithToolTimeout(cfg.Tools.JobTimeout),
		session.WithLogger(logger),
	}
	if cfg.Live.LocationHint {
		opts = append(opts, session.WithLocator(session.NewHTTPLocator()))
	}

	ctrl := session.NewController(capturer, sink, newTransport, toolset(ctx, cfg, logger), opts...)
	defer ctrl.Stop()

	if cfg.Web.Enabled {
		srv := web.NewServer(":"+cfg.Web.Port, ctrl, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("dashboard stopped", "error", err)
			}
		}()
		defer srv.Shutdown()
	}

	states, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.Start(ctx); err != nil {
		if !cfg.Web.Enabled {
			return err
		}
		log.Error("session start failed, retry from the dashboard", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case st := <-states:
			log.Info("session state", "phase", st.Phase, "reason", st.Reason)
			if cfg.Web.Enabled {
				continue
			}
			switch st.Phase {
			case session.PhaseErrored:
				return fmt.Errorf("session failed: %s", st.Reason)
			case session.PhaseClosed:
				return nil
			}
		}
	}
}

func transportFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.TransportFactory, error) {
	opts := []live.Option{
		live.WithLogger(logger),
		live.WithAudioQueue(cfg.Live.AudioQueueDepth),
		live.WithHandshakeTimeout(cfg.Live.ConnectTimeout),
	}
	if cfg.Live.URL != "" {
		opts = append(opts, live.WithURL(cfg.Live.URL))
	}

	switch {
	case cfg.Live.APIKey != "":
		opts = append(opts, live.WithAPIKey(cfg.Live.APIKey))
	case cfg.Live.UseOAuth:
		creds, err := live.GoogleTokenSource(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, live.WithTokenSource(creds.TokenSource))
	default:
		return nil, config.ErrMissingAPIKey
	}

	return func() (session.Transport, error) {
		tr, err := live.New(opts...)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}, nil
}

// toolset builds the generation tools. Without an API key the session runs
// with no tools.
func toolset(ctx context.Context, cfg config.Config, logger *slog.Logger) []tools.Tool {
	gen, err := generate.NewGemini(ctx,
		generate.WithAPIKey(cfg.Live.APIKey),
		generate.WithModel(cfg.Tools.Model),
		generate.WithTemperature(cfg.Tools.Temperature),
		generate.WithLogger(logger),
	)
	if err != nil {
		if errors.Is(err, generate.ErrNoAPIKey) {
			logger.Warn("tools disabled: no API key for the generation endpoint")
		} else {
			logger.Error("tools disabled", "error", err)
		}
		return nil
	}
	return tools.Catalog(gen, tools.CatalogOptions{})
}
