// Deskman - desk robot voice assistant
// Listens for a wake word, talks to the OpenAI Realtime API and drives the
// head servos and face from the model's function calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-deskman/internal/config"
	"github.com/teslashibe/go-deskman/internal/log"
	"github.com/teslashibe/go-deskman/internal/observe"
	"github.com/teslashibe/go-deskman/pkg/actuator"
	"github.com/teslashibe/go-deskman/pkg/assistant"
	"github.com/teslashibe/go-deskman/pkg/audioio"
	"github.com/teslashibe/go-deskman/pkg/realtime"
	"github.com/teslashibe/go-deskman/pkg/robot"
	"github.com/teslashibe/go-deskman/pkg/wakeword"
	"github.com/teslashibe/go-deskman/pkg/web"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML config file (default: ./"+config.DefaultPath+" if present)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	backend := flag.String("audio", "", "Audio backend: auto, alsa, portaudio, mock")
	listen := flag.Bool("listen", true, "Listen for the wake word again after every turn")
	dashboard := flag.String("dashboard", "", "Dashboard address (overrides config; \"off\" disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskman: %v\n", err)
		return 1
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *backend != "" {
		cfg.Audio.Backend = audioio.Backend(*backend)
	}
	switch *dashboard {
	case "":
	case "off":
		cfg.Dashboard.Addr = ""
	default:
		cfg.Dashboard.Addr = *dashboard
	}

	log.Init(cfg.LogLevel)
	logger := log.L()
	logger.Info("deskman starting", "version", version, "model", cfg.Realtime.Model, "voice", cfg.Realtime.Voice)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, *listen, logger); err != nil {
		logger.Error("deskman stopped", "error", err)
		return 1
	}
	logger.Info("deskman stopped")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, autoListen bool, logger *slog.Logger) error {
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	device := openAudio(cfg.Audio, logger)
	defer device.Close()

	wake := wakeword.Open(cfg.Wakeword, device, logger)
	defer wake.Close()
	if !wake.Available() {
		logger.Warn("wake word unavailable; start conversations from the dashboard")
	}

	face := robot.NewFace(logger)
	head := robot.NewHead(servoDriver(cfg.Robot, logger), logger)
	if err := head.Home(); err != nil {
		logger.Warn("could not home head", "error", err)
	}

	dispatcher, err := actuator.NewDispatcher(logger, actuator.DefaultTools(head, face)...)
	if err != nil {
		return fmt.Errorf("actuators: %w", err)
	}

	client, err := realtime.NewClient(
		realtime.WithAPIKey(cfg.Realtime.APIKey),
		realtime.WithURL(cfg.Realtime.URL),
		realtime.WithModel(cfg.Realtime.Model),
		realtime.WithSession(cfg.Session()),
		realtime.WithTools(dispatcher.Tools()...),
		realtime.WithConnectTimeout(cfg.Realtime.ConnectTimeout),
		realtime.WithSendInterval(cfg.Realtime.SendInterval),
		realtime.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("realtime: %w", err)
	}

	// dash is set before Run starts, so the observer never races with it.
	var dash *web.Server
	a := cfg.Assistant
	orchestrator, err := assistant.New(client, device, wake, dispatcher,
		assistant.WithFramesPerTurn(a.FramesPerTurn),
		assistant.WithFrameSamples(a.FrameSamples),
		assistant.WithGreeting(a.Greeting),
		assistant.WithServerVAD(cfg.Realtime.ServerVAD),
		assistant.WithAutoListen(autoListen),
		assistant.WithResponseTimeout(a.ResponseTimeout),
		assistant.WithReconnect(a.ReconnectBase, a.ReconnectMax, a.ReconnectAttempts),
		assistant.WithLogger(logger),
		assistant.WithMetrics(metrics),
		assistant.WithFace(face),
		assistant.WithObserver(func(s assistant.Snapshot) {
			if dash != nil {
				dash.PublishStatus(s)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}

	if cfg.Dashboard.Addr != "" {
		dash = web.NewServer(web.Options{
			Addr:      cfg.Dashboard.Addr,
			Assistant: orchestrator,
			Tools:     dispatcher,
			Face:      face,
			Metrics:   provider.Handler(),
			Logger:    logger,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	if dash != nil {
		g.Go(func() error {
			return dash.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	st := device.Stats()
	logger.Info("audio totals",
		"captured", st.CapturedFrames,
		"underruns", st.Underruns,
		"played", st.PlayedFrames,
		"dropped", st.DroppedFrames,
	)
	return nil
}

// openAudio never fails: a backend that cannot be opened leaves its half of
// the device disabled and the assistant runs without it.
func openAudio(cfg audioio.Config, logger *slog.Logger) *audioio.Device {
	device, err := audioio.OpenDevice(cfg, logger)
	if err != nil {
		logger.Warn("audio degraded",
			"error", err,
			"capture", device.CaptureEnabled(),
			"playback", device.PlaybackEnabled(),
		)
	}
	return device
}

func servoDriver(cfg config.RobotConfig, logger *slog.Logger) robot.ServoDriver {
	if cfg.ServoURL == "" {
		logger.Info("no servo bridge configured, head moves are logged only")
		return &robot.LogServoDriver{Logger: logger}
	}
	d := robot.NewHTTPServoDriver(cfg.ServoURL)
	d.Speed = cfg.ServoSpeed
	d.Acc = cfg.ServoAcc
	return d
}
