package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"gesturemix/engine"
)

// ============================================================================
// gesturemixd - gesture mapping daemon
// ============================================================================
// Architecture:
//   - Frames arrive over IPC (gesture_frame) and, optionally, MQTT
//   - The engine ticks once per frame and writes into a parameter handoff;
//     an idle ticker feeds empty frames while no classifier is sending
//   - The mixer pump drains the handoff to the mixer websocket at update_hz
//   - Feedback snapshots fan out to websocket clients at /ws/feedback
//   - /healthz and /stats report daemon state
// ============================================================================

const appName = "gesturemixd"

var version = "dev"

func printVersion() {
	fmt.Printf("%s %s\n", appName, version)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s - gesture-controlled stem mixer daemon

Usage:
  %s [options]

Options:
  -config PATH            YAML config file (defaults are used when omitted)
  -active-profile ID      Profile to activate at startup
  -mixer                  Enable the mixer websocket pump
  -mixer-ws URL           Mixer websocket URL
  -mixer-timeout MS       Mixer response timeout (ms)
  -mixer-hz N             Mixer pump frequency (Hz)
  -hold-timeout-ms MS     Hold time before a released control decays
  -decay-ms MS            Length of the decay ramp to neutral
  -ipc-socket PATH        IPC unix socket path
  -feedback-port N        HTTP port for /ws/feedback, /healthz and /stats
  -mqtt                   Enable the MQTT frame source
  -mqtt-broker HOST:PORT  MQTT broker
  -mqtt-topic TOPIC       MQTT frame topic
  -log-level LEVEL        error, warn, info or debug
  -log-format FORMAT      text or json
  -version                Print version and exit
  -help                   Show this help message

Flags override values from the config file.
`, appName, appName)
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		showVer    = flag.Bool("version", false, "print version and exit")
		showHelp   = flag.Bool("help", false, "show help")

		activeProfile = flag.String("active-profile", "", "profile to activate at startup")
		mixerEnabled  = flag.Bool("mixer", false, "enable the mixer websocket pump")
		mixerWsURL    = flag.String("mixer-ws", "", "mixer websocket URL")
		mixerTimeout  = flag.Int("mixer-timeout", 0, "mixer response timeout (ms)")
		mixerHz       = flag.Int("mixer-hz", 0, "mixer pump frequency (Hz)")
		holdTimeoutMS = flag.Int("hold-timeout-ms", 0, "hold time before decay (ms)")
		decayMS       = flag.Int("decay-ms", 0, "decay ramp length (ms)")
		ipcSocket     = flag.String("ipc-socket", "", "IPC unix socket path")
		feedbackPort  = flag.Int("feedback-port", 0, "HTTP port")
		mqttEnabled   = flag.Bool("mqtt", false, "enable the MQTT frame source")
		mqttBroker    = flag.String("mqtt-broker", "", "MQTT broker host:port")
		mqttTopic     = flag.String("mqtt-topic", "", "MQTT frame topic")
		logLevel      = flag.String("log-level", "", "log level")
		logFormat     = flag.String("log-format", "", "log format (text or json)")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVer {
		printVersion()
		return
	}

	// Only flags the user actually passed override the config.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "active-profile":
			ov.ActiveProfile = activeProfile
		case "mixer":
			ov.MixerEnabled = mixerEnabled
		case "mixer-ws":
			ov.MixerWsURL = mixerWsURL
		case "mixer-timeout":
			ov.MixerTimeoutMS = mixerTimeout
		case "mixer-hz":
			ov.MixerUpdateHz = mixerHz
		case "hold-timeout-ms":
			ov.HoldTimeoutMS = holdTimeoutMS
		case "decay-ms":
			ov.DecayMS = decayMS
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "feedback-port":
			ov.FeedbackPort = feedbackPort
		case "mqtt":
			ov.MQTTEnabled = mqttEnabled
		case "mqtt-broker":
			ov.MQTTBroker = mqttBroker
		case "mqtt-topic":
			ov.MQTTTopic = mqttTopic
		case "log-level":
			ov.LogLevel = logLevel
		case "log-format":
			ov.LogFormat = logFormat
		}
	})

	cfg, err := loadConfig(*configPath, ov)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Validate already checked both values
	level, _ := parseLogLevel(cfg.Logging.Level)
	format, _ := parseLogFormat(cfg.Logging.Format)
	logger := setupLogger(os.Stdout, level, format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig layers defaults, the config file and flag overrides, then validates.
func loadConfig(path string, ov FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	ov.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run wires every component and blocks until ctx is canceled or one of them fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ecfg := cfg.ToEngineConfig()
	ecfg.Logger = logger.With("component", "engine")

	handoff := engine.NewParamHandoff(cfg.StemIDs(), []string{ecfg.MasterDeck})

	eng, err := engine.New(ecfg, handoff, cfg.Profiles, cfg.ActiveProfile)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if p, ok := eng.ActiveProfile(); ok {
		logger.Info("engine ready", "profile", p.ID, "profiles", len(eng.Profiles()), "stems", len(cfg.Stems))
	}

	tap := newFeedbackTap()
	if _, err := eng.On(engine.EventFeedbackUpdate, tap.onFeedback); err != nil {
		return fmt.Errorf("subscribe feedback: %w", err)
	}

	status := &statusHandlers{eng: eng}

	var mixerClient *MixerClient
	if cfg.Mixer.Enabled {
		mixerClient, err = NewMixerClient(cfg.Mixer.WsURL, logger.With("component", "mixer"), cfg.Mixer.TimeoutMS)
		if err != nil {
			return fmt.Errorf("connect mixer: %w", err)
		}
		defer mixerClient.Close()
		status.mixer = NewMixerPump(mixerClient, handoff, cfg.Mixer.UpdateHz, logger.With("component", "mixer"))
	}

	if cfg.MQTT.Enabled {
		status.mqtt, err = NewMQTTSource(cfg.MQTT, eng, logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	fb := NewFeedbackServer(logger.With("component", "feedback"), tap, HubConfig{})
	status.hub = fb.Hub()

	mux := http.NewServeMux()
	fb.Register(mux, cfg.Feedback.Path)
	status.register(mux)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runIdleTicker(gctx, eng, cfg.Engine.IdleTickHz, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, eng, logger.With("component", "ipc"))
	})
	g.Go(func() error {
		fb.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, fb.Hub(), tap.C(), cfg.Feedback.MaxHz, logger.With("component", "feedback"))
		return nil
	})
	g.Go(func() error {
		return runHTTPServer(gctx, cfg.Feedback.Port, mux, logger)
	})
	if status.mixer != nil {
		g.Go(func() error { return status.mixer.Run(gctx) })
	}
	if status.mqtt != nil {
		g.Go(func() error { return status.mqtt.Run(gctx) })
	}

	logger.Info("daemon running",
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.Feedback.Port,
		"feedback_path", cfg.Feedback.Path,
		"mixer", cfg.Mixer.Enabled,
		"mqtt", cfg.MQTT.Enabled,
	)

	return g.Wait()
}
