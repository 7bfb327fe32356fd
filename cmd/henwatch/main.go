// Henwatch watches a henhouse camera and publishes chicken and egg
// counts to Home Assistant.
//
// On a fixed interval it captures a snapshot (local file or camera
// URL), runs it through a pre-trained YOLO ONNX model, tallies
// detections by class, and publishes the counts as MQTT discovery
// sensors. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	henwatch serve           Start the detection loop
//	henwatch detect          Run one detection cycle and print counts
//	henwatch init [dir]      Initialize a working directory with defaults
//	henwatch version         Print version and build information
//	henwatch -o json detect  Output counts as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mtholden/henwatch/internal/buildinfo"
	"github.com/mtholden/henwatch/internal/camera"
	"github.com/mtholden/henwatch/internal/config"
	"github.com/mtholden/henwatch/internal/connwatch"
	"github.com/mtholden/henwatch/internal/monitor"
	"github.com/mtholden/henwatch/internal/mqtt"
	"github.com/mtholden/henwatch/internal/vision"
	"github.com/mtholden/henwatch/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the henwatch command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the monitor loop and MQTT connection.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:].
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "detect":
		return runDetect(ctx, stdout, stderr, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "henwatch - Henhouse camera to Home Assistant sensor bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: henwatch [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the detection loop")
	fmt.Fprintln(w, "  detect       Run one detection cycle and print counts")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runServe starts the detection loop and blocks until the process
// receives SIGINT/SIGTERM or ctx is cancelled.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting henwatch", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured settings.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// ParseLogLevel is already validated by config.Validate, so
			// this error path should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"camera", cfg.Camera.Source,
		"model", cfg.Detector.Model,
		"interval_sec", cfg.Monitor.IntervalSec,
	)

	// --- Data directory ---
	// Holds only the persistent instance ID; there is no other durable
	// state.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// Cancel on SIGINT/SIGTERM for graceful shutdown.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Detector ---
	// The model is loaded once at startup; a load failure is fatal since
	// the process is useless without it.
	detector, err := vision.NewONNXDetector(cfg.Detector, logger)
	if err != nil {
		return fmt.Errorf("initialize detector: %w", err)
	}
	defer detector.Close()

	// --- Camera source ---
	source, err := camera.New(cfg.Camera)
	if err != nil {
		return err
	}
	logger.Info("camera source configured", "source", source.Name())

	counts := mqtt.NewCounts(cfg.Detector.Labels)

	// --- Connection resilience ---
	// Background health monitoring with exponential backoff for the
	// camera and the broker. Outages are logged as state transitions
	// and surfaced on the status endpoint; the monitor loop itself
	// keeps running regardless.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	connMgr.Watch(ctx, "camera", source.Probe, connwatch.DefaultBackoffConfig())

	// --- MQTT publisher ---
	// Optional. Without a broker, henwatch still detects and serves the
	// status endpoint; it just has nowhere to publish.
	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load instance ID: %w", err)
		}
		logger.Debug("instance ID loaded", "instance_id", instanceID)

		publisher = mqtt.New(cfg.MQTT, instanceID, cfg.Detector.Labels, counts, statsAdapter{}, logger)
		// The connection must survive the signal context: Stop has to
		// publish "offline" after SIGINT/SIGTERM, and a cancelled
		// connection context would tear the session down first.
		if err := publisher.Start(mqttLifetimeContext(ctx)); err != nil {
			return fmt.Errorf("start mqtt publisher: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown incomplete", "error", err)
			}
		}()

		connMgr.Watch(ctx, "mqtt", publisher.AwaitConnection, connwatch.DefaultBackoffConfig())
	} else {
		logger.Warn("mqtt not configured - counts will not be published")
	}

	var wg sync.WaitGroup

	// --- Status endpoint ---
	if cfg.Status.Enabled {
		statusSrv := web.NewServer(cfg.Status.Address, cfg.Status.Port, counts, connMgr, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusSrv.Start(ctx); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	// --- Monitor loop ---
	// Runs until the context is cancelled. A nil publisher is fine; the
	// monitor then only updates the in-memory counts.
	var pub monitor.Publisher
	if publisher != nil {
		pub = publisher
	}
	mon := monitor.New(source, detector, cfg.Detector.Labels,
		counts, pub, time.Duration(cfg.Monitor.IntervalSec)*time.Second, logger)
	mon.Run(ctx)

	wg.Wait()
	logger.Info("henwatch shutdown complete")
	return nil
}

// runDetect runs a single detection cycle and prints the counts.
// MQTT is not required; this is the quick way to sanity-check a model
// and camera configuration.
func runDetect(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout stays clean for the counts.
	level := slog.LevelWarn
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	logger := newLogger(stderr, level, cfg.LogFormat)

	detector, err := vision.NewONNXDetector(cfg.Detector, logger)
	if err != nil {
		return fmt.Errorf("initialize detector: %w", err)
	}
	defer detector.Close()

	source, err := camera.New(cfg.Camera)
	if err != nil {
		return err
	}

	counts := mqtt.NewCounts(cfg.Detector.Labels)
	mon := monitor.New(source, detector, cfg.Detector.Labels, counts, nil, time.Minute, logger)

	tally, err := mon.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tally)
	}

	labels := make([]string, 0, len(tally))
	for l := range tally {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(stdout, "%-12s %d\n", l+":", tally[l])
	}
	return nil
}

// mqttLifetimeContext derives the context that bounds the MQTT
// connection. It keeps the parent's values but not its cancellation:
// shutdown is driven by [mqtt.Publisher.Stop], which publishes the
// "offline" availability message before disconnecting. If the
// connection shared the signal context, SIGINT would close the session
// (discarding the will) before Stop could run.
func mqttLifetimeContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// statsAdapter bridges buildinfo to the MQTT publisher's
// [mqtt.StatsSource] interface.
type statsAdapter struct{}

func (statsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (statsAdapter) Version() string       { return buildinfo.Version }

// newLogger builds a slog.Logger writing to w. Extracted so every
// subcommand shares the handler configuration.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
