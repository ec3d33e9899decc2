package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"

	"github.com/mattjoyce/observerd/internal/config"
	"github.com/mattjoyce/observerd/internal/events"
	"github.com/mattjoyce/observerd/internal/grabberclient"
	"github.com/mattjoyce/observerd/internal/lock"
	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/metrics"
	"github.com/mattjoyce/observerd/internal/protocol"
	"github.com/mattjoyce/observerd/internal/supervisor"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)
	case "grabber":
		return runGrabberNoun(args)

	// --- VERBS ---
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`observerd - supervises the grabber connection and the device observer

Usage:
  observerd <command> [flags]
  observerd <noun> <action> [flags]

Commands:
  start                 Run the observer in the foreground
  version               Show version information
  version stamp <path>  Atomically write the version file watched for upgrades

Config Commands:
  config show           Print the effective configuration
  config check          Validate the configuration

Grabber Commands:
  grabber listen        Run a stand-in grabber that logs received messages

General:
  help                  Show this help message
`)
}

func printStartHelp() {
	fmt.Println("Usage: observerd start [--config PATH]")
	fmt.Println("Run the observer in the foreground until SIGINT/SIGTERM or a version change.")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	if len(args) > 0 && args[0] == "stamp" {
		return runVersionStamp(args[1:])
	}

	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: observerd version [--json] | observerd version stamp <path>")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("observerd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

// runVersionStamp writes the version file in one rename so a watching
// observer never hashes a half-written file.
func runVersionStamp(args []string) int {
	fs := flag.NewFlagSet("stamp", flag.ContinueOnError)
	value := fs.String("value", "", "Version string to write (default: this binary's version)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: observerd version stamp [--value V] <path>")
		return 1
	}

	v := *value
	if v == "" {
		v = currentVersionInfo().Version
	}

	path := fs.Arg(0)
	if err := renameio.WriteFile(path, []byte(v+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write version file: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s to %s\n", v, path)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedBuildTime); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("observerd starting", "version", version, "config", cfg.SourceFile)

	pidLock, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.LockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", cfg.LockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx, cfg, events.NewHub(256)); err != nil {
		logger.Error("observerd failed", "error", err)
		return 1
	}

	logger.Info("observerd stopped")
	return 0
}

// runDaemon runs the supervisor and the optional metrics listener until ctx
// is done or the installed version changes.
func runDaemon(ctx context.Context, cfg *config.Config, hub *events.Hub) error {
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	policy := protocol.Truncate
	if cfg.Grabber.StringPolicy == "reject" {
		policy = protocol.Reject
	}

	sup, err := supervisor.New(supervisor.Config{
		Workers: cfg.Dispatcher.Workers,
		Grabber: grabberclient.Config{
			SocketPath:          cfg.Grabber.SocketPath,
			ServerCheckInterval: cfg.Grabber.ServerCheckInterval,
			ReconnectInterval:   cfg.Grabber.ReconnectInterval,
		},
		VersionPath: cfg.Version.Path,
		OnVersionChanged: func() {
			logger.Warn("installed version changed, shutting down")
			cancel()
		},
	},
		supervisor.WithEventHub(hub),
		supervisor.WithClientOptions(grabberclient.WithStringPolicy(policy)),
	)
	if err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer sup.Close()

	errCh := make(chan error, 1)

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           newHTTPHandler(hub),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics server enabled", "listen", cfg.Metrics.Listen)
	}

	logger.Info("observerd running (press Ctrl+C to stop)", "socket_path", cfg.Grabber.SocketPath)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func newHTTPHandler(hub *events.Hub) http.Handler {
	r := chi.NewRouter()
	r.Get("/events", events.Handler(hub))
	r.Mount("/", metrics.Router())
	return r
}
