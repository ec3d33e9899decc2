package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/observerd/internal/config"
	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/protocol"
	"github.com/mattjoyce/observerd/internal/transport"
)

func runGrabberNoun(args []string) int {
	if len(args) < 1 {
		printGrabberNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printGrabberNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "listen":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: observerd grabber listen [--config PATH] [--socket PATH]")
			fmt.Println("Bind the grabber socket and print every message received.")
			return 0
		}
		return runGrabberListen(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown grabber action: %s\n", action)
		return 1
	}
}

func printGrabberNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: observerd grabber <action> [flags]")
	fmt.Fprintln(w, "Actions: listen")
}

func runGrabberListen(args []string) int {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	socketPath := fs.String("socket", "", "Socket path (default: grabber.socket_path from config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	path := cfg.Grabber.SocketPath
	if *socketPath != "" {
		path = *socketPath
	}

	log.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveGrabber(ctx, path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Grabber listener failed: %v\n", err)
		return 1
	}
	return 0
}

// serveGrabber binds path and writes one line per decoded message to w
// until ctx is done.
func serveGrabber(ctx context.Context, path string, w io.Writer) error {
	logger := log.WithComponent("grabber")

	l, err := transport.Listen(path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	logger.Info("grabber listening", "socket_path", path)

	return l.Serve(ctx, func(p []byte) {
		m, err := protocol.Decode(p)
		if err != nil {
			logger.Warn("undecodable datagram", "bytes", len(p), "error", err)
			return
		}
		fmt.Fprintf(w, "%s %+v\n", m.OperationType(), m)
	})
}
