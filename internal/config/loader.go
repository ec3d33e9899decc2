package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OBSERVERD_GRABBER_SOCKET_PATH.
const EnvPrefix = "OBSERVERD_"

// Default values.
const (
	DefaultLogLevel            = "info"
	DefaultLockPath            = "/tmp/observerd/observerd.lock"
	DefaultSocketPath          = "/tmp/observerd/grabber.sock"
	DefaultServerCheckInterval = 3000 * time.Millisecond
	DefaultReconnectInterval   = 1000 * time.Millisecond
	DefaultStringPolicy        = "truncate"

	// maxSocketPathLen keeps room for the NUL in sockaddr_un.sun_path on every platform.
	maxSocketPathLen = 103
)

// Defaults returns a config with every field at its default.
func Defaults() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		LockPath: DefaultLockPath,
		Grabber: GrabberConfig{
			SocketPath:          DefaultSocketPath,
			ServerCheckInterval: DefaultServerCheckInterval,
			ReconnectInterval:   DefaultReconnectInterval,
			StringPolicy:        DefaultStringPolicy,
		},
	}
}

// Load builds the effective config: defaults, then the YAML file at
// configPath (skipped when empty), then OBSERVERD_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}

		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
		cfg.SourceFile = absPath
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// decode unmarshals data over cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Dispatcher.Workers < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.workers must not be negative, got %d", cfg.Dispatcher.Workers))
	}

	g := cfg.Grabber
	if g.SocketPath == "" {
		errs = append(errs, errors.New("grabber.socket_path is required"))
	} else if len(g.SocketPath) > maxSocketPathLen {
		errs = append(errs, fmt.Errorf("grabber.socket_path is %d bytes, limit %d", len(g.SocketPath), maxSocketPathLen))
	}
	if g.ServerCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("grabber.server_check_interval must be positive, got %s", g.ServerCheckInterval))
	}
	if g.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("grabber.reconnect_interval must be positive, got %s", g.ReconnectInterval))
	}
	switch g.StringPolicy {
	case "truncate", "reject":
	default:
		errs = append(errs, fmt.Errorf("grabber.string_policy %q is not one of truncate, reject", g.StringPolicy))
	}

	return errors.Join(errs...)
}
