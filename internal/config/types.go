package config

import "time"

// Config represents the complete observerd configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"`
	LockPath   string           `yaml:"lock_path" env:"LOCK_PATH"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" envPrefix:"DISPATCHER_"`
	Grabber    GrabberConfig    `yaml:"grabber" envPrefix:"GRABBER_"`
	Version    VersionConfig    `yaml:"version" envPrefix:"VERSION_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`

	// SourceFile is the file the config was loaded from, if any.
	SourceFile string `yaml:"-" json:"-"`
}

// DispatcherConfig sizes the task dispatcher.
type DispatcherConfig struct {
	// Workers is the pool size; 0 means one per CPU.
	Workers int `yaml:"workers" env:"WORKERS"`
}

// GrabberConfig defines how the observer reaches the grabber.
type GrabberConfig struct {
	SocketPath          string        `yaml:"socket_path" env:"SOCKET_PATH"`
	ServerCheckInterval time.Duration `yaml:"server_check_interval" env:"SERVER_CHECK_INTERVAL"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	// StringPolicy is "truncate" or "reject" for over-long string fields.
	StringPolicy string `yaml:"string_policy" env:"STRING_POLICY"`
}

// VersionConfig points at the version file watched for upgrades.
type VersionConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// MetricsConfig defines the optional metrics HTTP listener.
type MetricsConfig struct {
	// Listen is a host:port; empty disables the listener.
	Listen string `yaml:"listen" env:"LISTEN"`
}
