package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "full config",
			yaml: `
log_level: debug
lock_path: /run/observerd.lock
dispatcher:
  workers: 4
grabber:
  socket_path: /run/observerd/grabber.sock
  server_check_interval: 5s
  reconnect_interval: 250ms
  string_policy: reject
version:
  path: /usr/local/share/observerd/version
metrics:
  listen: 127.0.0.1:9464
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "/run/observerd.lock", cfg.LockPath)
				assert.Equal(t, 4, cfg.Dispatcher.Workers)
				assert.Equal(t, "/run/observerd/grabber.sock", cfg.Grabber.SocketPath)
				assert.Equal(t, 5*time.Second, cfg.Grabber.ServerCheckInterval)
				assert.Equal(t, 250*time.Millisecond, cfg.Grabber.ReconnectInterval)
				assert.Equal(t, "reject", cfg.Grabber.StringPolicy)
				assert.Equal(t, "/usr/local/share/observerd/version", cfg.Version.Path)
				assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
			},
		},
		{
			name: "empty file keeps defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultSocketPath, cfg.Grabber.SocketPath)
				assert.Equal(t, DefaultServerCheckInterval, cfg.Grabber.ServerCheckInterval)
				assert.Equal(t, DefaultReconnectInterval, cfg.Grabber.ReconnectInterval)
				assert.Equal(t, DefaultStringPolicy, cfg.Grabber.StringPolicy)
				assert.Empty(t, cfg.Metrics.Listen)
			},
		},
		{
			name: "env overrides file",
			yaml: `
grabber:
  socket_path: /from/file.sock
`,
			env: map[string]string{
				"OBSERVERD_GRABBER_SOCKET_PATH":        "/from/env.sock",
				"OBSERVERD_GRABBER_RECONNECT_INTERVAL": "2s",
				"OBSERVERD_DISPATCHER_WORKERS":         "2",
				"OBSERVERD_LOG_LEVEL":                  "warn",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/from/env.sock", cfg.Grabber.SocketPath)
				assert.Equal(t, 2*time.Second, cfg.Grabber.ReconnectInterval)
				assert.Equal(t, 2, cfg.Dispatcher.Workers)
				assert.Equal(t, "warn", cfg.LogLevel)
			},
		},
		{
			name:    "unknown key",
			yaml:    "grabber:\n  socket: /x.sock\n",
			wantErr: "field socket not found",
		},
		{
			name:    "invalid log level",
			yaml:    "log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "bad interval",
			yaml:    "grabber:\n  reconnect_interval: -1s\n",
			wantErr: "reconnect_interval must be positive",
		},
		{
			name:    "bad string policy",
			yaml:    "grabber:\n  string_policy: drop\n",
			wantErr: "string_policy",
		},
		{
			name:    "socket path too long",
			yaml:    "grabber:\n  socket_path: /" + strings.Repeat("s", 120) + "\n",
			wantErr: "socket_path is",
		},
		{
			name:    "negative workers",
			env:     map[string]string{"OBSERVERD_DISPATCHER_WORKERS": "-1"},
			wantErr: "dispatcher.workers",
		},
		{
			name:    "malformed env duration",
			env:     map[string]string{"OBSERVERD_GRABBER_SERVER_CHECK_INTERVAL": "soon"},
			wantErr: "environment overrides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.yaml), 0644))

			cfg, err := Load(configPath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, configPath, cfg.SourceFile)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("OBSERVERD_METRICS_LISTEN", ":9464")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SourceFile)
	assert.Equal(t, ":9464", cfg.Metrics.Listen)
	assert.Equal(t, DefaultLockPath, cfg.LockPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Version.Path = "/opt/observerd/version"

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_check_interval: 3s")
	assert.NotContains(t, string(data), "SourceFile")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, *cfg, back)
}
