package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig describes one member of the replicated cluster (C6).
type HostConfig struct {
	ID       string `yaml:"id" cfg:"required"`
	Addr     string `yaml:"addr" cfg:"required"`
	Priority int    `yaml:"priority" cfg:"min=0,max=255"`
}

// ClusterConfig configures host membership, election, and warm-up (C6).
type ClusterConfig struct {
	SelfID       string       `yaml:"self_id" cfg:"required"`
	Hosts        []HostConfig `yaml:"hosts"`
	WarmupWindow string       `yaml:"warmup_window"` // parsed with time.ParseDuration
	WarmupBatch  int          `yaml:"warmup_batch" cfg:"min=1"`
}

func (c ClusterConfig) warmupWindow() (time.Duration, error) {
	if c.WarmupWindow == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.WarmupWindow)
}

// TableConfig names one replicated table and its persistence mode (C3/C4).
type TableConfig struct {
	Name      string `yaml:"name" cfg:"required"`
	CacheMode string `yaml:"cache_mode" cfg:"enum=write-through|write-back"`
	Durable   bool   `yaml:"durable"`
	QueueSize int    `yaml:"queue_size" cfg:"min=1"`
}

// PipelineConfig lists the tables a daemon instance owns (C4).
type PipelineConfig struct {
	Tables []TableConfig `yaml:"tables"`
}

// TelemetryConfig configures the watch-registry scan intervals and the
// alert pipeline's retention (C7/C8/C9).
type TelemetryConfig struct {
	MinIntervalMS  int    `yaml:"min_interval_ms" cfg:"min=100"`
	AlertPrefix    string `yaml:"alert_prefix" cfg:"required"`
	MaxReplayDays  int    `yaml:"max_replay_days" cfg:"min=1,max=365"`
	RingBufferSize int    `yaml:"ring_buffer_size" cfg:"min=1"`
}

// TransportConfig configures the libp2p-based boundary adapter (C11).
type TransportConfig struct {
	ListenAddrs  []string `yaml:"listen_addrs"`
	IdentityPath string   `yaml:"identity_path"`
	ConnMgrLow   int      `yaml:"conn_mgr_low" cfg:"min=0"`
	ConnMgrHigh  int      `yaml:"conn_mgr_high" cfg:"min=0"`
}

// RPCConfig configures the JSON-RPC + websocket telemetry gateway.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr" cfg:"required"`
	WSPath     string `yaml:"ws_path"`
}

// LoggingConfig mirrors the teacher's flat logging block.
type LoggingConfig struct {
	Level      string `yaml:"level" cfg:"enum=debug|info|warn|error|fatal"`
	TimeFormat string `yaml:"time_format"`
}

// Config is the top-level nested configuration for a daemon instance.
type Config struct {
	DataDir   string          `yaml:"data_dir" cfg:"required"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Transport TransportConfig `yaml:"transport"`
	RPC       RPCConfig       `yaml:"rpc"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns a minimal, self-consistent configuration suitable
// for a single-node standalone instance.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.rtdb",
		Cluster: ClusterConfig{
			SelfID:      "node-1",
			Hosts:       []HostConfig{{ID: "node-1", Addr: "127.0.0.1:7700", Priority: 100}},
			WarmupBatch: 256,
		},
		Pipeline: PipelineConfig{
			Tables: []TableConfig{{Name: "orders", CacheMode: "write-through", Durable: true, QueueSize: 256}},
		},
		Telemetry: TelemetryConfig{
			MinIntervalMS:  1000,
			AlertPrefix:    "alert",
			MaxReplayDays:  30,
			RingBufferSize: 4096,
		},
		Transport: TransportConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/7700"},
			ConnMgrLow:  64,
			ConnMgrHigh: 256,
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:8700",
			WSPath:     "/ws",
		},
		Logging: LoggingConfig{
			Level:      "info",
			TimeFormat: time.TimeOnly,
		},
	}
}

// ConfigPath returns the canonical config file path under dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), "rtdb.yaml")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Load reads, preprocesses (%include/%define/${NAME}), unmarshals, and
// validates the config file at path. If the file does not exist, a default
// configuration is written to path first, following the teacher's
// create-default-if-absent pattern.
func Load(path string) (*Config, error) {
	path = expandPath(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = filepath.Dir(path)
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("config: writing default: %w", err)
		}
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded, err := Preprocess(raw, filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as YAML to path with a header comment, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	header := "# rtdb configuration\n# generated; hand edits are preserved on reload\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o600)
}

// WarmupWindow resolves the cluster's configured warm-up grace window,
// defaulting to 30s if unset or malformed.
func (c *Config) WarmupWindow() time.Duration {
	d, err := c.Cluster.warmupWindow()
	if err != nil {
		return 30 * time.Second
	}
	return d
}
