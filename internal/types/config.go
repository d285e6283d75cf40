package types

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon/CLI configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DataDir   string          `yaml:"data_dir"`
	Executor  ExecutorConfig  `yaml:"executor"`
	NATS      NATSConfig      `yaml:"nats"`
	Guardrail GuardrailConfig `yaml:"guardrails"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ExecutorConfig configures subprocess execution.
type ExecutorConfig struct {
	MaxWorkers     int    `yaml:"max_workers"`
	BinaryPath     string `yaml:"binary_path"`
	MaxTurns       int    `yaml:"max_turns"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

// NATSConfig configures the optional event transport.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
}

// GuardrailConfig configures execution safety limits.
type GuardrailConfig struct {
	MaxCostUSD       float64  `yaml:"max_cost_usd"`
	MaxDurationSec   int      `yaml:"max_duration_sec"`
	HeartbeatTimeout int      `yaml:"heartbeat_timeout_sec"`
	AllowedGlobs     []string `yaml:"allowed_globs"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 3848},
		DataDir: filepath.Join(home, ".coordinator"),
		Executor: ExecutorConfig{
			MaxWorkers:     5,
			MaxTurns:       50,
			PollIntervalMS: 1000,
		},
		NATS: NATSConfig{
			URL:  "nats://127.0.0.1:4222",
			Port: 4222,
		},
		Guardrail: GuardrailConfig{
			MaxDurationSec:   300,
			HeartbeatTimeout: 60,
		},
	}
}

// LoadConfig reads a YAML config file, applying defaults for missing
// fields. A missing file returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3848
	}
	if cfg.Executor.MaxWorkers <= 0 {
		cfg.Executor.MaxWorkers = 5
	}
	if cfg.Executor.MaxTurns <= 0 {
		cfg.Executor.MaxTurns = 50
	}
	if cfg.Executor.PollIntervalMS <= 0 {
		cfg.Executor.PollIntervalMS = 1000
	}
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".coordinator")
	}

	// Env override for the data directory wins over file and defaults.
	if dir := os.Getenv("COORDINATOR_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	return cfg, nil
}
