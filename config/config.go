// Package config loads the identity tree core's YAML configuration file:
// tree depth, the on-chain watcher's poll interval and confirmation depth,
// and the relay schedule for each state bridge target.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrConfigFileNotFound is returned by LoadConfig when path does not exist.
var ErrConfigFileNotFound = errors.New("config: file not found")

// BridgeTarget mirrors one entry of the original state_bridge_service's
// bridged_world_id_addresses list: a single L2 contract this node relays
// canonical roots to. PrivateKey is the hex-encoded relayer key for that
// chain; when empty the bridge runs in dry-run mode and only logs the roots
// it would have relayed.
type BridgeTarget struct {
	Name                  string        `yaml:"name"`
	RPCURL                string        `yaml:"rpc_url"`
	BridgeContractAddress string        `yaml:"bridge_contract_address"`
	RelayingPeriod        time.Duration `yaml:"relaying_period"`
	BlockConfirmations    uint64        `yaml:"block_confirmations"`
	PrivateKey            string        `yaml:"private_key"`
}

// WatcherConfig configures the on-chain log poller.
type WatcherConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	ContractAddress string       `yaml:"contract_address"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Confirmations  uint64        `yaml:"confirmations"`
	StartBlock     uint64        `yaml:"start_block"`
}

// LogConfig configures the process-wide logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the metrics HTTP endpoint. An empty ListenAddr
// disables it.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Namespace  string `yaml:"namespace"`
}

// Config is the top-level configuration for cmd/idtree-core.
type Config struct {
	TreeDepth int            `yaml:"tree_depth"`
	Watcher   WatcherConfig  `yaml:"watcher"`
	Bridges   []BridgeTarget `yaml:"bridges"`
	Log       LogConfig      `yaml:"log"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// defaultConfig holds the values MergeDefaults fills in for zero fields.
var defaultConfig = Config{
	TreeDepth: 20,
	Watcher: WatcherConfig{
		PollInterval:  15 * time.Second,
		Confirmations: 5,
	},
	Log:     LogConfig{Level: "info", Format: "json"},
	Metrics: MetricsConfig{Namespace: "idtree"},
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	MergeDefaults(&cfg)
	return &cfg, ValidateConfig(&cfg)
}

// MergeDefaults fills zero-valued fields in cfg with defaultConfig's values.
func MergeDefaults(cfg *Config) {
	if cfg.TreeDepth == 0 {
		cfg.TreeDepth = defaultConfig.TreeDepth
	}
	if cfg.Watcher.PollInterval == 0 {
		cfg.Watcher.PollInterval = defaultConfig.Watcher.PollInterval
	}
	if cfg.Watcher.Confirmations == 0 {
		cfg.Watcher.Confirmations = defaultConfig.Watcher.Confirmations
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultConfig.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultConfig.Log.Format
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultConfig.Metrics.Namespace
	}
	for i := range cfg.Bridges {
		if cfg.Bridges[i].RelayingPeriod == 0 {
			cfg.Bridges[i].RelayingPeriod = 30 * time.Second
		}
	}
}

// ValidateConfig checks that cfg is internally consistent enough to run
// from.
func ValidateConfig(cfg *Config) error {
	if cfg.TreeDepth <= 0 || cfg.TreeDepth > 32 {
		return fmt.Errorf("config: tree_depth %d out of range (1-32)", cfg.TreeDepth)
	}
	if cfg.Watcher.ContractAddress == "" {
		return errors.New("config: watcher.contract_address is required")
	}
	if cfg.Watcher.RPCURL == "" {
		return errors.New("config: watcher.rpc_url is required")
	}
	switch cfg.Log.Format {
	case "", "json", "text", "color":
	default:
		return fmt.Errorf("config: log.format %q is not one of json, text, color", cfg.Log.Format)
	}
	for i, b := range cfg.Bridges {
		if b.BridgeContractAddress == "" {
			return fmt.Errorf("config: bridges[%d].bridge_contract_address is required", i)
		}
		if b.RPCURL == "" {
			return fmt.Errorf("config: bridges[%d].rpc_url is required", i)
		}
	}
	return nil
}
