package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Chain.RPCTimeout == 0 {
		cfg.Chain.RPCTimeout = 10 * time.Second
	}
	if cfg.ObjectStore.Timeout == 0 {
		cfg.ObjectStore.Timeout = 30 * time.Second
	}
	if cfg.Signer.Timeout == 0 {
		cfg.Signer.Timeout = 10 * time.Second
	}
	if cfg.Watcher.PollingInterval == 0 {
		cfg.Watcher.PollingInterval = 10 * time.Second
	}
	if cfg.Watcher.MaxBlockWindow == 0 {
		cfg.Watcher.MaxBlockWindow = 1000
	}
	if cfg.Watcher.ConfirmationDepth == 0 {
		cfg.Watcher.ConfirmationDepth = 5
	}
	if cfg.Watcher.ReorgSafetyMargin == 0 {
		cfg.Watcher.ReorgSafetyMargin = 25
	}
	if cfg.Dispatch.TaskDeadline == 0 {
		cfg.Dispatch.TaskDeadline = 5 * time.Minute
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 4
	}
	if cfg.Reputation.TimeoutLimit == 0 {
		cfg.Reputation.TimeoutLimit = 3
	}
	if cfg.Reputation.SlashCooldown == 0 {
		cfg.Reputation.SlashCooldown = 24 * time.Hour
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 15 * time.Second
	}
	if cfg.Health.StalenessBlocks == 0 {
		cfg.Health.StalenessBlocks = 100
	}
	if cfg.Health.UnfulfilledLookback == 0 {
		cfg.Health.UnfulfilledLookback = 5000
	}
	if cfg.Health.GracePeriod == 0 {
		cfg.Health.GracePeriod = 10 * time.Minute
	}
	if cfg.Health.RegistryAddress == "" {
		cfg.Health.RegistryAddress = cfg.Watcher.RegistryAddress
	}
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = 10 * time.Minute
	}
}

// Validate rejects configurations the engine cannot run with.
func (cfg *AppConfig) Validate() error {
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.Watcher.RegistryAddress == "" {
		return fmt.Errorf("watcher.registry_address is required")
	}
	if cfg.ObjectStore.GatewayURL == "" {
		return fmt.Errorf("object_store.gateway_url is required")
	}
	if cfg.Dispatch.WorkerAddress == "" {
		return fmt.Errorf("dispatch.worker_address is required")
	}
	if cfg.Watcher.ConfirmationDepth >= cfg.Watcher.MaxBlockWindow {
		return fmt.Errorf("watcher.confirmation_depth (%d) must be below max_block_window (%d)",
			cfg.Watcher.ConfirmationDepth, cfg.Watcher.MaxBlockWindow)
	}
	if cfg.Redis.Enabled && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis.enabled")
	}
	return nil
}
