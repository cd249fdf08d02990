package config

import (
	"time"

	"github.com/vietddude/mechwatch/internal/core/reputation"
	"github.com/vietddude/mechwatch/internal/engine/dispatch"
	"github.com/vietddude/mechwatch/internal/engine/publish"
	"github.com/vietddude/mechwatch/internal/engine/watcher"
	"github.com/vietddude/mechwatch/internal/health"
	redisclient "github.com/vietddude/mechwatch/internal/infra/redis"
	"github.com/vietddude/mechwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Chain       ChainConfig       `yaml:"chain"`
	Watcher     watcher.Config    `yaml:"watcher"`
	Dispatch    dispatch.Config   `yaml:"dispatch"`
	Publish     publish.Config    `yaml:"publish"`
	Reputation  reputation.Config `yaml:"reputation"`
	Health      health.Config     `yaml:"health"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Signer      SignerConfig      `yaml:"signer"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    postgres.Config   `yaml:"database"`

	// Tools lists the tool names that must have a registered handler;
	// startup fails on a missing binding. Credentials carries per-tool
	// secrets, normally injected via ${ENV_VAR} expansion.
	Tools       []string                     `yaml:"tools"`
	Credentials map[string]map[string]string `yaml:"credentials"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ChainConfig holds the RPC endpoint settings.
type ChainConfig struct {
	RPCURL     string        `yaml:"rpc_url"`
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
}

// ObjectStoreConfig holds the content-addressed store settings.
type ObjectStoreConfig struct {
	GatewayURL string        `yaml:"gateway_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SignerConfig holds the transaction signer settings.
type SignerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig holds the optional shared dispatch lease settings.
type RedisConfig struct {
	redisclient.Config `yaml:",inline"`

	// Enabled turns the distributed lease on. Off for single-replica runs.
	Enabled  bool          `yaml:"enabled"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
