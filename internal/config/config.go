package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Escrow  EscrowConfig
	Relay   RelayConfig
	Watcher WatcherConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type EscrowConfig struct {
	ChainID int64  `mapstructure:"chain_id"`
	Address string `mapstructure:"address"`
}

type RelayConfig struct {
	WebhookURL  string `mapstructure:"webhook_url"`
	SigningKey  string `mapstructure:"signing_key"`
	BatchSize   int    `mapstructure:"batch_size"`
	IntervalSec int64  `mapstructure:"interval_sec"`
}

type WatcherConfig struct {
	IntervalSec int64 `mapstructure:"interval_sec"`
}

type APIConfig struct {
	RatePerMinute float64 `mapstructure:"rate_per_minute"`
	Burst         int     `mapstructure:"burst"`
	DevMint       bool    `mapstructure:"dev_mint"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// RelayEnabled reports whether events should be pushed to a webhook.
func (c *Config) RelayEnabled() bool { return c.Relay.WebhookURL != "" }

func (c *Config) EscrowAddress() common.Address { return common.HexToAddress(c.Escrow.Address) }

func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.prefix", "escrow:state:")
	v.SetDefault("relay.batch_size", 50)
	v.SetDefault("relay.interval_sec", 5)
	v.SetDefault("watcher.interval_sec", 60)
	v.SetDefault("api.rate_per_minute", 120)
	v.SetDefault("api.burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":          "PORT",
		"server.grpc_port":     "GRPC_PORT",
		"redis.addr":           "REDIS_ADDR",
		"redis.password":       "REDIS_PASSWORD",
		"redis.db":             "REDIS_DB",
		"redis.prefix":         "REDIS_PREFIX",
		"escrow.chain_id":      "CHAIN_ID",
		"escrow.address":       "ESCROW_ADDRESS",
		"relay.webhook_url":    "WEBHOOK_URL",
		"relay.signing_key":    "RELAY_SIGNING_KEY",
		"relay.batch_size":     "RELAY_BATCH_SIZE",
		"relay.interval_sec":   "RELAY_INTERVAL_SEC",
		"watcher.interval_sec": "WATCHER_INTERVAL_SEC",
		"api.rate_per_minute":  "API_RATE_PER_MINUTE",
		"api.burst":            "API_BURST",
		"api.dev_mint":         "API_DEV_MINT",
		"log.level":            "LOG_LEVEL",
		"log.file":             "LOG_FILE",
		"log.max_size_mb":      "LOG_MAX_SIZE_MB",
		"log.max_backups":      "LOG_MAX_BACKUPS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Escrow.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Escrow.ChainID < 0 {
		return fmt.Errorf("invalid CHAIN_ID: %d", c.Escrow.ChainID)
	}
	if c.Escrow.Address == "" {
		return fmt.Errorf("required config missing: ESCROW_ADDRESS")
	}
	if !common.IsHexAddress(c.Escrow.Address) {
		return fmt.Errorf("invalid ESCROW_ADDRESS: %q", c.Escrow.Address)
	}
	if c.RelayEnabled() && c.Relay.SigningKey == "" {
		return fmt.Errorf("required config missing: RELAY_SIGNING_KEY (WEBHOOK_URL is set)")
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("relay.batch_size must be positive, got %d", c.Relay.BatchSize)
	}
	if c.Relay.IntervalSec <= 0 {
		return fmt.Errorf("relay.interval_sec must be positive, got %d", c.Relay.IntervalSec)
	}
	if c.Watcher.IntervalSec <= 0 {
		return fmt.Errorf("watcher.interval_sec must be positive, got %d", c.Watcher.IntervalSec)
	}
	return nil
}
