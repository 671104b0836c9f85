package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CHAIN_ID", "16602")
	t.Setenv("ESCROW_ADDRESS", "0xE5C0000000000000000000000000000000000001")
	t.Setenv("API_DEV_MINT", "true")
	t.Setenv("WATCHER_INTERVAL_SEC", "15")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Escrow.ChainID != 16602 || cfg.EscrowAddress().Hex() != "0xE5C0000000000000000000000000000000000001" {
		t.Errorf("escrow = %+v", cfg.Escrow)
	}
	if !cfg.API.DevMint || cfg.Watcher.IntervalSec != 15 {
		t.Errorf("env overrides not applied: %+v %+v", cfg.API, cfg.Watcher)
	}
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 || cfg.Relay.BatchSize != 50 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Server, cfg.Relay)
	}
	if cfg.RelayEnabled() {
		t.Error("relay enabled without webhook")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("CHAIN_ID", "")
	t.Setenv("ESCROW_ADDRESS", "")
	_, err := load(viper.New())
	if err == nil || !strings.Contains(err.Error(), "CHAIN_ID") {
		t.Fatalf("err = %v, want missing CHAIN_ID", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Escrow:  EscrowConfig{ChainID: 1, Address: "0xE5C0000000000000000000000000000000000001"},
			Relay:   RelayConfig{BatchSize: 10, IntervalSec: 5},
			Watcher: WatcherConfig{IntervalSec: 60},
		}
	}
	if err := base().validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cases := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad address", func(c *Config) { c.Escrow.Address = "nope" }, "ESCROW_ADDRESS"},
		{"webhook without key", func(c *Config) { c.Relay.WebhookURL = "http://hook" }, "RELAY_SIGNING_KEY"},
		{"zero batch", func(c *Config) { c.Relay.BatchSize = 0 }, "batch_size"},
		{"zero watcher interval", func(c *Config) { c.Watcher.IntervalSec = 0 }, "watcher.interval_sec"},
		{"negative chain id", func(c *Config) { c.Escrow.ChainID = -1 }, "CHAIN_ID"},
		{"zero relay interval", func(c *Config) { c.Relay.IntervalSec = 0 }, "relay.interval_sec"},
		{"negative relay interval", func(c *Config) { c.Relay.IntervalSec = -3 }, "relay.interval_sec"},
	}
	for _, tc := range cases {
		c := base()
		tc.mut(c)
		err := c.validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want mention of %s", tc.name, err, tc.want)
		}
	}
}
