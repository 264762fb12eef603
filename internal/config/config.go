package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr      string
	PublicURL string
	LogLevel  string
	LogDev    bool

	RelayIdle time.Duration

	BootstrapURL     string
	ProvisionTimeout time.Duration
	Retry            int

	CacheDSN       string
	Namespace      string
	BroadcastDelay time.Duration
	ReconnectLimit int
	ReconnectWait  time.Duration
}

// Load reads HIVE_* variables, after loading a .env file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("hive")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("public_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("relay_idle", "30s")
	v.SetDefault("bootstrap_url", "http://localhost:8080/workers")
	v.SetDefault("provision_timeout", "6s")
	v.SetDefault("retry", 2)
	v.SetDefault("cache_dsn", "hive-cache.db")
	v.SetDefault("namespace", "thehive")
	v.SetDefault("broadcast_delay", "500ms")
	v.SetDefault("reconnect_limit", 10)
	v.SetDefault("reconnect_wait", "2s")

	cfg := Config{
		Addr:             v.GetString("addr"),
		PublicURL:        v.GetString("public_url"),
		LogLevel:         v.GetString("log_level"),
		LogDev:           v.GetBool("log_dev"),
		RelayIdle:        v.GetDuration("relay_idle"),
		BootstrapURL:     v.GetString("bootstrap_url"),
		ProvisionTimeout: v.GetDuration("provision_timeout"),
		Retry:            v.GetInt("retry"),
		CacheDSN:         v.GetString("cache_dsn"),
		Namespace:        v.GetString("namespace"),
		BroadcastDelay:   v.GetDuration("broadcast_delay"),
		ReconnectLimit:   v.GetInt("reconnect_limit"),
		ReconnectWait:    v.GetDuration("reconnect_wait"),
	}
	if cfg.Retry < 0 {
		return Config{}, fmt.Errorf("HIVE_RETRY must not be negative, got %d", cfg.Retry)
	}
	if cfg.ProvisionTimeout <= 0 {
		return Config{}, fmt.Errorf("HIVE_PROVISION_TIMEOUT must be positive, got %s", cfg.ProvisionTimeout)
	}
	return cfg, nil
}
