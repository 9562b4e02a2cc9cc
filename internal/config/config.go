package config

import (
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the infirmary daemon.
type Config struct {
	StateDir          string
	ListenAddr        string
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	MinTTL            time.Duration
	MaxTTL            time.Duration
	DigestModel       string
	DigestInterval    time.Duration
	JSONLogs          bool
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/infirmaryd).
func Load() Config {
	return Config{
		StateDir:          viper.GetString("state_dir"),
		ListenAddr:        viper.GetString("listen_addr"),
		HeartbeatInterval: viper.GetDuration("heartbeat_interval"),
		SweepInterval:     viper.GetDuration("sweep_interval"),
		MinTTL:            viper.GetDuration("ttl_min"),
		MaxTTL:            viper.GetDuration("ttl_max"),
		DigestModel:       viper.GetString("digest_model"),
		DigestInterval:    viper.GetDuration("digest_interval"),
		JSONLogs:          viper.GetBool("json_logs"),
	}
}
