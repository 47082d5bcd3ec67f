// Package config loads graphsyncd's startup configuration from a YAML
// file, layering environment variable overrides on top and validating
// the result before the daemon starts accepting sync traffic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is graphsyncd's full startup configuration.
type Config struct {
	InstanceID string   `yaml:"instance_id"`
	DataDir    string   `yaml:"data_dir"`
	ListenAddr string   `yaml:"listen_addr"`
	GRPCAddr   string   `yaml:"grpc_addr"`
	PeerAddrs  []string `yaml:"peer_addrs"`
	Sessions   []string `yaml:"sessions"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	FullSyncChangeRatio float64       `yaml:"full_sync_change_ratio"`
	StrategyWindow      time.Duration `yaml:"strategy_window"`
	IncrementalHorizon  time.Duration `yaml:"incremental_horizon"`

	PruneRetentionDays int           `yaml:"prune_retention_days"`
	PruneInterval      time.Duration `yaml:"prune_interval"`
}

// Default returns the configuration graphsyncd runs with when no file
// and no environment overrides are present.
func Default() Config {
	return Config{
		DataDir:             "./data",
		ListenAddr:          ":7420",
		GRPCAddr:            ":7421",
		LogLevel:            "info",
		LogJSON:             false,
		FullSyncChangeRatio: 0.30,
		StrategyWindow:      24 * time.Hour,
		IncrementalHorizon:  7 * 24 * time.Hour,
		PruneRetentionDays:  30,
		PruneInterval:       1 * time.Hour,
	}
}

// Load reads path (if non-empty and present), falls back to Default
// for anything the file doesn't set, applies environment overrides,
// and validates the result. A missing path is not an error; an
// unreadable or malformed existing file is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyAndValidate(cfg)
			}
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	return applyAndValidate(cfg)
}

func applyAndValidate(cfg Config) (Config, error) {
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies GRAPHSYNC_*-prefixed environment variables
// on top of whatever Default/the config file already set, so operators
// can override individual fields without maintaining a full file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GRAPHSYNC_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}
	if v := os.Getenv("GRAPHSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("GRAPHSYNC_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("GRAPHSYNC_GRPC_ADDR"); v != "" {
		c.GRPCAddr = v
	}
	if v := os.Getenv("GRAPHSYNC_PEER_ADDRS"); v != "" {
		c.PeerAddrs = splitCSV(v)
	}
	if v := os.Getenv("GRAPHSYNC_SESSIONS"); v != "" {
		c.Sessions = splitCSV(v)
	}
	if v := os.Getenv("GRAPHSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GRAPHSYNC_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogJSON = b
		}
	}
	if v := os.Getenv("GRAPHSYNC_FULL_SYNC_CHANGE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.FullSyncChangeRatio = f
		}
	}
	if v := os.Getenv("GRAPHSYNC_STRATEGY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.StrategyWindow = d
		}
	}
	if v := os.Getenv("GRAPHSYNC_INCREMENTAL_HORIZON"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IncrementalHorizon = d
		}
	}
	if v := os.Getenv("GRAPHSYNC_PRUNE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PruneRetentionDays = n
		}
	}
	if v := os.Getenv("GRAPHSYNC_PRUNE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PruneInterval = d
		}
	}
}

// splitCSV splits a comma-separated environment value into trimmed,
// non-empty fields.
func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the daemon cannot safely start with.
func (c Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.FullSyncChangeRatio <= 0 || c.FullSyncChangeRatio > 1 {
		return fmt.Errorf("full_sync_change_ratio must be in (0, 1]; got %v", c.FullSyncChangeRatio)
	}
	if c.PruneRetentionDays < 0 {
		return fmt.Errorf("prune_retention_days must not be negative; got %d", c.PruneRetentionDays)
	}
	return nil
}
