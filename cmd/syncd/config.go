package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Config represents the daemon configuration.
type Config struct {
	Remote        RemoteConfig         `yaml:"remote"`
	Cache         CacheConfig          `yaml:"cache"`
	Device        DeviceConfig         `yaml:"device"`
	Auth          AuthConfig           `yaml:"auth"`
	Sync          SyncConfig           `yaml:"sync"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Verbose       bool                 `yaml:"-"` // set via CLI flag
}

// RemoteConfig contains remote backend settings.
type RemoteConfig struct {
	Address string        `yaml:"address"` // host:port of the remote gRPC server
	Timeout time.Duration `yaml:"timeout"` // per-write timeout (default: 30s)
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	Path string `yaml:"path"` // SQLite file (default: ./data/teamsync.db)
}

// DeviceConfig identifies this device.
type DeviceConfig struct {
	ID string `yaml:"id"` // optional, auto-generated if empty
}

// AuthConfig carries the session token the daemon acts under.
type AuthConfig struct {
	Token      string        `yaml:"token"`       // signed session token
	SecretEnv  string        `yaml:"secret_env"`  // env var holding the signing secret (default: TEAMSYNC_JWT_SECRET)
	SessionTTL time.Duration `yaml:"session_ttl"` // lifetime of tokens issued by `syncd token` (default: 24h)
}

// SyncConfig tunes the sync coordinators.
type SyncConfig struct {
	PageSize        int           `yaml:"page_size"`        // items per load-older page (default: 20)
	InitialBackoff  time.Duration `yaml:"initial_backoff"`  // first resubscribe delay (default: 500ms)
	MaxBackoff      time.Duration `yaml:"max_backoff"`      // resubscribe delay cap (default: 30s)
	RefetchInterval time.Duration `yaml:"refetch_interval"` // min spacing of catch-up fetches (default: 2s)
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // listen address (default: :9464)
}

// SubscriptionConfig is one collection scope kept in sync.
type SubscriptionConfig struct {
	Collection string `yaml:"collection"` // projects, chat_rooms, messages, tasks, project_members, users
	Scope      string `yaml:"scope"`      // project id, chat room id, or empty for device-global collections
}

// Key returns the subscription as "collection:scope".
func (s SubscriptionConfig) Key() string {
	return s.Collection + ":" + s.Scope
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "./data/teamsync.db"
	}
	if c.Device.ID == "" {
		c.Device.ID = uuid.New().String()
	}
	if c.Auth.SecretEnv == "" {
		c.Auth.SecretEnv = "TEAMSYNC_JWT_SECRET"
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = 24 * time.Hour
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 20
	}
	if c.Sync.InitialBackoff <= 0 {
		c.Sync.InitialBackoff = 500 * time.Millisecond
	}
	if c.Sync.MaxBackoff <= 0 {
		c.Sync.MaxBackoff = 30 * time.Second
	}
	if c.Sync.RefetchInterval <= 0 {
		c.Sync.RefetchInterval = 2 * time.Second
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9464"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Remote.Address == "" {
		return fmt.Errorf("remote.address is required")
	}
	if c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		return fmt.Errorf("sync.max_backoff must not be below sync.initial_backoff")
	}
	if len(c.Subscriptions) == 0 {
		return fmt.Errorf("at least one subscription is required")
	}
	seen := make(map[string]bool, len(c.Subscriptions))
	for i, sub := range c.Subscriptions {
		coll, ok := models.ParseCollection(sub.Collection)
		if !ok {
			return fmt.Errorf("subscriptions[%d].collection %q is unknown", i, sub.Collection)
		}
		global := coll == models.CollectionProjects || coll == models.CollectionUsers
		if global && sub.Scope != "" {
			return fmt.Errorf("subscriptions[%d]: %s takes no scope", i, coll)
		}
		if !global && sub.Scope == "" {
			return fmt.Errorf("subscriptions[%d].scope is required for %s", i, coll)
		}
		if seen[sub.Key()] {
			return fmt.Errorf("subscriptions[%d]: duplicate %s", i, sub.Key())
		}
		seen[sub.Key()] = true
	}
	return nil
}
