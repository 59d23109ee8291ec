package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env     string        `mapstructure:"env"`
	Client  ClientConfig  `mapstructure:"client"`
	Backend BackendConfig `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	History HistoryConfig `mapstructure:"history"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Server  ServerConfig  `mapstructure:"server"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Probe   ProbeConfig   `mapstructure:"probe"`
}

type ClientConfig struct {
	Name string `mapstructure:"name"`
}

type BackendConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type HistoryConfig struct {
	Limit       int `mapstructure:"limit"`
	SyncTimeout int `mapstructure:"sync_timeout"`
}

type PollerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	IntervalMs  int `mapstructure:"interval_ms"`
}

type AgentsConfig struct {
	RefreshInterval int `mapstructure:"refresh_interval"`
	CacheTTL        int `mapstructure:"cache_ttl"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Brokers []string    `mapstructure:"brokers"`
	Topics  KafkaTopics `mapstructure:"topics"`
}

type KafkaTopics struct {
	History string `mapstructure:"history"`
}

type ProbeConfig struct {
	Count      int  `mapstructure:"count"`
	Timeout    int  `mapstructure:"timeout"`
	Privileged bool `mapstructure:"privileged"`
}

const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"
)

// Load reads defaults, then the YAML file at path (or ./config/local.yaml when
// path is empty), then environment variables such as BACKEND_URL.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("local")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("client.name", "aeza-client")

	// Backend defaults
	v.SetDefault("backend.url", "http://localhost:8000/api")
	v.SetDefault("backend.timeout", 10)

	// Storage defaults
	v.SetDefault("storage.driver", StorageDriverFile)
	v.SetDefault("storage.path", ".aeza")

	// History defaults
	v.SetDefault("history.limit", 50)
	v.SetDefault("history.sync_timeout", 10)

	// Poller defaults
	v.SetDefault("poller.max_attempts", 60)
	v.SetDefault("poller.interval_ms", 2000)

	// Agents defaults
	v.SetDefault("agents.refresh_interval", 10)
	v.SetDefault("agents.cache_ttl", 60)

	// Server defaults
	v.SetDefault("server.addr", ":8090")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.history", "check-history")

	// Probe defaults
	v.SetDefault("probe.count", 4)
	v.SetDefault("probe.timeout", 5)
	v.SetDefault("probe.privileged", false)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend.url is required")
	}

	switch c.Storage.Driver {
	case StorageDriverFile, StorageDriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverFile, StorageDriverSQLite, c.Storage.Driver)
	}

	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive, got %d", c.History.Limit)
	}
	if c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("poller.max_attempts must be positive, got %d", c.Poller.MaxAttempts)
	}
	if c.Poller.IntervalMs < 0 {
		return fmt.Errorf("poller.interval_ms must not be negative, got %d", c.Poller.IntervalMs)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}

	return nil
}

func (c *Config) GetBackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

func (c *Config) GetSyncTimeout() time.Duration {
	return time.Duration(c.History.SyncTimeout) * time.Second
}

func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMs) * time.Millisecond
}

func (c *Config) GetAgentsRefreshInterval() time.Duration {
	return time.Duration(c.Agents.RefreshInterval) * time.Second
}

func (c *Config) GetAgentsCacheTTL() time.Duration {
	return time.Duration(c.Agents.CacheTTL) * time.Second
}

func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Probe.Timeout) * time.Second
}
