package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/campbellsync/internal/domain"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults.
const (
	DefaultSQLiteDSN   = "campbellsync.db"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultRetryDelay  = time.Second
	DefaultWorkers     = 1
	DefaultTopicPrefix = "campbellsync"
	DefaultClientID    = "campbellsync"
	DefaultRedisTTL    = 24 * time.Hour
)

// Config is a loaded configuration file.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// StoreConfig selects the time-series store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// HTTPConfig configures the datalogger fetcher.
type HTTPConfig struct {
	Timeout    Duration `yaml:"timeout"`
	Retries    int      `yaml:"retries"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// ReconcileConfig configures the sensor reconciler.
type ReconcileConfig struct {
	Workers int `yaml:"workers"`
}

// MetricsConfig enables the /metrics and /health listener when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig enables cycle status publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// RedisConfig enables the last-value cache when Addr is set.
type RedisConfig struct {
	Addr string   `yaml:"addr"`
	TTL  Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SourceConfig is one datalogger to poll.
type SourceConfig struct {
	Name     string   `yaml:"name"`
	Host     string   `yaml:"host"`
	Table    string   `yaml:"table"`
	Schedule string   `yaml:"schedule"`
	TZOffset Duration `yaml:"tz_offset"`
	Device   string   `yaml:"device"`
	Overlap  string   `yaml:"overlap"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			verr.Path = path
			return nil, verr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a configuration document.
func Parse(raw []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(raw)))

	var doc any
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil, &Error{Errs: []ValidationError{{
			Field: "config", Message: "document is empty", Code: ErrSchema,
		}}}
	}
	if errs := checkSchema(doc); len(errs) > 0 {
		return nil, &Error{Errs: errs}
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, &Error{Errs: errs}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = DefaultSQLiteDSN
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = Duration(DefaultHTTPTimeout)
	}
	if c.HTTP.RetryDelay == 0 {
		c.HTTP.RetryDelay = Duration(DefaultRetryDelay)
	}
	if c.Reconcile.Workers == 0 {
		c.Reconcile.Workers = DefaultWorkers
	}
	if c.MQTT.Enabled() {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = DefaultClientID
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
	if c.Redis.Enabled() && c.Redis.TTL == 0 {
		c.Redis.TTL = Duration(DefaultRedisTTL)
	}
	for i := range c.Sources {
		if c.Sources[i].Overlap == "" {
			c.Sources[i].Overlap = string(domain.OverlapSkip)
		}
	}
}

// Devices converts the sources into runner configurations.
func (c *Config) Devices() []domain.DeviceConfig {
	out := make([]domain.DeviceConfig, len(c.Sources))
	for i, s := range c.Sources {
		// Overlap was checked by the schema.
		overlap, _ := domain.ParseOverlap(s.Overlap)
		out[i] = domain.DeviceConfig{
			Name:      s.Name,
			Host:      s.Host,
			Table:     s.Table,
			Schedule:  s.Schedule,
			TZOffset:  s.TZOffset.Std(),
			DeviceRef: s.Device,
			Overlap:   overlap,
		}
	}
	return out
}

// Source returns the source with the given name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}
