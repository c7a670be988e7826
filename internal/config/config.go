// Package config loads the cfgstore server configuration from YAML
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/nainya/cfgstore/pkg/query"
)

// Config is the full server configuration.
type Config struct {
	App           AppConfig           `yaml:"app"`
	GRPC          GRPCConfig          `yaml:"grpc"`
	REST          RESTConfig          `yaml:"rest"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
	Storage       StorageConfig       `yaml:"storage"`
	Query         QueryConfig         `yaml:"query"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	Events        EventsConfig        `yaml:"events"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// GRPCConfig holds the RPC listener settings.
type GRPCConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RESTConfig holds the HTTP listener settings. Port 0 disables REST.
type RESTConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ObservabilityConfig holds the metrics and health listener.
type ObservabilityConfig struct {
	Port  int  `yaml:"port"`
	Pprof bool `yaml:"pprof"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	WithCaller bool   `yaml:"with_caller"`
}

// StorageConfig controls persistence. An empty WALPath keeps everything in
// memory.
type StorageConfig struct {
	WALPath            string        `yaml:"wal_path"`
	NoSync             bool          `yaml:"no_sync"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// QueryConfig bounds listing pages.
type QueryConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// SnapshotConfig bounds snapshots.
type SnapshotConfig struct {
	MaxFilters       int           `yaml:"max_filters"`
	MaxItems         int           `yaml:"max_items"`
	MinRetention     time.Duration `yaml:"min_retention"`
	MaxRetention     time.Duration `yaml:"max_retention"`
	DefaultRetention time.Duration `yaml:"default_retention"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
}

// EventsConfig selects where change events go. An empty Sink disables them.
type EventsConfig struct {
	Sink  string      `yaml:"sink"` // "", "kafka" or "redis"
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig configures the Redis pub/sub sink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App:           AppConfig{Name: "cfgstore", Environment: "dev"},
		GRPC:          GRPCConfig{Port: 50051, ShutdownTimeout: 10 * time.Second},
		REST:          RESTConfig{Port: 8080, ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second},
		Observability: ObservabilityConfig{Port: 9090},
		Log:           LogConfig{Level: "info"},
		Storage:       StorageConfig{CheckpointInterval: 10 * time.Minute},
		Query:         QueryConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		Snapshot: SnapshotConfig{
			MaxFilters:       3,
			MaxItems:         60000,
			MinRetention:     time.Hour,
			MaxRetention:     90 * 24 * time.Hour,
			DefaultRetention: 30 * 24 * time.Hour,
			PurgeInterval:    time.Minute,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{Topic: "cfgstore.changes"},
			Redis: RedisConfig{Channel: "cfgstore.changes"},
		},
	}
}

// Load reads path over the defaults and merges any overlays in order. An
// empty path yields the defaults.
func Load(path string, overlays ...string) (*Config, error) {
	cfg := Default()
	for _, p := range append([]string{path}, overlays...) {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", p, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	checkPort := func(name string, port int, optional bool) {
		if optional && port == 0 {
			return
		}
		if port < 1 || port > 65535 {
			add("%s: port %d out of range", name, port)
		}
	}
	checkPort("grpc", c.GRPC.Port, false)
	checkPort("rest", c.REST.Port, true)
	checkPort("observability", c.Observability.Port, true)

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level: unknown level %q", c.Log.Level)
	}

	if c.Storage.WALPath != "" && c.Storage.CheckpointInterval < 0 {
		add("storage.checkpoint_interval must not be negative")
	}

	if c.Query.MaxPageSize > query.MaxPageSize {
		add("query.max_page_size %d exceeds %d", c.Query.MaxPageSize, query.MaxPageSize)
	}
	if c.Query.DefaultPageSize < 1 || c.Query.DefaultPageSize > c.Query.MaxPageSize {
		add("query.default_page_size %d must be between 1 and max_page_size %d", c.Query.DefaultPageSize, c.Query.MaxPageSize)
	}

	s := c.Snapshot
	if s.MaxFilters < 1 {
		add("snapshot.max_filters must be positive")
	}
	if s.MaxItems < 1 {
		add("snapshot.max_items must be positive")
	}
	if s.MinRetention <= 0 || s.MinRetention > s.MaxRetention {
		add("snapshot retention range [%s, %s] is invalid", s.MinRetention, s.MaxRetention)
	}
	if s.DefaultRetention < s.MinRetention || s.DefaultRetention > s.MaxRetention {
		add("snapshot.default_retention %s is outside [%s, %s]", s.DefaultRetention, s.MinRetention, s.MaxRetention)
	}
	if s.PurgeInterval <= 0 {
		add("snapshot.purge_interval must be positive")
	}

	switch c.Events.Sink {
	case "":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			add("events.kafka needs brokers and a topic")
		}
	case "redis":
		if c.Events.Redis.Addr == "" || c.Events.Redis.Channel == "" {
			add("events.redis needs an addr and a channel")
		}
	default:
		add("events.sink: unknown sink %q", c.Events.Sink)
	}

	return result.ErrorOrNil()
}
