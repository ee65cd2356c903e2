// Package config defines all configuration for the pipeline.
// Config is loaded from a JSON file referenced by the CONFIG_FILE environment
// variable, or — absent that variable — directly from environment variables.
// Unknown variables are ignored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON file structure.
type Config struct {
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// GRPCConfig holds the chain endpoints. StreamEndpoint serves the long-lived
// event stream; QueryEndpoint serves the heartbeat snapshot queries. Both
// accept the http://host:port form.
type GRPCConfig struct {
	StreamEndpoint string `mapstructure:"stream_endpoint"`
	QueryEndpoint  string `mapstructure:"query_endpoint"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// KafkaConfig holds the log broker settings shared by the producer and the
// per-sink consumers. Mode selects the producer profile: "high-throughput"
// (compressed, larger batches) or "low-latency" (per-record sends).
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	ClientID      string   `mapstructure:"client_id"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Mode          string   `mapstructure:"mode"`
	MaxInflight   int      `mapstructure:"max_inflight"`
	BatchSize     int      `mapstructure:"batch_size"`
}

// RedisConfig holds the cache endpoint plus the pub/sub fan-out settings.
// TTLSeconds of zero means no expiry on cache values.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	PubSubPrefix  string `mapstructure:"pubsub_prefix"`
	PubSubSharded bool   `mapstructure:"pubsub_sharded"`
	PubSubBinary  bool   `mapstructure:"pubsub_binary"`
}

// ScyllaConfig holds the wide-column store settings.
type ScyllaConfig struct {
	Nodes    []string `mapstructure:"nodes"`
	Keyspace string   `mapstructure:"keyspace"`
}

// HeartbeatConfig controls the snapshot poller. Balance snapshots are
// operator-gated because they are large and rarely needed.
type HeartbeatConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	IncludeBalances bool          `mapstructure:"include_balances"`
}

// PubSubConfig sizes the fan-out publisher.
type PubSubConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	PoolSize  int `mapstructure:"pool_size"`
	Workers   int `mapstructure:"workers"`
}

// OpsConfig controls the operational HTTP server (health, metrics, event tap).
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults applied before any source is read.
func defaults(v *viper.Viper) {
	v.SetDefault("grpc.stream_endpoint", "http://localhost:1999")
	v.SetDefault("grpc.query_endpoint", "http://localhost:9900")
	v.SetDefault("grpc.max_retries", 5)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "injective-data")
	v.SetDefault("kafka.client_id", "injective-client")
	v.SetDefault("kafka.consumer_group", "injective-pipeline")
	v.SetDefault("kafka.mode", "high-throughput")
	v.SetDefault("kafka.max_inflight", 8)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("redis.url", "redis://127.0.0.1:6379")
	v.SetDefault("redis.pubsub_prefix", "inj:exchange")
	v.SetDefault("redis.pubsub_sharded", true)
	v.SetDefault("redis.pubsub_binary", true)
	v.SetDefault("scylla.nodes", []string{"127.0.0.1"})
	v.SetDefault("scylla.keyspace", "injective")
	v.SetDefault("heartbeat.interval", 30*time.Second)
	v.SetDefault("pubsub.queue_size", 10000)
	v.SetDefault("pubsub.pool_size", 5)
	v.SetDefault("pubsub.workers", 3)
	v.SetDefault("ops.addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads config from the JSON file named by CONFIG_FILE, falling back
// to environment variables when the variable is unset.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides binds the flat deployment variables. These win over both
// defaults and the config file.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("GRPC_STREAM_ENDPOINT"); s != "" {
		cfg.GRPC.StreamEndpoint = s
	}
	if s := os.Getenv("GRPC_QUERY_ENDPOINT"); s != "" {
		cfg.GRPC.QueryEndpoint = s
	}
	if s := os.Getenv("KAFKA_BROKERS"); s != "" {
		cfg.Kafka.Brokers = splitList(s)
	}
	if s := os.Getenv("KAFKA_TOPIC"); s != "" {
		cfg.Kafka.Topic = s
	}
	if s := os.Getenv("KAFKA_CLIENT_ID"); s != "" {
		cfg.Kafka.ClientID = s
	}
	if s := os.Getenv("KAFKA_CONSUMER_GROUP"); s != "" {
		cfg.Kafka.ConsumerGroup = s
	}
	if s := os.Getenv("REDIS_URL"); s != "" {
		cfg.Redis.URL = s
	}
	if s := os.Getenv("REDIS_TTL_SECONDS"); s != "" {
		if ttl, err := strconv.Atoi(s); err == nil {
			cfg.Redis.TTLSeconds = ttl
		}
	}
	// Both spellings are seen in deployments.
	if s := os.Getenv("SCYLLA_NODES"); s != "" {
		cfg.Scylla.Nodes = splitList(s)
	} else if s := os.Getenv("SCYLLADB_NODES"); s != "" {
		cfg.Scylla.Nodes = splitList(s)
	}
	if s := os.Getenv("SCYLLA_KEYSPACE"); s != "" {
		cfg.Scylla.Keyspace = s
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.GRPC.StreamEndpoint == "" {
		return fmt.Errorf("grpc.stream_endpoint is required (set GRPC_STREAM_ENDPOINT)")
	}
	if c.GRPC.QueryEndpoint == "" {
		return fmt.Errorf("grpc.query_endpoint is required (set GRPC_QUERY_ENDPOINT)")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required (set KAFKA_BROKERS)")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required (set KAFKA_TOPIC)")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka.consumer_group is required (set KAFKA_CONSUMER_GROUP)")
	}
	switch c.Kafka.Mode {
	case "high-throughput", "low-latency":
	default:
		return fmt.Errorf("kafka.mode must be one of: high-throughput, low-latency")
	}
	if c.Kafka.MaxInflight <= 0 {
		return fmt.Errorf("kafka.max_inflight must be > 0")
	}
	if c.Kafka.BatchSize <= 0 {
		return fmt.Errorf("kafka.batch_size must be > 0")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required (set REDIS_URL)")
	}
	if len(c.Scylla.Nodes) == 0 {
		return fmt.Errorf("scylla.nodes is required (set SCYLLA_NODES)")
	}
	if c.Scylla.Keyspace == "" {
		return fmt.Errorf("scylla.keyspace is required (set SCYLLA_KEYSPACE)")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be > 0")
	}
	if c.PubSub.QueueSize <= 0 || c.PubSub.PoolSize <= 0 || c.PubSub.Workers <= 0 {
		return fmt.Errorf("pubsub.queue_size, pubsub.pool_size and pubsub.workers must be > 0")
	}
	return nil
}
