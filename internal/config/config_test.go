package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GRPC.StreamEndpoint != "http://localhost:1999" {
		t.Errorf("stream endpoint = %q", cfg.GRPC.StreamEndpoint)
	}
	if cfg.Kafka.Topic != "injective-data" {
		t.Errorf("topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Kafka.ClientID != "injective-client" {
		t.Errorf("client id = %q", cfg.Kafka.ClientID)
	}
	if cfg.Redis.URL != "redis://127.0.0.1:6379" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Scylla.Keyspace != "injective" {
		t.Errorf("keyspace = %q", cfg.Scylla.Keyspace)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("KAFKA_TOPIC", "test-topic")
	t.Setenv("REDIS_TTL_SECONDS", "300")
	t.Setenv("SCYLLADB_NODES", "10.0.0.1,10.0.0.2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "b1:9092" || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "test-topic" {
		t.Errorf("topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Redis.TTLSeconds != 300 {
		t.Errorf("ttl = %d", cfg.Redis.TTLSeconds)
	}
	if len(cfg.Scylla.Nodes) != 2 || cfg.Scylla.Nodes[0] != "10.0.0.1" {
		t.Errorf("scylla nodes = %v", cfg.Scylla.Nodes)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"kafka": {"topic": "file-topic", "mode": "low-latency"},
		"heartbeat": {"interval": "60s", "include_balances": true}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Kafka.Topic != "file-topic" {
		t.Errorf("topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Kafka.Mode != "low-latency" {
		t.Errorf("mode = %q", cfg.Kafka.Mode)
	}
	if cfg.Heartbeat.Interval != 60*time.Second {
		t.Errorf("interval = %v", cfg.Heartbeat.Interval)
	}
	if !cfg.Heartbeat.IncludeBalances {
		t.Error("include_balances not set from file")
	}
	// Defaults still fill the gaps the file leaves.
	if cfg.Kafka.ClientID != "injective-client" {
		t.Errorf("client id = %q", cfg.Kafka.ClientID)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.Kafka.Mode = "turbo"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown kafka mode")
	}
}
