package config

import (
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("S3_ENDPOINT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage != StorageMemory {
		t.Fatalf("storage = %q", cfg.Storage)
	}
	if cfg.RelayEnabled() || cfg.AttachmentsEnabled() {
		t.Fatal("relay and attachments must be off without brokers and endpoint")
	}
	if cfg.TypingScope != "room" || !cfg.RoomJoinAuthz {
		t.Fatalf("unexpected realtime defaults: %+v", cfg)
	}
	if cfg.WSSendBuffer != 64 || cfg.WSFramesPerSecond != 20 {
		t.Fatalf("unexpected websocket defaults: %d %v", cfg.WSSendBuffer, cfg.WSFramesPerSecond)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("retry backoff = %v", cfg.RetryBackoff)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("TYPING_SCOPE", "GLOBAL")
	t.Setenv("ROOM_JOIN_AUTHZ", "off")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.KafkaBrokers, "|"); got != "a:9092|b:9092" {
		t.Fatalf("brokers = %q", got)
	}
	if cfg.TypingScope != "global" || cfg.RoomJoinAuthz {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if cfg.S3PublicEndpoint != "http://minio:9000" {
		t.Fatalf("public endpoint should fall back to endpoint, got %q", cfg.S3PublicEndpoint)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"mongo without uri": {"STORAGE", "mongo"},
		"unknown storage":   {"STORAGE", "redis"},
		"bad duration":      {"IDEMP_TTL", "soon"},
		"bad bool":          {"ROOM_JOIN_AUTHZ", "maybe"},
		"bad int":           {"WS_SEND_BUFFER", "many"},
		"zero buffer":       {"WS_SEND_BUFFER", "0"},
		"bad typing scope":  {"TYPING_SCOPE", "everyone"},
		"bad backoff":       {"RETRY_BACKOFF", "1s,later"},
		"bad message store": {"MESSAGE_STORE", "sqlite"},
		"bad consistency":   {"SCYLLA_CONSISTENCY", "most"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MONGO_URI", "")
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestLoadScyllaMessageStore(t *testing.T) {
	t.Setenv("MESSAGE_STORE", "scylla")
	t.Setenv("SCYLLA_HOSTS", "scylla-1, scylla-2")
	t.Setenv("SCYLLA_CONSISTENCY", "local_quorum")
	t.Setenv("SCYLLA_REPLICATION_FACTOR", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MessageStore != StorageScylla || len(cfg.ScyllaHosts) != 2 {
		t.Fatalf("scylla settings = %+v", cfg)
	}
	if cfg.ScyllaConsistency != gocql.LocalQuorum || cfg.ScyllaReplication != 1 {
		t.Fatalf("consistency = %v replication = %d", cfg.ScyllaConsistency, cfg.ScyllaReplication)
	}
	if cfg.ScyllaKeyspace != "chatline_messages" || cfg.ScyllaTimeout != 5*time.Second {
		t.Fatalf("keyspace = %q timeout = %v", cfg.ScyllaKeyspace, cfg.ScyllaTimeout)
	}
}
