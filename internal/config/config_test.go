package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("MAX_CONNECTIONS")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConnections != 50 {
		t.Fatalf("expected default max_connections 50, got %d", cfg.MaxConnections)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
	if cfg.HeartbeatInterval >= cfg.OrphanThreshold {
		t.Fatalf("default heartbeat_interval must be < orphan_threshold")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxConnections = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for max_connections <= 0")
	}

	cfg = defaultConfig()
	cfg.HeartbeatInterval = cfg.OrphanThreshold
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error when heartbeat_interval == orphan_threshold")
	}

	cfg = defaultConfig()
	cfg.ProxyURL = "ftp://proxy.example.test"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for non-http(s) proxy_url")
	}

	cfg = defaultConfig()
	cfg.BlobStore.Kind = "carrier-pigeon"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown blob_store.kind")
	}

	cfg = defaultConfig()
	cfg.BlobStore.Kind = "sql"
	cfg.BlobStore.SQL.Driver = "mysql"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unsupported blob_store.sql.driver")
	}
}

func TestTTLFloors(t *testing.T) {
	cfg := defaultConfig()
	cfg.OrphanThreshold = time.Second
	if cfg.InflightTTL() != time.Hour {
		t.Fatalf("expected InflightTTL floored at 1h, got %s", cfg.InflightTTL())
	}
	cfg.HeartbeatInterval = time.Millisecond
	if cfg.GCLockTTL() != 2*time.Minute {
		t.Fatalf("expected GCLockTTL floored at 2m, got %s", cfg.GCLockTTL())
	}
}
