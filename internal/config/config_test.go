package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtdb.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.SelfID != "node-1" {
		t.Fatalf("unexpected default: %+v", cfg.Cluster)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPC.ListenAddr != cfg.RPC.ListenAddr {
		t.Fatalf("reloaded config mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadAppliesEnvInterpolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtdb.yaml")
	os.Setenv("RTDB_TEST_ADDR", "10.0.0.5:7700")
	defer os.Unsetenv("RTDB_TEST_ADDR")

	raw := "data_dir: " + dir + "\n" +
		"cluster:\n  self_id: node-1\n  hosts:\n    - id: node-1\n      addr: \"${RTDB_TEST_ADDR}\"\n      priority: 100\n" +
		"pipeline:\n  tables: []\n" +
		"telemetry:\n  alert_prefix: alert\n  max_replay_days: 7\n" +
		"rpc:\n  listen_addr: 127.0.0.1:8700\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Cluster.Hosts) != 1 || cfg.Cluster.Hosts[0].Addr != "10.0.0.5:7700" {
		t.Fatalf("unexpected hosts: %+v", cfg.Cluster.Hosts)
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtdb.yaml")
	raw := "cluster:\n  self_id: node-1\n" // data_dir omitted
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing data_dir")
	}
}

func TestLoadRejectsOutOfRangePriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtdb.yaml")
	raw := "data_dir: " + dir + "\n" +
		"cluster:\n  self_id: node-1\n  hosts:\n    - id: node-1\n      addr: 127.0.0.1:7700\n      priority: 999\n" +
		"telemetry:\n  alert_prefix: alert\n" +
		"rpc:\n  listen_addr: 127.0.0.1:8700\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for priority out of range")
	}
}

func TestLoadRejectsBadEnum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtdb.yaml")
	raw := "data_dir: " + dir + "\n" +
		"cluster:\n  self_id: node-1\n" +
		"pipeline:\n  tables:\n    - name: orders\n      cache_mode: sideways\n" +
		"telemetry:\n  alert_prefix: alert\n" +
		"rpc:\n  listen_addr: 127.0.0.1:8700\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for bad enum value")
	}
}

func TestWarmupWindowDefault(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.WarmupWindow().Seconds() != 30 {
		t.Fatalf("expected default 30s warmup window, got %v", cfg.WarmupWindow())
	}
}
