package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Server.TCP.Enabled || cfg.Server.TCP.Port != 5020 {
		t.Fatalf("unexpected tcp defaults: %+v", cfg.Server.TCP)
	}
	if cfg.Server.RTU.Enabled {
		t.Fatalf("expected rtu disabled by default")
	}
	if len(cfg.Slaves) != 1 || cfg.Slaves[0].ID != 1 {
		t.Fatalf("expected single default slave with id 1, got %+v", cfg.Slaves)
	}
	if cfg.Data.HistoryMaxSize != 1000 {
		t.Fatalf("expected history_max_size 1000, got %d", cfg.Data.HistoryMaxSize)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  tcp:
    port: 1502
slaves:
  - id: 5
    name: pump
    coils: 50
    holding_registers: 200
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.TCP.Port != 1502 {
		t.Fatalf("expected overridden port 1502, got %d", cfg.Server.TCP.Port)
	}
	if !cfg.Server.TCP.Enabled {
		t.Fatalf("expected tcp.enabled to keep its default of true")
	}
	if len(cfg.Slaves) != 1 || cfg.Slaves[0].ID != 5 || cfg.Slaves[0].HoldingRegisters != 200 {
		t.Fatalf("unexpected slaves: %+v", cfg.Slaves)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error loading a nonexistent config file")
	}
}

func TestLoadEmptySlavesFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  tcp:\n    port: 502\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Slaves) != 1 || cfg.Slaves[0].ID != 1 {
		t.Fatalf("expected fallback default slave, got %+v", cfg.Slaves)
	}
}
