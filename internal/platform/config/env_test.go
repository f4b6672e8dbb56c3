package config

import (
	"testing"
	"time"
)

type envFixture struct {
	DBPath        string        `env:"INVIGIL_TEST_DB_PATH" envDefault:"data/invigil.db"`
	SweepInterval time.Duration `env:"INVIGIL_TEST_SWEEP_INTERVAL" envDefault:"30s"`
	EventLogCap   int           `env:"INVIGIL_TEST_EVENT_LOG_CAP" envDefault:"500"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envFixture
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "data/invigil.db" {
		t.Fatalf("db path = %q, want default", cfg.DBPath)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.EventLogCap != 500 {
		t.Fatalf("event log cap = %d, want 500", cfg.EventLogCap)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("INVIGIL_TEST_DB_PATH", "/tmp/override.db")
	t.Setenv("INVIGIL_TEST_SWEEP_INTERVAL", "5s")

	var cfg envFixture
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Fatalf("db path = %q, want override", cfg.DBPath)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("sweep interval = %v, want 5s", cfg.SweepInterval)
	}
}

func TestParseEnvRejectsMalformedValue(t *testing.T) {
	t.Setenv("INVIGIL_TEST_EVENT_LOG_CAP", "not-a-number")

	var cfg envFixture
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for malformed int value")
	}
}
