package invigil

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("invigil", flag.ContinueOnError)
	t.Setenv("INVIGIL_PORT", "9094")
	t.Setenv("INVIGIL_SWEEP_INTERVAL", "10s")

	cfg, err := ParseConfig(fs, []string{"-db-path", "tmp/exams.db", "-write-max-attempts", "8"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9094 {
		t.Fatalf("port = %d, want 9094", cfg.Port)
	}
	if cfg.SweepInterval != 10*time.Second {
		t.Fatalf("sweep interval = %v, want 10s", cfg.SweepInterval)
	}
	if cfg.DBPath != "tmp/exams.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "tmp/exams.db")
	}
	if cfg.MaxAttempts != 8 {
		t.Fatalf("max attempts = %d, want 8", cfg.MaxAttempts)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("invigil", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8094 {
		t.Fatalf("port = %d, want 8094", cfg.Port)
	}
	if cfg.DBPath != "data/exams.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/exams.db")
	}
	if cfg.ToiletThreshold != 10*time.Minute {
		t.Fatalf("toilet threshold = %v, want 10m", cfg.ToiletThreshold)
	}
	if cfg.RetryBackoffMin != 10*time.Millisecond || cfg.RetryBackoffMax != 50*time.Millisecond {
		t.Fatalf("backoff = %v/%v, want 10ms/50ms", cfg.RetryBackoffMin, cfg.RetryBackoffMax)
	}
}
