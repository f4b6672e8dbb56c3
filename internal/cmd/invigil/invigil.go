// Package invigil parses engine command flags and launches the runtime.
package invigil

import (
	"context"
	"flag"
	"time"

	"github.com/invigil/invigil/internal/app"
	entrypoint "github.com/invigil/invigil/internal/platform/cmd"
)

// Config holds engine command configuration.
type Config struct {
	Port            int           `env:"INVIGIL_PORT" envDefault:"8094"`
	DBBackend       string        `env:"INVIGIL_DB_BACKEND" envDefault:"sqlite"`
	DBPath          string        `env:"INVIGIL_DB_PATH" envDefault:"data/exams.db"`
	SweepInterval   time.Duration `env:"INVIGIL_SWEEP_INTERVAL" envDefault:"30s"`
	ToiletThreshold time.Duration `env:"INVIGIL_TOILET_THRESHOLD" envDefault:"10m"`
	MaxAttempts     int           `env:"INVIGIL_WRITE_MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoffMin time.Duration `env:"INVIGIL_WRITE_BACKOFF_MIN" envDefault:"10ms"`
	RetryBackoffMax time.Duration `env:"INVIGIL_WRITE_BACKOFF_MAX" envDefault:"50ms"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine health HTTP server port")
	fs.StringVar(&cfg.DBBackend, "db-backend", cfg.DBBackend, "The exam database backend (sqlite or bbolt)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The exam database path (empty for in-memory)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Time-remaining sweeper interval")
	fs.DurationVar(&cfg.ToiletThreshold, "toilet-threshold", cfg.ToiletThreshold, "Toilet break duration before alerting")
	fs.IntVar(&cfg.MaxAttempts, "write-max-attempts", cfg.MaxAttempts, "Maximum optimistic write attempts before giving up")
	fs.DurationVar(&cfg.RetryBackoffMin, "write-backoff-min", cfg.RetryBackoffMin, "Minimum backoff between conflicting writes")
	fs.DurationVar(&cfg.RetryBackoffMax, "write-backoff-max", cfg.RetryBackoffMax, "Maximum backoff between conflicting writes")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:            cfg.Port,
			DBBackend:       cfg.DBBackend,
			DBPath:          cfg.DBPath,
			SweepInterval:   cfg.SweepInterval,
			ToiletThreshold: cfg.ToiletThreshold,
			MaxAttempts:     cfg.MaxAttempts,
			RetryBackoffMin: cfg.RetryBackoffMin,
			RetryBackoffMax: cfg.RetryBackoffMax,
		})
	})
}
