// Package app wires the exam engine runtime: storage, the engine itself,
// the time-remaining sweeper, and a small health HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invigil/invigil/internal/exam/service"
	"github.com/invigil/invigil/internal/platform/timeouts"
	"github.com/invigil/invigil/internal/storage"
	bboltstore "github.com/invigil/invigil/internal/storage/bbolt"
	"github.com/invigil/invigil/internal/storage/memory"
	"github.com/invigil/invigil/internal/storage/sqlite"
)

// RuntimeConfig controls engine startup and loop behavior.
type RuntimeConfig struct {
	Port int
	// DBBackend selects the persistence backend: "sqlite" or "bbolt".
	DBBackend string
	// DBPath is the database file path. Empty selects the in-memory
	// store; exams then live only as long as the process.
	DBPath          string
	SweepInterval   time.Duration
	ToiletThreshold time.Duration
	MaxAttempts     int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

const defaultPort = 8094

// Run starts the engine runtime and blocks until the context is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}

	store, err := openStore(cfg.DBBackend, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close exam store: %v", closeErr)
		}
	}()

	engine, err := service.NewEngine(store, service.Options{
		Broadcaster:     service.LogBroadcaster{},
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoffMin: cfg.RetryBackoffMin,
		RetryBackoffMax: cfg.RetryBackoffMax,
		ToiletThreshold: cfg.ToiletThreshold,
	})
	if err != nil {
		return fmt.Errorf("create exam engine: %w", err)
	}

	sweeper := service.NewSweeper(engine, cfg.SweepInterval, nil)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.ListRunning(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("engine health server listening addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown: %v", err)
	}
	<-sweeperDone
	return nil
}

func openStore(backend, dbPath string) (storage.ExamStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		log.Printf("no db path configured, using in-memory exam store")
		return memory.New(), nil
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		store, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite exam store: %w", err)
		}
		return store, nil
	case "bbolt":
		store, err := bboltstore.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt exam store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown db backend %q", backend)
}
