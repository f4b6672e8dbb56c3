// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between process boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the health HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the process waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// SweepRun caps the time allowed for one pass of the time-remaining sweeper
// over all running exams.
const SweepRun = 10 * time.Second
