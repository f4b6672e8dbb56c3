package service

import (
	"context"
	"log"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/platform/timeouts"
)

// DefaultSweepInterval is how often the sweeper scans running exams.
const DefaultSweepInterval = 30 * time.Second

// defaultThresholds are the remaining-minutes marks announced to every
// exam, largest first.
var defaultThresholds = []int{30, 15, 5}

// Sweeper periodically walks running exams and fires time-remaining
// announcements as each threshold passes. The fired-flag lives on the
// aggregate and commits under the same optimistic write as every other
// mutation, so each threshold fires exactly once no matter how many
// sweeper instances run.
type Sweeper struct {
	engine     *Engine
	interval   time.Duration
	thresholds []int
}

// NewSweeper creates a sweeper over an engine. A non-positive interval
// falls back to DefaultSweepInterval; nil thresholds fall back to
// 30/15/5 minutes.
func NewSweeper(engine *Engine, interval time.Duration, thresholds []int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if len(thresholds) == 0 {
		thresholds = defaultThresholds
	}
	return &Sweeper{engine: engine, interval: interval, thresholds: thresholds}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass over every running exam.
func (s *Sweeper) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, timeouts.SweepRun)
	defer cancel()

	examIDs, err := s.engine.store.ListRunning(runCtx)
	if err != nil {
		log.Printf("sweep list running exams: %v", err)
		return
	}
	for _, examID := range examIDs {
		if err := s.sweepExam(runCtx, examID); err != nil {
			log.Printf("sweep exam_id=%s: %v", examID, err)
		}
	}
}

// sweepExam fires every threshold the exam clock has passed. Thresholds
// already fired are skipped; a pass that changes nothing writes nothing.
func (s *Sweeper) sweepExam(ctx context.Context, examID string) error {
	_, err := s.engine.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if exam.Status != domain.ExamRunning || exam.EndsAt.IsZero() {
			return false, nil
		}
		now := s.engine.now()
		remaining := exam.EndsAt.Sub(now)
		if remaining <= 0 {
			return false, nil
		}

		changed := false
		for _, minutes := range s.thresholds {
			if remaining > time.Duration(minutes)*time.Minute {
				continue
			}
			fired, err := exam.MarkTimeAlert(minutes, now, s.engine.idGenerator)
			if err != nil {
				return false, err
			}
			changed = changed || fired
		}
		return changed, nil
	})
	return err
}
