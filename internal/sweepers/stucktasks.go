// Package sweepers holds background maintenance loops for the task pipeline.
package sweepers

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/task"
)

var republishedTasks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sweeper_republished_tasks_total",
	Help: "Stale NEW tasks republished to the queue",
})

// StaleLister is the slice of the task store the sweeper needs.
type StaleLister interface {
	StaleNew(ctx context.Context, olderThan time.Duration, limit int) ([]task.Task, error)
}

// StuckTaskSweeper periodically republishes tasks stuck in NEW. A task stays
// NEW when its publish failed or its queue message was lost; the stored
// payload is the exact message body, so republishing is a byte-level replay.
type StuckTaskSweeper struct {
	store      StaleLister
	pub        broker.Publisher
	logger     *zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchLimit int
	stopChan   chan struct{}
}

// NewStuckTaskSweeper creates a sweeper for stuck-task recovery
func NewStuckTaskSweeper(store StaleLister, pub broker.Publisher, logger *zerolog.Logger, interval, staleAfter time.Duration, batchLimit int) *StuckTaskSweeper {
	return &StuckTaskSweeper{
		store:      store,
		pub:        pub,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		batchLimit: batchLimit,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the periodic recovery sweep
func (s *StuckTaskSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("Starting stuck task sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stuck task sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Stuck task sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.RepublishStuckTasks(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to republish stuck tasks")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *StuckTaskSweeper) Stop() {
	close(s.stopChan)
}

// RepublishStuckTasks re-queues every task stuck in NEW past the staleness
// window. Duplicate delivery is harmless: a worker finding the row already
// claimed or settled drops the message.
func (s *StuckTaskSweeper) RepublishStuckTasks(ctx context.Context) error {
	s.logger.Debug().Msg("Running stuck task sweep")

	stale, err := s.store.StaleNew(ctx, s.staleAfter, s.batchLimit)
	if err != nil {
		return fmt.Errorf("list stuck tasks: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	republished := 0
	for _, t := range stale {
		if err := s.pub.Publish(ctx, t.Kind, t.Payload); err != nil {
			s.logger.Error().Err(err).
				Str("task_id", t.ID).
				Str("kind", string(t.Kind)).
				Msg("Failed to republish stuck task")
			continue
		}
		republished++
	}
	republishedTasks.Add(float64(republished))

	s.logger.Info().
		Int("stale", len(stale)).
		Int("republished", republished).
		Msg("Republished stuck tasks")
	return nil
}
