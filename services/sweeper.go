package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

const msgInterrupted = "processing interrupted before completion"

type StaleStore interface {
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadedFile, error)
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

// Sweeper fails rows stuck in processing, e.g. after a crash or a failed
// terminal update.
type Sweeper struct {
	files      StaleStore
	logs       *ProcessingLog
	notifier   Notifier
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	log        zerolog.Logger
}

func NewSweeper(files StaleStore, logs *ProcessingLog, notifier Notifier, interval, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Sweeper{
		files:      files,
		logs:       logs,
		notifier:   notifier,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		now:        time.Now,
		log:        log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %v", s.interval)
	}
	s.log.Info().Dur("interval", s.interval).Dur("stale_after", s.staleAfter).Msg("sweeper started")
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		s.log.Warn().Int("count", n).Msg("stale uploads marked failed")
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.files.FindStale(ctx, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, f := range stale {
		age := s.now().Sub(f.CreatedAt)
		s.logs.Append(ctx, f.ID, StepResult{
			Step:    models.StepSweep,
			Status:  models.StepFailed,
			Message: msgInterrupted,
			Details: map[string]any{"age_seconds": int64(age.Seconds())},
		})
		at := s.now()
		if err := s.files.Fail(ctx, f.ID, msgInterrupted, at); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				// finished concurrently
				continue
			}
			return swept, err
		}
		f.ProcessingStatus = models.StatusFailed
		msg := msgInterrupted
		f.ErrorMessage = &msg
		f.ProcessedAt = &at
		s.notifier.StatusChanged(f)
		swept++
	}
	return swept, nil
}
