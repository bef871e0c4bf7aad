// Package scheduler triggers tuning runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/pipeline"
)

// RunTrigger starts a tuning run. Satisfied by *pipeline.Service.
type RunTrigger interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Scheduler runs the pipeline on a fixed cron schedule. Ticks that land
// while a run is still executing are skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	trigger RunTrigger
	spec    string
	log     zerolog.Logger
}

// New creates a scheduler for the given cron spec (standard 5-field form,
// e.g. "0 3 * * *" for 03:00 daily).
func New(spec string, trigger RunTrigger, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		trigger: trigger,
		spec:    spec,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling. Non-blocking.
func (s *Scheduler) Start() {
	s.log.Info().Str("schedule", s.spec).Msg("Scheduler started")
	s.cron.Start()
}

// Stop stops scheduling and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) tick() {
	result, err := s.trigger.Run(context.Background())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.log.Warn().Msg("Skipping scheduled run, previous run still in progress")
			return
		}
		s.log.Error().Err(err).Msg("Scheduled run failed to start")
		return
	}
	if !result.Completed {
		s.log.Warn().
			Str("run_id", result.RunID).
			Str("stage", string(result.Stage)).
			Str("error_kind", string(result.ErrorKind)).
			Msg("Scheduled run did not complete")
	}
}
