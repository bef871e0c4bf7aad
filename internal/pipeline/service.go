package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/domain"
)

// Recorder persists run outcomes.
type Recorder interface {
	Record(ctx context.Context, result *Result) error
}

// ErrRunInProgress is returned when a run is requested while one is
// already executing. Overlapping runs would race on the remote profile.
var ErrRunInProgress = domain.NewError(domain.ErrKindConflict, "a tuning run is already in progress")

// Service serializes run execution and records every outcome. It is the
// single entry point shared by the scheduler and the HTTP API.
type Service struct {
	orch    *Orchestrator
	history Recorder
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewService wraps an orchestrator with run serialization and history
// recording. history may be nil.
func NewService(orch *Orchestrator, history Recorder, log zerolog.Logger) *Service {
	return &Service{
		orch:    orch,
		history: history,
		log:     log.With().Str("component", "service").Logger(),
	}
}

// Run executes one tuning run, or returns ErrRunInProgress when another
// run holds the slot. Failed stages are still recorded; a recording
// failure never fails the run itself.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result := s.orch.Run(ctx, uuid.NewString())
	if s.history != nil {
		if err := s.history.Record(ctx, result); err != nil {
			s.log.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to record run outcome")
		}
	}
	return result, nil
}

// Running reports whether a run is currently executing.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
