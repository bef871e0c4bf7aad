// Package pipeline orchestrates one end-to-end tuning run: fetch the
// profile and historical data from the remote store, run the external
// tuner, merge its recommendation, and push the merged profile back.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/autotune"
	"github.com/aristath/nightsync/internal/domain"
)

// Stage identifies how far a run progressed.
type Stage string

const (
	StageFetchProfile Stage = "fetch_profile"
	StageFetchData    Stage = "fetch_data"
	StageTune         Stage = "tune"
	StageMerge        Stage = "merge"
	StagePush         Stage = "push"
	StageComplete     Stage = "complete"
)

// Gateway is the remote store surface the pipeline needs.
type Gateway interface {
	FetchProfile(ctx context.Context, name string) (*domain.ProfileDocument, error)
	FetchHistoricalData(ctx context.Context, days int) (*domain.HistoricalDataset, error)
	PushProfile(ctx context.Context, store domain.ProfileStore, name string, expectedMills int64) error
}

// Merger applies a recommendation to a profile.
type Merger interface {
	Apply(original domain.ProfileStore, rec *domain.TuningRecommendation) (*domain.MergeResult, error)
}

// Result is the outcome of one run. Stage is the last stage entered;
// Completed reports whether the run reached the end. Failed runs carry
// the error classification and message, never a partial profile push.
type Result struct {
	RunID       string              `json:"run_id"`
	ProfileName string              `json:"profile_name"`
	WindowDays  int                 `json:"window_days"`
	Stage       Stage               `json:"stage"`
	Completed   bool                `json:"completed"`
	DryRun      bool                `json:"dry_run"`
	Merge       *domain.MergeResult `json:"merge,omitempty"`
	Summary     *RunSummary         `json:"summary,omitempty"`
	ErrorKind   domain.ErrorKind    `json:"error_kind,omitempty"`
	Message     string              `json:"message,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// Config holds the per-run parameters.
type Config struct {
	// ProfileName selects the profile to tune; empty means the document's
	// default profile.
	ProfileName string
	// WindowDays is the size of the historical data window.
	WindowDays int
	// DryRun performs every stage except the final push.
	DryRun bool
}

// Orchestrator drives runs through their stages in order, stopping at the
// first failure. Stages are never retried here; transient remote errors
// are retried inside the gateway.
type Orchestrator struct {
	gateway Gateway
	runner  autotune.Runner
	merger  Merger
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// NewOrchestrator wires a pipeline from its stage implementations.
func NewOrchestrator(gateway Gateway, runner autotune.Runner, merger Merger, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		runner:  runner,
		merger:  merger,
		cfg:     cfg,
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
}

// Run executes one tuning run. The returned result is always non-nil and
// records the stage reached, so callers can persist partial outcomes.
func (o *Orchestrator) Run(ctx context.Context, runID string) *Result {
	result := &Result{
		RunID:       runID,
		ProfileName: o.cfg.ProfileName,
		WindowDays:  o.cfg.WindowDays,
		DryRun:      o.cfg.DryRun,
		StartedAt:   o.now().UTC(),
	}
	log := o.log.With().Str("run_id", runID).Logger()
	log.Info().Int("window_days", o.cfg.WindowDays).Bool("dry_run", o.cfg.DryRun).Msg("Starting tuning run")

	result.Stage = StageFetchProfile
	if err := o.checkCancelled(ctx); err != nil {
		return o.fail(log, result, err)
	}
	doc, err := o.gateway.FetchProfile(ctx, o.cfg.ProfileName)
	if err != nil {
		return o.fail(log, result, err)
	}
	name, store, err := doc.ResolveStore(o.cfg.ProfileName)
	if err != nil {
		return o.fail(log, result, err)
	}
	result.ProfileName = name

	result.Stage = StageFetchData
	if err := o.checkCancelled(ctx); err != nil {
		return o.fail(log, result, err)
	}
	data, err := o.gateway.FetchHistoricalData(ctx, o.cfg.WindowDays)
	if err != nil {
		return o.fail(log, result, err)
	}
	result.Summary = summarize(data, store)

	result.Stage = StageTune
	if err := o.checkCancelled(ctx); err != nil {
		return o.fail(log, result, err)
	}
	rec, err := o.runner.Run(ctx, store, data, o.cfg.WindowDays)
	if err != nil {
		return o.fail(log, result, err)
	}

	result.Stage = StageMerge
	if err := o.checkCancelled(ctx); err != nil {
		return o.fail(log, result, err)
	}
	merged, err := o.merger.Apply(store, rec)
	if err != nil {
		return o.fail(log, result, err)
	}
	result.Merge = merged

	result.Stage = StagePush
	if o.cfg.DryRun {
		log.Info().Strs("merged_kinds", merged.MergedKinds()).Msg("Dry run, skipping profile push")
	} else {
		if err := o.checkCancelled(ctx); err != nil {
			return o.fail(log, result, err)
		}
		if err := o.gateway.PushProfile(ctx, merged.Profile, name, doc.Mills); err != nil {
			return o.fail(log, result, err)
		}
	}

	result.Stage = StageComplete
	result.Completed = true
	result.FinishedAt = o.now().UTC()
	log.Info().
		Str("profile", name).
		Strs("merged_kinds", merged.MergedKinds()).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Tuning run complete")
	return result
}

func (o *Orchestrator) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrKindCancelled, err, "run cancelled")
	}
	return nil
}

func (o *Orchestrator) fail(log zerolog.Logger, result *Result, err error) *Result {
	result.ErrorKind = domain.KindOf(err)
	if result.ErrorKind == "" {
		result.ErrorKind = domain.ErrKindTransient
	}
	result.Message = err.Error()
	result.FinishedAt = o.now().UTC()
	log.Error().
		Err(err).
		Str("stage", string(result.Stage)).
		Str("error_kind", string(result.ErrorKind)).
		Msg("Tuning run failed")
	return result
}
