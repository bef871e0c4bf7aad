// Package merge applies a tuning recommendation to a profile, producing a
// new profile plus a change log. The merge is non-destructive: the input
// profile is never mutated, and schedule kinds the recommendation does not
// cover are carried over untouched.
package merge

import (
	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/domain"
)

// Engine merges recommendations into profiles.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a merge engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "merge").Logger()}
}

// Apply produces a new profile from the original with every recommended
// schedule replacing its counterpart. Recommended times are truncated to
// minute precision before replacement, and each replacement schedule is
// revalidated against its kind. Applying the same recommendation twice
// yields the same profile.
func (e *Engine) Apply(original domain.ProfileStore, rec *domain.TuningRecommendation) (*domain.MergeResult, error) {
	if rec == nil {
		return nil, domain.NewError(domain.ErrKindMergeValidation, "no recommendation to apply")
	}
	if err := original.Validate(); err != nil {
		return nil, domain.WrapError(domain.ErrKindMergeValidation, err, "current profile is invalid")
	}

	merged := original.Clone()
	result := &domain.MergeResult{}

	replacements := []struct {
		kind     domain.ScheduleKind
		schedule domain.Schedule
		target   *domain.Schedule
	}{
		{domain.KindBasal, rec.Basal, &merged.Basal},
		{domain.KindCarbRatio, rec.CarbRatio, &merged.CarbRatio},
		{domain.KindSensitivity, rec.Sensitivity, &merged.Sensitivity},
	}
	for _, r := range replacements {
		if len(r.schedule) == 0 {
			continue
		}
		replacement := r.schedule.TruncateToMinute()
		if err := replacement.Validate(r.kind); err != nil {
			return nil, domain.WrapError(domain.ErrKindMergeValidation, err,
				"recommended %s schedule failed validation", r.kind)
		}
		result.Changes = append(result.Changes, domain.ScheduleChange{
			Kind:     r.kind,
			Previous: len(*r.target),
			Replaced: len(replacement),
		})
		*r.target = replacement
	}

	if rec.DIA > 0 && rec.DIA != merged.DIA {
		merged.DIA = rec.DIA
		result.DIAChanged = true
	}

	if err := merged.Validate(); err != nil {
		return nil, domain.WrapError(domain.ErrKindMergeValidation, err, "merged profile failed validation")
	}
	result.Profile = merged

	e.log.Info().
		Strs("merged_kinds", result.MergedKinds()).
		Bool("dia_changed", result.DIAChanged).
		Msg("Merged recommendation into profile")
	return result, nil
}
