package merge

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nightsync/internal/domain"
)

func baseProfile() domain.ProfileStore {
	return domain.ProfileStore{
		DIA: 5,
		Basal: domain.Schedule{
			{Time: 0, Value: 1.0},
			{Time: 12 * 3600, Value: 0.9},
		},
		CarbRatio: domain.Schedule{
			{Time: 0, Value: 10},
			{Time: 6 * 3600, Value: 12},
		},
		Sensitivity: domain.Schedule{
			{Time: 0, Value: 50},
		},
		TargetLow: domain.Schedule{
			{Time: 0, Value: 80},
		},
		TargetHigh: domain.Schedule{
			{Time: 0, Value: 160},
		},
		Timezone: "Europe/Athens",
		Units:    "mg/dl",
	}
}

func newEngine() *Engine {
	return NewEngine(zerolog.Nop())
}

func TestApplyReplacesRecommendedKinds(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal: domain.Schedule{
			{Time: 0, Value: 1.05},
			{Time: 6 * 3600, Value: 1.2},
		},
	}

	result, err := newEngine().Apply(original, rec)
	require.NoError(t, err)

	require.Len(t, result.Profile.Basal, 2)
	assert.Equal(t, 1.05, result.Profile.Basal[0].Value)
	assert.Equal(t, domain.TimeOfDay(6*3600), result.Profile.Basal[1].Time)
	assert.Equal(t, 1.2, result.Profile.Basal[1].Value)

	// kinds the recommendation is silent on carry over untouched
	assert.Equal(t, original.CarbRatio, result.Profile.CarbRatio)
	assert.Equal(t, original.Sensitivity, result.Profile.Sensitivity)
	assert.Equal(t, original.TargetLow, result.Profile.TargetLow)
	assert.Equal(t, original.TargetHigh, result.Profile.TargetHigh)
	assert.Equal(t, original.DIA, result.Profile.DIA)
	assert.Equal(t, original.Timezone, result.Profile.Timezone)
	assert.Equal(t, original.Units, result.Profile.Units)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.KindBasal, result.Changes[0].Kind)
	assert.Equal(t, 2, result.Changes[0].Previous)
	assert.Equal(t, 2, result.Changes[0].Replaced)
	assert.False(t, result.DIAChanged)
}

func TestApplyDoesNotMutateOriginal(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal:     domain.Schedule{{Time: 0, Value: 2.0}},
		CarbRatio: domain.Schedule{{Time: 0, Value: 8}},
		DIA:       6,
	}

	_, err := newEngine().Apply(original, rec)
	require.NoError(t, err)

	want := baseProfile()
	assert.Equal(t, want, original)
}

func TestApplyTruncatesSecondsToMinute(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal: domain.Schedule{
			{Time: 0, Value: 1.0},
			{Time: 6*3600 + 59, Value: 1.1}, // 06:00:59 truncates to 06:00, never 06:01
		},
	}

	result, err := newEngine().Apply(original, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.TimeOfDay(6*3600), result.Profile.Basal[1].Time)
}

func TestApplyTruncationCollisionFails(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal: domain.Schedule{
			{Time: 0, Value: 1.0},
			{Time: 6*3600 + 10, Value: 1.1},
			{Time: 6*3600 + 40, Value: 1.2}, // collides with the previous entry at 06:00
		},
	}

	_, err := newEngine().Apply(original, rec)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindMergeValidation))
}

func TestApplyRejectsOutOfBoundsValues(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal: domain.Schedule{{Time: 0, Value: 45}}, // above the basal rate ceiling
	}

	_, err := newEngine().Apply(original, rec)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindMergeValidation))
}

func TestApplyUpdatesDIA(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{DIA: 6.5}

	result, err := newEngine().Apply(original, rec)
	require.NoError(t, err)
	assert.Equal(t, 6.5, result.Profile.DIA)
	assert.True(t, result.DIAChanged)
	assert.Empty(t, result.Changes)
}

func TestApplyIsIdempotent(t *testing.T) {
	original := baseProfile()
	rec := &domain.TuningRecommendation{
		Basal:       domain.Schedule{{Time: 0, Value: 1.15}},
		CarbRatio:   domain.Schedule{{Time: 0, Value: 9}, {Time: 6 * 3600, Value: 11}},
		Sensitivity: domain.Schedule{{Time: 0, Value: 45}},
		DIA:         6,
	}
	engine := newEngine()

	first, err := engine.Apply(original, rec)
	require.NoError(t, err)
	second, err := engine.Apply(first.Profile, rec)
	require.NoError(t, err)

	assert.Equal(t, first.Profile, second.Profile)
	assert.False(t, second.DIAChanged, "reapplying the same DIA is not a change")
}

func TestApplyNilRecommendation(t *testing.T) {
	_, err := newEngine().Apply(baseProfile(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindMergeValidation))
}

func TestApplyRejectsInvalidCurrentProfile(t *testing.T) {
	broken := baseProfile()
	broken.Basal = nil

	rec := &domain.TuningRecommendation{DIA: 6}
	_, err := newEngine().Apply(broken, rec)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindMergeValidation))
}
