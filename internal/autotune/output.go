package autotune

import (
	"encoding/json"
	"time"

	"github.com/aristath/nightsync/internal/domain"
)

// algorithmName identifies the recommendation source on merge records.
const algorithmName = "oref0-autotune"

// rawRecommendation is the executable's output document. Basal comes back
// as a full schedule; carb ratio and sensitivity come back as single
// scalars that apply across the day.
type rawRecommendation struct {
	BasalProfile []rawBasalEntry `json:"basalprofile"`
	CarbRatio    *float64        `json:"carb_ratio"`
	Sensitivity  *float64        `json:"sens"`
	DIA          *float64        `json:"dia"`
}

type rawBasalEntry struct {
	Start   string  `json:"start"`
	Minutes int     `json:"minutes"`
	Rate    float64 `json:"rate"`
}

// parseRecommendation decodes and validates the executable's output,
// expanding scalar values across the time slots of the current profile's
// corresponding schedule so downstream code only deals in schedules.
func parseRecommendation(content []byte, profile domain.ProfileStore, windowDays int) (*domain.TuningRecommendation, error) {
	var raw rawRecommendation
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, domain.WrapError(domain.ErrKindTunerOutputInvalid, err, "failed to parse tuning output")
	}

	rec := &domain.TuningRecommendation{
		WindowDays:       windowDays,
		AlgorithmVersion: algorithmName,
		AnalyzedAt:       time.Now().UTC(),
	}

	if len(raw.BasalProfile) > 0 {
		basal, err := basalSchedule(raw.BasalProfile)
		if err != nil {
			return nil, err
		}
		rec.Basal = basal
	}
	if raw.CarbRatio != nil {
		schedule, err := expandScalar(*raw.CarbRatio, profile.CarbRatio, domain.KindCarbRatio)
		if err != nil {
			return nil, err
		}
		rec.CarbRatio = schedule
	}
	if raw.Sensitivity != nil {
		schedule, err := expandScalar(*raw.Sensitivity, profile.Sensitivity, domain.KindSensitivity)
		if err != nil {
			return nil, err
		}
		rec.Sensitivity = schedule
	}
	if raw.DIA != nil {
		if *raw.DIA <= 0 || *raw.DIA > 24 {
			return nil, domain.NewError(domain.ErrKindTunerOutputInvalid,
				"tuning output dia %.2f is out of range", *raw.DIA)
		}
		rec.DIA = *raw.DIA
	}

	if len(rec.Basal) == 0 && len(rec.CarbRatio) == 0 && len(rec.Sensitivity) == 0 && rec.DIA == 0 {
		return nil, domain.NewError(domain.ErrKindTunerOutputInvalid, "tuning output contains no recommendations")
	}
	return rec, nil
}

// basalSchedule converts the executable's basal profile into a schedule.
// Start times keep their seconds; the merge step is responsible for
// minute alignment.
func basalSchedule(entries []rawBasalEntry) (domain.Schedule, error) {
	schedule := make(domain.Schedule, 0, len(entries))
	for _, entry := range entries {
		start, err := domain.ParseTimeOfDay(entry.Start)
		if err != nil {
			return nil, domain.WrapError(domain.ErrKindTunerOutputInvalid, err,
				"tuning output basal entry has invalid start %q", entry.Start)
		}
		schedule = append(schedule, domain.ScheduleEntry{Time: start, Value: entry.Rate})
	}
	if err := schedule.Validate(domain.KindBasal); err != nil {
		return nil, domain.WrapError(domain.ErrKindTunerOutputInvalid, err, "tuning output basal profile is invalid")
	}
	return schedule, nil
}

// expandScalar applies a single tuned value across every time slot of the
// profile's existing schedule, preserving its segmentation.
func expandScalar(value float64, current domain.Schedule, kind domain.ScheduleKind) (domain.Schedule, error) {
	if len(current) == 0 {
		current = domain.Schedule{{Time: 0, Value: value}}
	}
	schedule := make(domain.Schedule, 0, len(current))
	for _, entry := range current {
		schedule = append(schedule, domain.ScheduleEntry{Time: entry.Time, Value: value})
	}
	if err := schedule.Validate(kind); err != nil {
		return nil, domain.WrapError(domain.ErrKindTunerOutputInvalid, err,
			"tuning output %s value %.2f is invalid", kind, value)
	}
	return schedule, nil
}
