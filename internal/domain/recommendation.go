package domain

import "time"

// TuningRecommendation is the validated output of one tuning run: revised
// schedules plus run metadata. Schedules left nil/empty mean the tuner made
// no recommendation for that kind. Consumed exactly once by the merge engine.
type TuningRecommendation struct {
	Basal       Schedule
	CarbRatio   Schedule
	Sensitivity Schedule

	// DIA is the recommended duration of insulin action in hours,
	// 0 when the tuner made no recommendation.
	DIA float64

	WindowDays       int
	AlgorithmVersion string
	AnalyzedAt       time.Time
}

// ScheduleChange records one schedule replacement performed by a merge.
type ScheduleChange struct {
	Kind     ScheduleKind `json:"kind"`
	Previous int          `json:"previous_entries"`
	Replaced int          `json:"replaced_entries"`
}

// MergeResult is a new profile produced by applying a recommendation,
// plus the change log of what was replaced. The original profile is
// never part of the result.
type MergeResult struct {
	Profile    ProfileStore     `json:"profile"`
	Changes    []ScheduleChange `json:"changes"`
	DIAChanged bool             `json:"dia_changed"`
}

// MergedKinds lists the schedule kinds replaced by the merge.
func (m *MergeResult) MergedKinds() []string {
	kinds := make([]string, len(m.Changes))
	for i, c := range m.Changes {
		kinds[i] = string(c.Kind)
	}
	return kinds
}
