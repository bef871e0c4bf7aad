package pipeline

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/nightsync/internal/domain"
)

// RunSummary describes the data that fed a run: record counts (including
// records dropped during validation) and glucose statistics. Range
// classification uses the profile's own target schedules, evaluated at
// each reading's local time of day.
type RunSummary struct {
	Entries           int `json:"entries"`
	Treatments        int `json:"treatments"`
	EntriesDropped    int `json:"entries_dropped"`
	TreatmentsDropped int `json:"treatments_dropped"`

	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	TimeInRangePct float64 `json:"time_in_range_pct"`
	TimeBelowPct   float64 `json:"time_below_pct"`
	TimeAbovePct   float64 `json:"time_above_pct"`
}

func summarize(data *domain.HistoricalDataset, profile domain.ProfileStore) *RunSummary {
	summary := &RunSummary{
		Entries:           len(data.Entries),
		Treatments:        len(data.Treatments),
		EntriesDropped:    data.EntriesDropped,
		TreatmentsDropped: data.TreatmentsDropped,
	}
	if len(data.Entries) == 0 {
		return summary
	}

	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		loc = time.UTC
	}

	values := make([]float64, len(data.Entries))
	var below, above int
	for i, entry := range data.Entries {
		values[i] = float64(entry.SGV)

		at := time.UnixMilli(entry.Date).In(loc)
		tod := domain.TimeOfDay(at.Hour()*3600 + at.Minute()*60 + at.Second())
		switch {
		case float64(entry.SGV) < profile.TargetLow.ValueAt(tod):
			below++
		case float64(entry.SGV) > profile.TargetHigh.ValueAt(tod):
			above++
		}
	}

	summary.Mean = stat.Mean(values, nil)
	summary.TimeBelowPct = pct(below, len(values))
	summary.TimeAbovePct = pct(above, len(values))
	summary.TimeInRangePct = pct(len(values)-below-above, len(values))
	if len(values) > 1 {
		summary.StdDev = stat.StdDev(values, nil)
	}
	return summary
}

func pct(n, total int) float64 {
	return float64(n) / float64(total) * 100
}
