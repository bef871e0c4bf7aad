// Package domain provides the core data model for dosing profiles and
// historical glucose/treatment records.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in time of day %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in time of day %q", s)
	}

	seconds := 0
	if len(parts) == 3 {
		seconds, err = strconv.Atoi(parts[2])
		if err != nil || seconds < 0 || seconds > 59 {
			return 0, fmt.Errorf("invalid second in time of day %q", s)
		}
	}

	return TimeOfDay(hours*3600 + minutes*60 + seconds), nil
}

// String renders the time in "HH:MM" form, the granularity the remote
// store expects. Seconds are not shown; use TruncateToMinute before
// storing when they may be nonzero.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/3600, (int(t)%3600)/60)
}

// Seconds returns the seconds-since-midnight value.
func (t TimeOfDay) Seconds() int {
	return int(t)
}

// TruncateToMinute drops the seconds component. Truncation is used
// instead of rounding so the result is deterministic.
func (t TimeOfDay) TruncateToMinute() TimeOfDay {
	return t - t%60
}

// ScheduleKind identifies one of the time-indexed schedules in a profile.
type ScheduleKind string

const (
	KindBasal       ScheduleKind = "basal"
	KindCarbRatio   ScheduleKind = "carbratio"
	KindSensitivity ScheduleKind = "sens"
	KindTargetLow   ScheduleKind = "target_low"
	KindTargetHigh  ScheduleKind = "target_high"
)

// Bounds returns the inclusive value range allowed for entries of this kind.
// Basal is U/hr, carb ratio g/U, sensitivity mg/dL per U, targets mg/dL.
func (k ScheduleKind) Bounds() (min, max float64) {
	switch k {
	case KindBasal:
		return 0, 30
	case KindCarbRatio:
		return 1, 100
	case KindSensitivity:
		return 10, 1000
	case KindTargetLow, KindTargetHigh:
		return GlucoseMin, GlucoseMax
	default:
		return 0, 0
	}
}

// ScheduleEntry is a single time-indexed value. The value is effective
// from Time until the next entry's time (or midnight wrap-around).
type ScheduleEntry struct {
	Time  TimeOfDay
	Value float64
}

// scheduleEntryJSON is the wire shape the remote store uses.
type scheduleEntryJSON struct {
	Time          string  `json:"time"`
	Value         float64 `json:"value"`
	TimeAsSeconds int     `json:"timeAsSeconds"`
}

// MarshalJSON renders the entry in the remote store's document shape.
func (e ScheduleEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleEntryJSON{
		Time:          e.Time.String(),
		Value:         e.Value,
		TimeAsSeconds: e.Time.Seconds(),
	})
}

// UnmarshalJSON accepts the remote store's document shape, preferring the
// "time" string and falling back to "timeAsSeconds".
func (e *ScheduleEntry) UnmarshalJSON(data []byte) error {
	var raw scheduleEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Time != "" {
		t, err := ParseTimeOfDay(raw.Time)
		if err != nil {
			return err
		}
		e.Time = t
	} else {
		if raw.TimeAsSeconds < 0 || raw.TimeAsSeconds >= 24*3600 {
			return fmt.Errorf("timeAsSeconds %d out of range", raw.TimeAsSeconds)
		}
		e.Time = TimeOfDay(raw.TimeAsSeconds)
	}
	e.Value = raw.Value
	return nil
}

// Schedule is an ordered, time-indexed list of values.
type Schedule []ScheduleEntry

// Validate checks the schedule invariants for the given kind: non-empty,
// first entry at midnight, strictly increasing times, values in bounds.
func (s Schedule) Validate(kind ScheduleKind) error {
	if len(s) == 0 {
		return NewError(ErrKindValidation, "%s schedule is empty", kind)
	}
	if s[0].Time != 0 {
		return NewError(ErrKindValidation, "%s schedule must start at 00:00, got %s", kind, s[0].Time)
	}

	min, max := kind.Bounds()
	var prev TimeOfDay = -1
	for i, entry := range s {
		if entry.Time <= prev {
			return NewError(ErrKindValidation,
				"%s schedule times must be strictly increasing: entry %d at %s", kind, i, entry.Time)
		}
		if entry.Time >= 24*3600 {
			return NewError(ErrKindValidation, "%s schedule entry %d beyond end of day", kind, i)
		}
		if entry.Value < min || entry.Value > max {
			return NewError(ErrKindValidation,
				"%s value %.2f at %s outside [%.0f, %.0f]", kind, entry.Value, entry.Time, min, max)
		}
		prev = entry.Time
	}
	return nil
}

// ValueAt returns the value effective at the given time of day: the value
// of the last entry whose time is <= t. The schedule must be valid.
func (s Schedule) ValueAt(t TimeOfDay) float64 {
	value := s[0].Value
	for _, entry := range s {
		if entry.Time > t {
			break
		}
		value = entry.Value
	}
	return value
}

// Clone returns an independent copy of the schedule.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	copy(out, s)
	return out
}

// TruncateToMinute returns a copy with every entry time truncated to
// minute precision.
func (s Schedule) TruncateToMinute() Schedule {
	out := make(Schedule, len(s))
	for i, entry := range s {
		out[i] = ScheduleEntry{Time: entry.Time.TruncateToMinute(), Value: entry.Value}
	}
	return out
}
