package domain

import (
	"time"
)

// Glucose concentration bounds in mg/dL. Readings outside this range are
// sensor noise or transmission corruption and are dropped.
const (
	GlucoseMin = 20
	GlucoseMax = 600
)

// GlucoseEntry is a single glucose reading from the remote store.
type GlucoseEntry struct {
	ID         string `json:"_id,omitempty"`
	SGV        int    `json:"sgv"`
	Date       int64  `json:"date"`
	DateString string `json:"dateString"`
	Type       string `json:"type"`
	Direction  string `json:"direction,omitempty"`
	Device     string `json:"device,omitempty"`
}

// NewGlucoseEntry constructs a validated glucose entry.
func NewGlucoseEntry(sgv int, date int64, dateString, entryType string) (GlucoseEntry, error) {
	e := GlucoseEntry{SGV: sgv, Date: date, DateString: dateString, Type: entryType}
	if err := e.Validate(); err != nil {
		return GlucoseEntry{}, err
	}
	return e, nil
}

// Validate checks the reading against the data-model invariants.
func (e GlucoseEntry) Validate() error {
	if e.SGV < GlucoseMin || e.SGV > GlucoseMax {
		return NewError(ErrKindValidation, "glucose value %d outside [%d, %d]", e.SGV, GlucoseMin, GlucoseMax)
	}
	if e.Date <= 0 {
		return NewError(ErrKindValidation, "glucose entry has no timestamp")
	}
	if e.Type == "" {
		return NewError(ErrKindValidation, "glucose entry has no type")
	}
	return nil
}

// TreatmentEntry is a treatment record: insulin bolus, carb intake, or any
// other logged event.
type TreatmentEntry struct {
	ID        string   `json:"_id,omitempty"`
	EventType string   `json:"eventType"`
	CreatedAt string   `json:"created_at"`
	Insulin   *float64 `json:"insulin,omitempty"`
	Carbs     *float64 `json:"carbs,omitempty"`
	Glucose   *float64 `json:"glucose,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	EnteredBy string   `json:"enteredBy,omitempty"`
}

// Validate checks the treatment against the data-model invariants.
// Amounts are optional but never negative.
func (t TreatmentEntry) Validate() error {
	if t.EventType == "" {
		return NewError(ErrKindValidation, "treatment has no event type")
	}
	if t.CreatedAt == "" {
		return NewError(ErrKindValidation, "treatment has no created_at timestamp")
	}
	if _, err := time.Parse(time.RFC3339, t.CreatedAt); err != nil {
		return WrapError(ErrKindValidation, err, "treatment created_at %q not parseable", t.CreatedAt)
	}
	if t.Insulin != nil && *t.Insulin < 0 {
		return NewError(ErrKindValidation, "treatment insulin %.2f is negative", *t.Insulin)
	}
	if t.Carbs != nil && *t.Carbs < 0 {
		return NewError(ErrKindValidation, "treatment carbs %.2f is negative", *t.Carbs)
	}
	return nil
}

// HistoricalDataset is one tuning run's input window: validated glucose
// entries and treatments for [Start, End]. Built fresh per run, immutable
// once built, discarded after the tuner consumes it.
type HistoricalDataset struct {
	Entries    []GlucoseEntry
	Treatments []TreatmentEntry
	Start      time.Time
	End        time.Time

	// Counts of records dropped during per-record validation.
	EntriesDropped    int
	TreatmentsDropped int
}

// WindowDays returns the length of the requested window in whole days.
func (d *HistoricalDataset) WindowDays() int {
	return int(d.End.Sub(d.Start).Hours() / 24)
}
