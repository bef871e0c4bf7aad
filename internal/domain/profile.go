package domain

// ProfileStore is one named profile: the full set of dosing schedules
// governing a period of therapy.
type ProfileStore struct {
	DIA         float64  `json:"dia"`
	CarbRatio   Schedule `json:"carbratio"`
	Sensitivity Schedule `json:"sens"`
	Basal       Schedule `json:"basal"`
	TargetLow   Schedule `json:"target_low"`
	TargetHigh  Schedule `json:"target_high"`
	Timezone    string   `json:"timezone"`
	Units       string   `json:"units"`
}

// Validate checks every schedule against its kind-specific invariants.
func (p ProfileStore) Validate() error {
	if p.DIA <= 0 {
		return NewError(ErrKindValidation, "dia must be positive, got %.2f", p.DIA)
	}
	for kind, schedule := range p.schedules() {
		if err := schedule.Validate(kind); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy. Merging works on the copy so the original
// profile is never mutated.
func (p ProfileStore) Clone() ProfileStore {
	out := p
	out.CarbRatio = p.CarbRatio.Clone()
	out.Sensitivity = p.Sensitivity.Clone()
	out.Basal = p.Basal.Clone()
	out.TargetLow = p.TargetLow.Clone()
	out.TargetHigh = p.TargetHigh.Clone()
	return out
}

// Schedule returns the schedule for the given kind.
func (p ProfileStore) Schedule(kind ScheduleKind) Schedule {
	return p.schedules()[kind]
}

func (p ProfileStore) schedules() map[ScheduleKind]Schedule {
	return map[ScheduleKind]Schedule{
		KindBasal:       p.Basal,
		KindCarbRatio:   p.CarbRatio,
		KindSensitivity: p.Sensitivity,
		KindTargetLow:   p.TargetLow,
		KindTargetHigh:  p.TargetHigh,
	}
}

// ProfileDocument is the remote store's profile document: one or more
// named profiles plus document metadata. The pipeline holds a transient,
// validated copy; the remote store owns the document.
type ProfileDocument struct {
	ID             string                  `json:"_id,omitempty"`
	DefaultProfile string                  `json:"defaultProfile"`
	Store          map[string]ProfileStore `json:"store"`
	StartDate      string                  `json:"startDate,omitempty"`
	Mills          int64                   `json:"mills"`
	Units          string                  `json:"units,omitempty"`
	CreatedAt      string                  `json:"created_at,omitempty"`
}

// Validate checks the document metadata and every contained profile.
func (d *ProfileDocument) Validate() error {
	if len(d.Store) == 0 {
		return NewError(ErrKindValidation, "profile document has no profiles")
	}
	if d.DefaultProfile == "" {
		return NewError(ErrKindValidation, "profile document has no default profile name")
	}
	if _, ok := d.Store[d.DefaultProfile]; !ok {
		return NewError(ErrKindValidation, "default profile %q not present in store", d.DefaultProfile)
	}
	for name, store := range d.Store {
		if err := store.Validate(); err != nil {
			return WrapError(ErrKindValidation, err, "profile %q invalid", name)
		}
	}
	return nil
}

// ProfileNames lists the names of the profiles in this document.
func (d *ProfileDocument) ProfileNames() []string {
	names := make([]string, 0, len(d.Store))
	for name := range d.Store {
		names = append(names, name)
	}
	return names
}

// ResolveStore returns the named profile, or the document default when
// name is empty. Failure is classified as a NotFound error.
func (d *ProfileDocument) ResolveStore(name string) (string, ProfileStore, error) {
	if name == "" {
		name = d.DefaultProfile
	}
	store, ok := d.Store[name]
	if !ok {
		return "", ProfileStore{}, NewError(ErrKindNotFound,
			"profile %q not found, available: %v", name, d.ProfileNames())
	}
	return name, store, nil
}
