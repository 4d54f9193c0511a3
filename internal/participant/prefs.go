package participant

// Preference updates distinguish three intents per field: leave it as it is,
// set it to a concrete value, or clear it back to "no constraint". A plain
// pointer cannot express all three, so each field carries an explicit op.

// PrefOp is the per-field update operation.
type PrefOp int

const (
	// PrefNoChange leaves the stored value untouched.
	PrefNoChange PrefOp = iota
	// PrefSet replaces the stored value.
	PrefSet
	// PrefClear removes the stored value (back to "no constraint").
	PrefClear
)

// GenderUpdate describes an update to a gender preference field.
type GenderUpdate struct {
	Op    PrefOp
	Value Gender // read only when Op == PrefSet
}

// AgeRangeUpdate describes an update to an age-range preference field.
type AgeRangeUpdate struct {
	Op    PrefOp
	Value AgeRange // read only when Op == PrefSet
}

// StringUpdate describes an update to a string preference field (country).
type StringUpdate struct {
	Op    PrefOp
	Value string // read only when Op == PrefSet
}

// PrefUpdate is a partial update of a participant's search preferences.
// The zero value is a no-op.
type PrefUpdate struct {
	Gender  GenderUpdate
	Age     AgeRangeUpdate
	Country StringUpdate
}

// SetGender returns an update that sets the preferred gender.
func SetGender(g Gender) GenderUpdate { return GenderUpdate{Op: PrefSet, Value: g} }

// ClearGender returns an update that clears the preferred gender.
func ClearGender() GenderUpdate { return GenderUpdate{Op: PrefClear} }

// SetAge returns an update that sets the preferred age range.
func SetAge(r AgeRange) AgeRangeUpdate { return AgeRangeUpdate{Op: PrefSet, Value: r} }

// ClearAge returns an update that clears the preferred age range.
func ClearAge() AgeRangeUpdate { return AgeRangeUpdate{Op: PrefClear} }

// SetCountry returns an update that sets the preferred country.
func SetCountry(c string) StringUpdate { return StringUpdate{Op: PrefSet, Value: c} }

// ClearCountry returns an update that clears the preferred country.
func ClearCountry() StringUpdate { return StringUpdate{Op: PrefClear} }
