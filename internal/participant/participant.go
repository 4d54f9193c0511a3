// Package participant defines the immutable view of a participant that the
// pairing core operates on. A Snapshot is captured once, when the participant
// enters the waiting pool; later profile edits never affect a pending entry.
package participant

import "fmt"

// ID is the opaque stable identity of a participant. The core never
// interprets it; the gateway and profile store agree on its format.
type ID string

// Gender is a closed enum. The zero value means "unspecified".
type Gender int

const (
	GenderUnspecified Gender = iota
	GenderMale
	GenderFemale
)

// String returns the wire/storage form of the gender.
func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	default:
		return ""
	}
}

// ParseGender converts a stored string back into a Gender. The empty string
// maps to GenderUnspecified.
func ParseGender(s string) (Gender, error) {
	switch s {
	case "":
		return GenderUnspecified, nil
	case "male":
		return GenderMale, nil
	case "female":
		return GenderFemale, nil
	default:
		return GenderUnspecified, fmt.Errorf("participant: unknown gender %q", s)
	}
}

// AgeRange is an inclusive min..max pair. A nil *AgeRange means "not set".
type AgeRange struct {
	Min int
	Max int
}

// Valid reports whether the range is well formed (min <= max, both positive).
func (r AgeRange) Valid() bool {
	return r.Min > 0 && r.Min <= r.Max
}

// Snapshot is the immutable matching view of a participant. Preference
// fields are independently optional; the zero value of each means
// "no constraint".
type Snapshot struct {
	ID       ID
	Priority bool // priority ordering in the pool (entitlement decided elsewhere)

	Gender  Gender
	Age     *AgeRange
	Country string // empty = not set

	PrefGender  Gender
	PrefAge     *AgeRange
	PrefCountry string // empty = no constraint
}

// Validate checks the snapshot invariants that the pool relies on.
func (s Snapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("participant: empty id")
	}
	if s.Age != nil && !s.Age.Valid() {
		return fmt.Errorf("participant %s: age range %d-%d invalid", s.ID, s.Age.Min, s.Age.Max)
	}
	if s.PrefAge != nil && !s.PrefAge.Valid() {
		return fmt.Errorf("participant %s: preferred age range %d-%d invalid", s.ID, s.PrefAge.Min, s.PrefAge.Max)
	}
	return nil
}
