// Package match implements candidate selection over the waiting pool: the
// pure compatibility predicates, the tiered matcher, and the coordinator
// that turns a selection into an exclusively claimed pairing.
package match

import (
	"time"

	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/pool"
)

// RoomFallbackWindow is how long a room-scoped entry waits before it also
// becomes visible to the global tiers. Evaluated at query time; there is no
// background expiry.
const RoomFallbackWindow = 10 * time.Second

// genderCompatible checks mutual gender compatibility: either side's
// preference, when set, is binding on the other.
func genderCompatible(requester, candidate participant.Snapshot) bool {
	if requester.PrefGender != participant.GenderUnspecified && candidate.Gender != requester.PrefGender {
		return false
	}
	if candidate.PrefGender != participant.GenderUnspecified && requester.Gender != candidate.PrefGender {
		return false
	}
	return true
}

// countryCompatible applies the same symmetric rule to country. Only the
// strict global tier evaluates it.
func countryCompatible(requester, candidate participant.Snapshot) bool {
	if requester.PrefCountry != "" && candidate.Country != requester.PrefCountry {
		return false
	}
	if candidate.PrefCountry != "" && requester.Country != candidate.PrefCountry {
		return false
	}
	return true
}

// globallyVisible reports whether an entry is eligible for the global tiers:
// roomless entries always are, room-scoped entries only after the fallback
// window has passed.
func globallyVisible(e pool.Entry, now time.Time) bool {
	return e.Room == "" || e.Waited(now) >= RoomFallbackWindow
}

// Age-range preferences are carried in the snapshot but intentionally not
// evaluated by any tier. See DESIGN.md.
