// Package zone classifies heart-rate readings into effort tiers and owns
// the compressed storage alphabet for timeline series.
package zone

import (
	"github.com/pedalhouse/engine/internal/domain/model"
)

// Zone is one tier of the effort ladder.
type Zone string

// Effort tiers, lowest to highest. Fire exists only in the priority
// ladder used by governance and lighting; timeline storage collapses it
// into Hot (see StorageTier).
const (
	Cool   Zone = "cool"
	Active Zone = "active"
	Warm   Zone = "warm"
	Hot    Zone = "hot"
	Fire   Zone = "fire"
)

// Default cutoffs as fractions of max heart rate, applied when a profile
// does not carry explicit bpm thresholds.
const (
	defaultActiveFrac = 0.60
	defaultWarmFrac   = 0.70
	defaultHotFrac    = 0.80
	defaultFireFrac   = 0.90

	// Fallback max heart rate for anonymous guests with no profile.
	GuestMaxHeartRate = 190
)

// Priority returns the zone's position on the ladder, Cool=0 .. Fire=4.
func (z Zone) Priority() int {
	switch z {
	case Cool:
		return 0
	case Active:
		return 1
	case Warm:
		return 2
	case Hot:
		return 3
	case Fire:
		return 4
	default:
		return -1
	}
}

// AtLeast reports whether z sits at or above other on the ladder.
func (z Zone) AtLeast(other Zone) bool {
	return z.Priority() >= other.Priority()
}

// Color returns the display color associated with the zone.
func (z Zone) Color() string {
	switch z {
	case Cool:
		return "blue"
	case Active:
		return "green"
	case Warm:
		return "yellow"
	case Hot:
		return "orange"
	case Fire:
		return "red"
	default:
		return ""
	}
}

// StorageTier maps a zone onto the four-tier storage alphabet.
// Fire collapses into Hot so the symbol codec stays reversible.
func (z Zone) StorageTier() Zone {
	if z == Fire {
		return Hot
	}
	return z
}

// Symbol returns the single-character storage symbol for a storage tier.
func (z Zone) Symbol() (string, error) {
	switch z.StorageTier() {
	case Cool:
		return "c", nil
	case Active:
		return "a", nil
	case Warm:
		return "w", nil
	case Hot:
		return "h", nil
	default:
		return "", ErrUnknownZone
	}
}

// FromSymbol decodes a storage symbol back into its zone.
func FromSymbol(s string) (Zone, error) {
	switch s {
	case "c":
		return Cool, nil
	case "a":
		return Active, nil
	case "w":
		return Warm, nil
	case "h":
		return Hot, nil
	default:
		return "", ErrUnknownSymbol
	}
}

// Parse returns the zone named by id, or an error for unknown ids.
func Parse(id string) (Zone, error) {
	switch Zone(id) {
	case Cool, Active, Warm, Hot, Fire:
		return Zone(id), nil
	default:
		return "", ErrUnknownZone
	}
}

// thresholds are the resolved absolute bpm cutoffs for one participant.
type thresholds struct {
	active, warm, hot, fire float64
}

func resolve(p *model.Profile) thresholds {
	maxHR := float64(GuestMaxHeartRate)
	if p != nil && p.MaxHeartRate > 0 {
		maxHR = p.MaxHeartRate
	}
	t := thresholds{
		active: maxHR * defaultActiveFrac,
		warm:   maxHR * defaultWarmFrac,
		hot:    maxHR * defaultHotFrac,
		fire:   maxHR * defaultFireFrac,
	}
	if p == nil {
		return t
	}
	if p.ActiveBPM > 0 {
		t.active = p.ActiveBPM
	}
	if p.WarmBPM > 0 {
		t.warm = p.WarmBPM
	}
	if p.HotBPM > 0 {
		t.hot = p.HotBPM
	}
	if p.FireBPM > 0 {
		t.fire = p.FireBPM
	}
	return t
}

// Classify maps a heart-rate value onto the five-tier ladder using the
// profile's thresholds. A nil profile classifies with guest defaults.
func Classify(bpm float64, p *model.Profile) Zone {
	t := resolve(p)
	switch {
	case bpm >= t.fire:
		return Fire
	case bpm >= t.hot:
		return Hot
	case bpm >= t.warm:
		return Warm
	case bpm >= t.active:
		return Active
	default:
		return Cool
	}
}
