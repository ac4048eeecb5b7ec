package governance

import (
	"fmt"
	"time"

	"github.com/pedalhouse/engine/internal/domain/zone"
)

// Policy is the governance configuration document. It arrives from an
// external configuration collaborator; a missing or malformed policy
// makes the engine fail open to unlocked.
type Policy struct {
	// RequiredZone is the tier a participant must reach to count as
	// compliant.
	RequiredZone string `koanf:"required_zone"`

	// MinParticipants is the number of compliant participants required
	// to keep content unlocked.
	MinParticipants int `koanf:"min_participants"`

	// GracePeriodMs is how long requirements may lapse before
	// warning escalates to locked.
	GracePeriodMs int64 `koanf:"grace_period_ms"`

	// Challenge scheduling bounds and lifetime.
	ChallengeMinIntervalMs int64 `koanf:"challenge_min_interval_ms"`
	ChallengeMaxIntervalMs int64 `koanf:"challenge_max_interval_ms"`
	ChallengeTTLMs         int64 `koanf:"challenge_ttl_ms"`

	Challenges []Challenge `koanf:"challenges"`
}

// Challenge is one entry of the mini-game catalog.
type Challenge struct {
	ID         string `koanf:"id" json:"id"`
	Title      string `koanf:"title" json:"title"`
	TargetZone string `koanf:"target_zone" json:"targetZone"`
	Weight     int    `koanf:"weight" json:"-"`
}

// DefaultPolicy returns a policy with sane gating defaults and an empty
// challenge catalog.
func DefaultPolicy() Policy {
	return Policy{
		RequiredZone:           string(zone.Warm),
		MinParticipants:        1,
		GracePeriodMs:          20_000,
		ChallengeMinIntervalMs: 60_000,
		ChallengeMaxIntervalMs: 180_000,
		ChallengeTTLMs:         30_000,
	}
}

// Validate checks the policy for configuration defects. Callers treat a
// failure as "fail open", never as "locked".
func (p Policy) Validate() error {
	if _, err := zone.Parse(p.RequiredZone); err != nil {
		return fmt.Errorf("required_zone %q: %w", p.RequiredZone, ErrInvalidPolicy)
	}
	if p.MinParticipants < 1 {
		return fmt.Errorf("min_participants %d: %w", p.MinParticipants, ErrInvalidPolicy)
	}
	if p.GracePeriodMs <= 0 {
		return fmt.Errorf("grace_period_ms %d: %w", p.GracePeriodMs, ErrInvalidPolicy)
	}
	if p.ChallengeMinIntervalMs <= 0 || p.ChallengeMaxIntervalMs < p.ChallengeMinIntervalMs {
		return fmt.Errorf("challenge interval [%d,%d]: %w",
			p.ChallengeMinIntervalMs, p.ChallengeMaxIntervalMs, ErrInvalidPolicy)
	}
	if p.ChallengeTTLMs <= 0 {
		return fmt.Errorf("challenge_ttl_ms %d: %w", p.ChallengeTTLMs, ErrInvalidPolicy)
	}
	for _, c := range p.Challenges {
		if c.ID == "" {
			return fmt.Errorf("challenge without id: %w", ErrInvalidPolicy)
		}
		if c.TargetZone != "" {
			if _, err := zone.Parse(c.TargetZone); err != nil {
				return fmt.Errorf("challenge %s target_zone %q: %w", c.ID, c.TargetZone, ErrInvalidPolicy)
			}
		}
	}
	return nil
}

// GracePeriod returns the grace duration.
func (p Policy) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodMs) * time.Millisecond
}
