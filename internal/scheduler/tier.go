package scheduler

import (
	"fmt"
	"math"

	"horde/internal/config"
)

// Tier is a discrete detail level assigned by distance to the reference point.
type Tier uint8

const (
	TierUnknown Tier = iota // Never assigned to a registered entity
	TierNear
	TierMid
	TierFar

	tierCount
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierNear:
		return "near"
	case TierMid:
		return "mid"
	case TierFar:
		return "far"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so tiers serialize by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name; unrecognized names become TierUnknown.
func (t *Tier) UnmarshalText(text []byte) error {
	*t = TierUnknown
	for c := TierNear; c < tierCount; c++ {
		if c.String() == string(text) {
			*t = c
			break
		}
	}
	return nil
}

// Thresholds are squared-distance boundaries with separate enter and exit edges
// per tier. Invariant: NearEnter <= NearExit <= MidEnter <= MidExit.
type Thresholds struct {
	NearEnter float64 `json:"nearEnter"`
	NearExit  float64 `json:"nearExit"`
	MidEnter  float64 `json:"midEnter"`
	MidExit   float64 `json:"midExit"`

	// Unbanded boundaries, used when an entity has no prior tier.
	NearBase float64 `json:"nearBase"`
	MidBase  float64 `json:"midBase"`
}

// NewThresholds derives the squared boundaries from the configured distances.
func NewThresholds(near, mid, band float64) (Thresholds, error) {
	sq := func(v float64) float64 { return v * v }
	enter := func(base float64) float64 { return sq(math.Max(0, base-band)) }
	exit := func(base float64) float64 { return sq(base + band) }

	t := Thresholds{
		NearEnter: enter(near),
		NearExit:  exit(near),
		MidEnter:  enter(mid),
		MidExit:   exit(mid),
		NearBase:  sq(near),
		MidBase:   sq(mid),
	}

	if near <= 0 || band < 0 || !(t.NearEnter <= t.NearExit && t.NearExit <= t.MidEnter && t.MidEnter <= t.MidExit) {
		return Thresholds{}, fmt.Errorf("%w: thresholds near=%g mid=%g band=%g are not ordered",
			config.ErrInvalidConfig, near, mid, band)
	}
	return t, nil
}

// Next applies the hysteresis transition rule to the current tier.
// An entity must cross the whole band around a boundary before it changes tier.
func (t Thresholds) Next(current Tier, sqrDist float64) Tier {
	switch current {
	case TierNear:
		if sqrDist > t.MidExit {
			return TierFar
		}
		if sqrDist > t.NearExit {
			return TierMid
		}
		return TierNear
	case TierMid:
		if sqrDist < t.NearEnter {
			return TierNear
		}
		if sqrDist > t.MidExit {
			return TierFar
		}
		return TierMid
	case TierFar:
		if sqrDist < t.NearEnter {
			return TierNear
		}
		if sqrDist < t.MidEnter {
			return TierMid
		}
		return TierFar
	default:
		return t.Initial(sqrDist)
	}
}

// Initial classifies an entity with no prior tier. Without history there is no
// side of the band to favor, so the raw near/mid boundaries are used rather
// than the enter thresholds: with near=25 and band=5 an entity registered at
// distance 24 starts Near, although NearEnter is 20. The band only applies
// from the first budgeted visit on.
func (t Thresholds) Initial(sqrDist float64) Tier {
	switch {
	case sqrDist < t.NearBase:
		return TierNear
	case sqrDist < t.MidBase:
		return TierMid
	default:
		return TierFar
	}
}
