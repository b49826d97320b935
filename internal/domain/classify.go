package domain

// TrendState is the direction read off the latest defined velocity.
type TrendState int

const (
	TrendStable TrendState = iota
	TrendRising
	TrendFalling
)

// velocityEpsilon is the dead band around zero: velocities within
// [-velocityEpsilon, +velocityEpsilon] classify as stable, boundary
// values included.
const velocityEpsilon = 0.005

func (t TrendState) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	case TrendStable:
		return "stable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its lowercase name.
func (t TrendState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the lowercase name form.
func (t *TrendState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"rising"`:
		*t = TrendRising
	case `"falling"`:
		*t = TrendFalling
	default:
		*t = TrendStable
	}
	return nil
}

// Direction maps the state onto -1, 0, +1 for gauges.
func (t TrendState) Direction() float64 {
	switch t {
	case TrendRising:
		return 1
	case TrendFalling:
		return -1
	default:
		return 0
	}
}

// Classify reads the trend from the last defined velocity in vel and
// returns it together with that velocity. A series with no defined
// velocity is stable with velocity 0.
func Classify(vel []*float64) (TrendState, float64) {
	for i := len(vel) - 1; i >= 0; i-- {
		if vel[i] == nil {
			continue
		}
		v := *vel[i]
		switch {
		case v > velocityEpsilon:
			return TrendRising, v
		case v < -velocityEpsilon:
			return TrendFalling, v
		default:
			return TrendStable, v
		}
	}
	return TrendStable, 0
}
