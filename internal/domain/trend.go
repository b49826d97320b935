package domain

import (
	"fmt"
	"strings"
)

// Align selects how the rolling window lines up with the series.
type Align int

const (
	// AlignTrailing averages the window ending at each position. Early
	// positions use a shrinking partial window, so the average is
	// defined from the first sample on.
	AlignTrailing Align = iota
	// AlignShifted moves the trailing result earlier by one full
	// window, leaving the final window positions undefined. Useful when
	// the average should describe the window that follows a point
	// rather than the one behind it.
	AlignShifted
)

func (a Align) String() string {
	switch a {
	case AlignTrailing:
		return "trailing"
	case AlignShifted:
		return "shifted"
	default:
		return "unknown"
	}
}

// ParseAlign maps the config/flag spelling to an Align value.
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trailing":
		return AlignTrailing, nil
	case "shifted":
		return AlignShifted, nil
	default:
		return AlignTrailing, fmt.Errorf("unknown align %q (want trailing or shifted)", s)
	}
}

// MarshalText lets Align round-trip through YAML and JSON configs.
func (a Align) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Align) UnmarshalText(text []byte) error {
	v, err := ParseAlign(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Compute derives the rolling average and its rate of change for a
// cleaned series. Both result slices have one entry per input record;
// a nil entry means the value is undefined at that position. window
// must be at least 1.
//
// The velocity at position i is (avg[i]-avg[i-1]) divided by the gap
// in seconds between the records. Position 0 has no predecessor and is
// nil. A zero gap cannot occur in a cleaned series but yields nil
// rather than an infinity if it does.
func Compute(s Series, window int, align Align) (avg, vel []*float64, err error) {
	if window < 1 {
		return nil, nil, fmt.Errorf("window must be >= 1, got %d", window)
	}
	n := len(s)
	avg = make([]*float64, n)
	vel = make([]*float64, n)
	if n == 0 {
		return avg, vel, nil
	}

	// Trailing mean via a running sum over the shrinking-then-full
	// window.
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s[i].Value
		width := window
		if i+1 < window {
			width = i + 1
		} else if i >= window {
			sum -= s[i-window].Value
		}
		m := sum / float64(width)
		avg[i] = &m
	}

	if align == AlignShifted {
		shifted := make([]*float64, n)
		for i := 0; i+window < n; i++ {
			shifted[i] = avg[i+window]
		}
		avg = shifted
	}

	for i := 1; i < n; i++ {
		if avg[i] == nil || avg[i-1] == nil {
			continue
		}
		dt := s[i].Timestamp.Sub(s[i-1].Timestamp).Seconds()
		if dt == 0 {
			continue
		}
		v := (*avg[i] - *avg[i-1]) / dt
		vel[i] = &v
	}
	return avg, vel, nil
}
