package stage

import (
	"fmt"
	"slices"
)

// Inversion holds the per-axis direction flags that convert between the
// program frame and the hardware frame. It is an immutable value: Toggle
// returns a new Inversion, so a change is always a whole-value replacement
// that Equal can detect.
//
// Converting negates the inverted axes. The same conversion works in both
// directions since negation is its own inverse.
type Inversion struct {
	axes     AxisSet
	inverted []bool
}

// NewInversion builds the flags for axes. Axes missing from inverted are
// not inverted; keys outside axes are rejected.
func NewInversion(axes AxisSet, inverted map[string]bool) (Inversion, error) {
	var unknown []string
	for k := range inverted {
		if !axes.Contains(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return Inversion{}, &UnknownAxisError{Axes: unknown}
	}

	flags := make([]bool, axes.Len())
	for i, n := range axes.names {
		flags[i] = inverted[n]
	}
	return Inversion{axes: axes, inverted: flags}, nil
}

func (inv Inversion) Axes() AxisSet { return inv.axes }

func (inv Inversion) Inverted(axis string) (bool, error) {
	i := inv.axes.Index(axis)
	if i < 0 {
		return false, &UnknownAxisError{Axes: []string{axis}}
	}
	return inv.inverted[i], nil
}

// Map returns a fresh axis -> inverted map.
func (inv Inversion) Map() map[string]bool {
	out := make(map[string]bool, len(inv.inverted))
	for i, n := range inv.axes.names {
		out[n] = inv.inverted[i]
	}
	return out
}

// Toggle returns a copy with axis flipped.
func (inv Inversion) Toggle(axis string) (Inversion, error) {
	i := inv.axes.Index(axis)
	if i < 0 {
		return Inversion{}, &UnknownAxisError{Axes: []string{axis}}
	}
	flags := slices.Clone(inv.inverted)
	flags[i] = !flags[i]
	return Inversion{axes: inv.axes, inverted: flags}, nil
}

func (inv Inversion) Equal(o Inversion) bool {
	return inv.axes.Equal(o.axes) && slices.Equal(inv.inverted, o.inverted)
}

// TranslateSequence converts an ordered position. values must have exactly
// one entry per axis.
func (inv Inversion) TranslateSequence(values []int) ([]int, error) {
	if len(values) != len(inv.inverted) {
		return nil, fmt.Errorf("%w: got %d values for %d axes", ErrLengthMismatch, len(values), len(inv.inverted))
	}
	out := make([]int, len(values))
	for i, v := range values {
		if inv.inverted[i] {
			v = -v
		}
		out[i] = v
	}
	return out, nil
}

// Translate converts every axis present in p. All unknown keys are reported
// in one *UnknownAxisError.
func (inv Inversion) Translate(p Position) (Position, error) {
	if err := inv.axes.Check(p); err != nil {
		return nil, err
	}
	return inv.apply(p), nil
}

// apply assumes every key of p is a known axis.
func (inv Inversion) apply(p Position) Position {
	out := make(Position, len(p))
	for k, v := range p {
		if inv.inverted[inv.axes.Index(k)] {
			v = -v
		}
		out[k] = v
	}
	return out
}
