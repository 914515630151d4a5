package stage

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// AxisSet is the ordered, immutable list of axis names of one stage type.
type AxisSet struct {
	names []string
}

// Position maps axis name to motor steps.
type Position map[string]int

// NewAxisSet returns an axis set with the given order. Names must be unique
// and non-empty.
func NewAxisSet(names ...string) (AxisSet, error) {
	if len(names) == 0 {
		return AxisSet{}, fmt.Errorf("axis set needs at least one axis")
	}

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return AxisSet{}, fmt.Errorf("axis name must not be empty")
		}
		if _, dup := seen[n]; dup {
			return AxisSet{}, fmt.Errorf("duplicate axis %q", n)
		}
		seen[n] = struct{}{}
	}

	return AxisSet{names: slices.Clone(names)}, nil
}

// DefaultAxes is x, y, z.
func DefaultAxes() AxisSet {
	return AxisSet{names: []string{"x", "y", "z"}}
}

func (a AxisSet) Names() []string { return slices.Clone(a.names) }

func (a AxisSet) Len() int { return len(a.names) }

// Index returns the position of name in the set, or -1.
func (a AxisSet) Index(name string) int {
	return slices.Index(a.names, name)
}

func (a AxisSet) Contains(name string) bool { return a.Index(name) >= 0 }

// IsXYZ reports whether the set holds exactly the axes x, y and z.
func (a AxisSet) IsXYZ() bool {
	return len(a.names) == 3 && a.Contains("x") && a.Contains("y") && a.Contains("z")
}

func (a AxisSet) Equal(o AxisSet) bool { return slices.Equal(a.names, o.names) }

// Zero returns a position with every axis at 0.
func (a AxisSet) Zero() Position {
	p := make(Position, len(a.names))
	for _, n := range a.names {
		p[n] = 0
	}
	return p
}

// Unknown returns the sorted keys of p that are not in the set.
func (a AxisSet) Unknown(p Position) []string {
	var unknown []string
	for k := range p {
		if !a.Contains(k) {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// Check returns an *UnknownAxisError if p names axes outside the set.
func (a AxisSet) Check(p Position) error {
	if unknown := a.Unknown(p); len(unknown) > 0 {
		return &UnknownAxisError{Axes: unknown}
	}
	return nil
}

// FromSequence pairs values with the axes in order.
func (a AxisSet) FromSequence(values []int) (Position, error) {
	if len(values) != len(a.names) {
		return nil, fmt.Errorf("%w: got %d values for %d axes", ErrLengthMismatch, len(values), len(a.names))
	}
	p := make(Position, len(values))
	for i, n := range a.names {
		p[n] = values[i]
	}
	return p, nil
}

// Sequence returns p's values in axis order; absent axes are 0.
func (a AxisSet) Sequence(p Position) []int {
	out := make([]int, len(a.names))
	for i, n := range a.names {
		out[i] = p[n]
	}
	return out
}

// Fill returns a copy of p with every absent axis taken from base.
func (a AxisSet) Fill(p, base Position) Position {
	out := make(Position, len(a.names))
	for _, n := range a.names {
		if v, ok := p[n]; ok {
			out[n] = v
		} else {
			out[n] = base[n]
		}
	}
	return out
}

func (p Position) Clone() Position { return maps.Clone(p) }

func (p Position) Equal(o Position) bool { return maps.Equal(p, o) }

// Steps converts a decoded number to motor steps, rejecting fractions.
// Outer surfaces (JSON, protobuf Struct, CLI flags) decode numbers as
// float64 and call this before handing positions to a Stage.
func Steps(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %v", ErrFractional, v)
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	return int(v), nil
}

// PositionFromFloats converts every value with Steps.
func PositionFromFloats(in map[string]float64) (Position, error) {
	out := make(Position, len(in))
	for k, v := range in {
		steps, err := Steps(v)
		if err != nil {
			return nil, fmt.Errorf("axis %q: %w", k, err)
		}
		out[k] = steps
	}
	return out, nil
}
