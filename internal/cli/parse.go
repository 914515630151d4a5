package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// parseAxisArgs turns ["x=10", "z=-2"] into a position mapping. Values are
// passed on as given; the server rejects fractional steps.
func parseAxisArgs(args []string) (map[string]float64, error) {
	out := make(map[string]float64, len(args))
	for _, arg := range args {
		axis, raw, ok := strings.Cut(arg, "=")
		axis = strings.TrimSpace(axis)
		if !ok || axis == "" {
			return nil, fmt.Errorf("expected axis=value, got %q", arg)
		}
		if _, dup := out[axis]; dup {
			return nil, fmt.Errorf("axis %s given twice", axis)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("axis %s: %w", axis, err)
		}
		out[axis] = v
	}
	return out, nil
}

// parseNumbers parses a list of plain numbers, in axis order.
func parseNumbers(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
