package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/fatih/color"
)

var (
	nameColor     = color.New(color.FgCyan, color.Bold)
	movingColor   = color.New(color.FgYellow)
	idleColor     = color.New(color.FgGreen)
	invertedColor = color.New(color.FgMagenta)
	errorColor    = color.New(color.FgRed)
)

func disableColor() {
	color.NoColor = true
}

func printProperties(w io.Writer, p *stage.Properties) {
	state := idleColor.Sprint("idle")
	if p.Moving {
		state = movingColor.Sprint("moving")
	}
	fmt.Fprintf(w, "%s [%s]\n", nameColor.Sprint(p.Name), state)

	for _, axis := range p.AxisNames {
		marker := ""
		if p.AxisInverted[axis] {
			marker = invertedColor.Sprint(" (inverted)")
		}
		fmt.Fprintf(w, "  %s: %d%s\n", axis, p.Position[axis], marker)
	}
}

// formatPosition renders p as "x=1 y=2", axes sorted by name.
func formatPosition(p stage.Position) string {
	parts := make([]string, 0, len(p))
	for _, axis := range slices.Sorted(maps.Keys(p)) {
		parts = append(parts, fmt.Sprintf("%s=%d", axis, p[axis]))
	}
	return strings.Join(parts, " ")
}
