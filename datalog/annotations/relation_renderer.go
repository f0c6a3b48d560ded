package annotations

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// RelationRenderer provides pretty-printing for relation summaries
type RelationRenderer struct {
	useColor bool
}

// NewRelationRenderer creates a new relation renderer
func NewRelationRenderer(useColor bool) *RelationRenderer {
	return &RelationRenderer{useColor: useColor}
}

// RenderSymbols renders a relation's symbols, e.g. Relation([?e ?v])
func (r *RelationRenderer) RenderSymbols(symbols []string) string {
	list := strings.Join(symbols, " ")
	if r.useColor {
		return fmt.Sprintf("%s%s%s",
			color.BlueString("Relation(["),
			color.CyanString(list),
			color.BlueString("])"))
	}
	return fmt.Sprintf("Relation([%s])", list)
}

// RenderDiffs renders an update summary: how many tuples were added and
// how many retracted
func (r *RelationRenderer) RenderDiffs(added, retracted int) string {
	if !r.useColor {
		return fmt.Sprintf("+%d/-%d", added, retracted)
	}
	return fmt.Sprintf("%s/%s",
		color.GreenString("+%d", added),
		color.RedString("-%d", retracted))
}

// colorizeCount formats a count with color based on size
func (r *RelationRenderer) colorizeCount(label string, count int) string {
	if !r.useColor {
		return fmt.Sprintf("%d %s", count, label)
	}

	countStr := fmt.Sprintf("%d", count)

	// Color based on size
	switch {
	case count == 0:
		countStr = color.RedString(countStr)
	case count < 100:
		countStr = color.GreenString(countStr)
	case count < 10000:
		countStr = color.YellowString(countStr)
	default:
		countStr = color.RedString(countStr)
	}

	return fmt.Sprintf("%s %s", countStr, label)
}
