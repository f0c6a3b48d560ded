package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
	renderer *RelationRenderer
}

// NewOutputFormatter creates a formatter with color support detection.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	// Auto-detect color support
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd()) && !color.NoColor
	}

	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
		renderer: NewRelationRenderer(useColor),
	}
}

// Handle implements the Handler interface - prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)

	switch event.Name {
	case PlanValidated:
		return fmt.Sprintf("%s Plan %s → %s",
			latency,
			truncate(stringData(event, "plan")),
			f.renderer.RenderSymbols(stringsData(event, "symbols")))

	case PlanImplemented:
		return fmt.Sprintf("%s %s Rule %s → %s with %s",
			latency,
			f.colorize("===", color.FgYellow),
			stringData(event, "name"),
			f.renderer.RenderSymbols(stringsData(event, "symbols")),
			f.renderer.colorizeCount("operators", intData(event, "operators")))

	case QueryRegistered:
		return fmt.Sprintf("%s %s Query %s registered with %s",
			latency,
			f.colorize("===", color.FgGreen),
			stringData(event, "query"),
			f.renderer.colorizeCount("rules", intData(event, "rules")))

	case QueryUnregistered:
		return fmt.Sprintf("%s Query %s unregistered", latency, stringData(event, "query"))

	case DataflowStepped:
		return fmt.Sprintf("%s Stepped %s epoch %v: %d operators, %d rounds, %s",
			latency,
			stringData(event, "dataflow"),
			event.Data["epoch"],
			intData(event, "operators"),
			intData(event, "rounds"),
			f.renderer.colorizeCount("updates", intData(event, "updates")))

	case InputCreated:
		return fmt.Sprintf("%s Input %s created", latency, stringData(event, "attribute"))

	case Transacted:
		return fmt.Sprintf("%s Transacted %s at tx %v",
			latency,
			f.colorizeCount("Datoms", intData(event, "datoms")),
			event.Data["tx"])

	case ErrorPlan, ErrorStep:
		return fmt.Sprintf("%s %s %s: %v",
			latency,
			f.colorize("✗", color.FgRed),
			event.Name,
			event.Data["error"])

	default:
		// Generic format for unknown events
		return fmt.Sprintf("%s %s %v", latency, event.Name, event.Data)
	}
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	// Use microseconds for sub-millisecond durations
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)

	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)

	if !f.useColor {
		return text
	}

	switch strings.ToLower(label) {
	case "relations":
		return color.CyanString(text)
	case "tuples":
		return color.MagentaString(text)
	case "datoms":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

func stringData(e Event, key string) string {
	if s, ok := e.Data[key].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", e.Data[key])
}

func stringsData(e Event, key string) []string {
	s, _ := e.Data[key].([]string)
	return s
}

func intData(e Event, key string) int {
	switch n := e.Data[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	}
	return 0
}

// truncate shortens long plans for display.
func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")

	const maxLen = 80
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen-3] + "..."
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}

// isTerminal checks if the file descriptor is a terminal.
// This is a simplified version that only recognises stdout and stderr.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2)
}
