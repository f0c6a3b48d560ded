package server

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// TableFormatter renders query outputs as markdown tables
type TableFormatter struct {
	// MaxWidth is the maximum width for a column
	MaxWidth int
	// TruncateString is the string to append when truncating
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatState formats the current contents of an output. A multiplicity
// column is added when some tuple occurs more than once.
func (tf *TableFormatter) FormatState(out *Output) string {
	state := out.Capture.State()
	counted := false
	for _, w := range state {
		if w.Diff != 1 {
			counted = true
			break
		}
	}

	headers := symbolHeaders(out.Symbols)
	if counted {
		headers = append(headers, "#")
	}
	rows := make([][]string, 0, len(state))
	for _, w := range state {
		row := tf.formatTuple(w.Tuple, len(out.Symbols))
		if counted {
			row = append(row, fmt.Sprintf("%d", w.Diff))
		}
		rows = append(rows, row)
	}
	return tf.formatTable(headers, rows)
}

// FormatUpdates formats one epoch's updates with their diffs
func (tf *TableFormatter) FormatUpdates(symbols []datalog.Var, b dataflow.Batch) string {
	headers := append(symbolHeaders(symbols), "diff")
	rows := make([][]string, 0, len(b))
	for _, u := range b {
		rows = append(rows, append(tf.formatTuple(u.Tuple, len(symbols)), fmt.Sprintf("%+d", u.Diff)))
	}
	return tf.formatTable(headers, rows)
}

func symbolHeaders(symbols []datalog.Var) []string {
	headers := make([]string, len(symbols))
	for i, s := range symbols {
		headers[i] = string(s)
	}
	return headers
}

// formatTuple renders a tuple padded to width columns; ragged pull
// tuples may be shorter than their relation
func (tf *TableFormatter) formatTuple(t datalog.Tuple, width int) []string {
	if len(t) > width {
		width = len(t)
	}
	row := make([]string, width)
	for i, v := range t {
		row[i] = tf.formatValue(v)
	}
	return row
}

// formatTable formats headers and rows as a markdown table
func (tf *TableFormatter) formatTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_", headers)
	}

	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d rows_\n", len(rows)))
	return tableString.String()
}

// formatValue converts a value to its display form
func (tf *TableFormatter) formatValue(val datalog.Value) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	default:
		s = datalog.FormatValue(v)
	}
	if tf.MaxWidth > 0 && len(s) > tf.MaxWidth {
		s = s[:tf.MaxWidth] + tf.TruncateString
	}
	return s
}
