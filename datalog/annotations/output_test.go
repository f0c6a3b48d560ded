package annotations

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorDisabledWithoutHandler(t *testing.T) {
	c := NewCollector(nil)
	c.AddTiming(PlanValidated, time.Now(), nil)
	assert.Empty(t, c.Events())
	assert.False(t, c.Enabled())

	var nilCollector *Collector
	nilCollector.AddTiming(PlanValidated, time.Now(), nil)
	assert.Nil(t, nilCollector.Events())
}

func TestCollectorRecordsAndResets(t *testing.T) {
	var seen []string
	c := NewCollector(func(e Event) { seen = append(seen, e.Name) })

	c.AddTiming(QueryRegistered, time.Now(), map[string]interface{}{"query": "q1", "rules": 2})
	c.Add(Event{Name: DataflowStepped})

	assert.Equal(t, []string{QueryRegistered, DataflowStepped}, seen)
	events := c.Events()
	assert.Len(t, events, 2)
	assert.GreaterOrEqual(t, int64(events[0].Latency), int64(0))

	c.Reset()
	assert.Empty(t, c.Events())
}

func TestOutputFormatterPlainText(t *testing.T) {
	var buf bytes.Buffer
	f := NewOutputFormatter(&buf)

	f.Handle(Event{
		Name:    PlanImplemented,
		Latency: 1500 * time.Microsecond,
		Data: map[string]interface{}{
			"name":      "adults",
			"symbols":   []string{"?e", "?age"},
			"operators": 7,
		},
	})
	f.Handle(Event{
		Name: Transacted,
		Data: map[string]interface{}{"tx": uint64(3), "datoms": 2},
	})

	out := buf.String()
	assert.Contains(t, out, "[1.5ms] === Rule adults → Relation([?e ?age]) with 7 operators")
	assert.Contains(t, out, "Transacted 2 Datoms at tx 3")
	assert.False(t, strings.Contains(out, "\x1b["), "buffers never get color")
}

func TestRenderDiffs(t *testing.T) {
	r := NewRelationRenderer(false)
	assert.Equal(t, "+3/-1", r.RenderDiffs(3, 1))
	assert.Equal(t, "Relation([?a ?b])", r.RenderSymbols([]string{"?a", "?b"}))
}
