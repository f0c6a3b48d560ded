package sources

import (
	"bufio"
	"fmt"
	"os"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/edn"
)

// PlainFile reads facts from a text file, one per line:
//
//	1 :person/name "Alice"
//	2 :person/born #inst "1990-01-01T00:00:00Z"
//
// The first field is the entity id; the remaining fields are EDN
// values. Each line becomes one tuple asserted in the first epoch after
// the source is attached. Blank lines and ';' comments are skipped.
type PlainFile struct {
	Path string
}

func (f *PlainFile) String() string {
	return fmt.Sprintf("plain-file %q", f.Path)
}

// Source reads the file and attaches its tuples to scope
func (f *PlainFile) Source(scope *dataflow.Scope) (*dataflow.Collection, error) {
	tuples, err := f.Read()
	if err != nil {
		return nil, err
	}
	done := false
	poll := dataflow.PollerFunc(func(epoch uint64) (dataflow.Batch, error) {
		if done {
			return nil, nil
		}
		done = true
		b := make(dataflow.Batch, len(tuples))
		for i, t := range tuples {
			b[i] = dataflow.Update{Tuple: t, Time: epoch, Diff: 1}
		}
		return b, nil
	})
	return scope.NewSource(f.String(), poll), nil
}

// Read parses every fact in the file
func (f *PlainFile) Read() ([]datalog.Tuple, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("plain-file: %w", err)
	}
	defer file.Close()

	var tuples []datalog.Tuple
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		t, err := parseFact(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("plain-file %s line %d: %w", f.Path, line, err)
		}
		if t != nil {
			tuples = append(tuples, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("plain-file %s: %w", f.Path, err)
	}
	return tuples, nil
}

func parseFact(line string) (datalog.Tuple, error) {
	nodes, err := edn.ParseAll(line)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	e, err := edn.ToEid(nodes[0])
	if err != nil {
		return nil, err
	}
	t := make(datalog.Tuple, 0, len(nodes))
	t = append(t, e)
	for _, n := range nodes[1:] {
		v, err := edn.ToValue(n)
		if err != nil {
			return nil, err
		}
		t = append(t, v)
	}
	return t, nil
}
