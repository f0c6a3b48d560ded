// Package sources provides external data sources that feed tuples into
// a dataflow.
package sources

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/edn"
)

// Sourceable is an external data source. Source attaches it to a scope
// and returns the stream of updates it produces, now and in later
// epochs. Updates may carry negative multiplicities.
type Sourceable interface {
	Source(scope *dataflow.Scope) (*dataflow.Collection, error)
}

// Decode reads a source description:
//
//	{:plain-file {:path "facts.edn"}}
//	{:badger-log {:path "/var/lib/log" :prefix "clicks"}}
func Decode(n edn.Node) (Sourceable, error) {
	tag, body, err := n.Variant()
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	path, err := stringField(body, ":path")
	if err != nil {
		return nil, err
	}
	switch tag {
	case ":plain-file":
		return &PlainFile{Path: path}, nil
	case ":badger-log":
		prefix, err := stringField(body, ":prefix")
		if err != nil {
			return nil, err
		}
		return &BadgerLog{Path: path, Prefix: prefix}, nil
	}
	return nil, n.Errorf("unknown source %s", tag)
}

func stringField(body edn.Node, key string) (string, error) {
	v, err := body.Require(key)
	if err != nil {
		return "", err
	}
	return v.AsString()
}
