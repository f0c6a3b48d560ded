// Package edn reads extensible data notation, the format plans, rules,
// transactions and fact files are written in.
package edn

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType represents the type of EDN node
type NodeType int

const (
	NodeNil NodeType = iota
	NodeBool
	NodeInt
	NodeFloat
	NodeString
	NodeSymbol
	NodeKeyword
	NodeList
	NodeVector
	NodeMap
	NodeSet
	NodeTagged
)

var nodeTypeNames = [...]string{
	NodeNil:     "nil",
	NodeBool:    "bool",
	NodeInt:     "int",
	NodeFloat:   "float",
	NodeString:  "string",
	NodeSymbol:  "symbol",
	NodeKeyword: "keyword",
	NodeList:    "list",
	NodeVector:  "vector",
	NodeMap:     "map",
	NodeSet:     "set",
	NodeTagged:  "tagged value",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Pos is a line:column position in the input, both 1-based
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Node represents an EDN value
type Node struct {
	Type   NodeType
	Pos    Pos
	Value  string // Atoms
	Nodes  []Node // Collections; maps alternate key and value
	Tag    string // Tagged values
	Tagged *Node
}

// String renders the node back as EDN
func (n Node) String() string {
	switch n.Type {
	case NodeNil:
		return "nil"
	case NodeString:
		return strconv.Quote(n.Value)
	case NodeList:
		return "(" + joinNodes(n.Nodes) + ")"
	case NodeVector:
		return "[" + joinNodes(n.Nodes) + "]"
	case NodeMap:
		return "{" + joinNodes(n.Nodes) + "}"
	case NodeSet:
		return "#{" + joinNodes(n.Nodes) + "}"
	case NodeTagged:
		return "#" + n.Tag + " " + n.Tagged.String()
	default:
		return n.Value
	}
}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = node.String()
	}
	return strings.Join(parts, " ")
}

// Errorf returns an error prefixed with the node's position
func (n Node) Errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s", n.Pos, fmt.Sprintf(format, args...))
}

func (n Node) expect(t NodeType) error {
	if n.Type != t {
		return n.Errorf("expected %s, got %s %s", t, n.Type, n)
	}
	return nil
}

// AsString returns the value of a string node
func (n Node) AsString() (string, error) {
	if err := n.expect(NodeString); err != nil {
		return "", err
	}
	return n.Value, nil
}

// AsInt returns the value of an int node
func (n Node) AsInt() (int64, error) {
	if err := n.expect(NodeInt); err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(strings.TrimSuffix(n.Value, "N"), 10, 64)
	if err != nil {
		return 0, n.Errorf("%v", err)
	}
	return i, nil
}

// AsFloat returns the value of a float node
func (n Node) AsFloat() (float64, error) {
	if err := n.expect(NodeFloat); err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(n.Value, "M"), 64)
	if err != nil {
		return 0, n.Errorf("%v", err)
	}
	return f, nil
}

// AsBool returns the value of a bool node
func (n Node) AsBool() (bool, error) {
	if err := n.expect(NodeBool); err != nil {
		return false, err
	}
	return n.Value == "true", nil
}

// AsSymbol returns the name of a symbol node
func (n Node) AsSymbol() (string, error) {
	if err := n.expect(NodeSymbol); err != nil {
		return "", err
	}
	return n.Value, nil
}

// AsKeyword returns a keyword including its leading colon
func (n Node) AsKeyword() (string, error) {
	if err := n.expect(NodeKeyword); err != nil {
		return "", err
	}
	return n.Value, nil
}

// Items returns the elements of a list, vector or set
func (n Node) Items() ([]Node, error) {
	switch n.Type {
	case NodeList, NodeVector, NodeSet:
		return n.Nodes, nil
	}
	return nil, n.Errorf("expected a sequence, got %s %s", n.Type, n)
}

// Get looks up a keyword key in a map node
func (n Node) Get(keyword string) (Node, bool) {
	if n.Type != NodeMap {
		return Node{}, false
	}
	for i := 0; i+1 < len(n.Nodes); i += 2 {
		k := n.Nodes[i]
		if k.Type == NodeKeyword && k.Value == keyword {
			return n.Nodes[i+1], true
		}
	}
	return Node{}, false
}

// Require is Get for mandatory keys
func (n Node) Require(keyword string) (Node, error) {
	if err := n.expect(NodeMap); err != nil {
		return Node{}, err
	}
	v, ok := n.Get(keyword)
	if !ok {
		return Node{}, n.Errorf("missing %s", keyword)
	}
	return v, nil
}

// Entries calls fn for every key/value pair of a map in input order
func (n Node) Entries(fn func(key, value Node) error) error {
	if err := n.expect(NodeMap); err != nil {
		return err
	}
	for i := 0; i+1 < len(n.Nodes); i += 2 {
		if err := fn(n.Nodes[i], n.Nodes[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Variant decodes a single-entry map {:tag body}, the shape tagged
// unions are written in
func (n Node) Variant() (string, Node, error) {
	if err := n.expect(NodeMap); err != nil {
		return "", Node{}, err
	}
	if len(n.Nodes) != 2 {
		return "", Node{}, n.Errorf("expected a map with one entry, got %d", len(n.Nodes)/2)
	}
	tag, err := n.Nodes[0].AsKeyword()
	if err != nil {
		return "", Node{}, err
	}
	return tag, n.Nodes[1], nil
}

// IsNil returns true if the node is nil
func (n Node) IsNil() bool {
	return n.Type == NodeNil
}
