package edn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

var (
	intPattern   = regexp.MustCompile(`^[+-]?\d+N?$`)
	floatPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?M?$`)

	// Characters allowed in symbols besides letters and digits
	symbolPunct = ".*+!-_?$%&=<>/#'"
)

// Reader reads a stream of EDN values, one top-level form at a time
type Reader struct {
	in   *bufio.Reader
	pos  Pos
	last Pos // position before the last rune read, for unread
}

// NewReader creates a reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{in: bufio.NewReader(r), pos: Pos{Line: 1, Col: 1}}
}

// Parse reads a single value from input. Trailing forms are an error.
func Parse(input string) (*Node, error) {
	r := NewReader(strings.NewReader(input))
	node, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty input", r.pos)
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); err != io.EOF {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: unexpected trailing input", r.pos)
	}
	return node, nil
}

// ParseAll reads every value in input
func ParseAll(input string) ([]Node, error) {
	return NewReader(strings.NewReader(input)).ReadAll()
}

// ReadAll reads values until the end of the stream
func (r *Reader) ReadAll() ([]Node, error) {
	var nodes []Node
	for {
		node, err := r.Read()
		if err == io.EOF {
			return nodes, nil
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
}

// Read returns the next top-level value, or io.EOF when the stream is
// exhausted
func (r *Reader) Read() (*Node, error) {
	for {
		node, err := r.readForm(0)
		if err != nil {
			return nil, err
		}
		// #_ discards the following form
		if node != nil {
			return node, nil
		}
	}
}

var errClose = errors.New("closing delimiter")

func (r *Reader) next() (rune, error) {
	ch, _, err := r.in.ReadRune()
	if err != nil {
		return 0, err
	}
	r.last = r.pos
	if ch == '\n' {
		r.pos.Line++
		r.pos.Col = 1
	} else {
		r.pos.Col++
	}
	return ch, nil
}

func (r *Reader) unread() {
	if r.in.UnreadRune() == nil {
		r.pos = r.last
	}
}

func (r *Reader) skipSpace() error {
	for {
		ch, err := r.next()
		if err != nil {
			return err
		}
		switch {
		case unicode.IsSpace(ch) || ch == ',':
		case ch == ';':
			for ch != '\n' {
				if ch, err = r.next(); err != nil {
					return err
				}
			}
		default:
			r.unread()
			return nil
		}
	}
}

// readForm reads one form. close is the rune that ends the enclosing
// collection; reading it returns errClose. A discarded form yields nil.
func (r *Reader) readForm(close rune) (*Node, error) {
	if err := r.skipSpace(); err != nil {
		return nil, err
	}
	start := r.pos
	ch, err := r.next()
	if err != nil {
		return nil, err
	}

	switch ch {
	case close:
		return nil, errClose
	case ')', ']', '}':
		return nil, fmt.Errorf("%s: unexpected '%c'", start, ch)
	case '"':
		s, err := r.readString(start)
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeString, Value: s, Pos: start}, nil
	case '(':
		return r.readCollection(NodeList, ')', start)
	case '[':
		return r.readCollection(NodeVector, ']', start)
	case '{':
		return r.readCollection(NodeMap, '}', start)
	case '#':
		return r.readDispatch(start)
	}

	r.unread()
	atom, err := r.readAtom()
	if err != nil {
		return nil, err
	}
	return classify(atom, start)
}

func (r *Reader) readDispatch(start Pos) (*Node, error) {
	ch, err := r.next()
	if err != nil {
		return nil, fmt.Errorf("%s: unexpected end of input after #", start)
	}
	switch ch {
	case '{':
		return r.readCollection(NodeSet, '}', start)
	case '_':
		if _, err := r.readForm(0); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%s: nothing to discard", start)
			}
			return nil, err
		}
		return nil, nil
	}
	r.unread()
	tag, err := r.readAtom()
	if err != nil {
		return nil, err
	}
	if tag == "" || !validSymbol(tag) {
		return nil, fmt.Errorf("%s: invalid tag #%s", start, tag)
	}
	value, err := r.readForm(0)
	if err == io.EOF {
		return nil, fmt.Errorf("%s: tag #%s without a value", start, tag)
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("%s: tag #%s without a value", start, tag)
	}
	return &Node{Type: NodeTagged, Tag: tag, Tagged: value, Pos: start}, nil
}

func (r *Reader) readCollection(t NodeType, close rune, start Pos) (*Node, error) {
	node := &Node{Type: t, Pos: start}
	for {
		item, err := r.readForm(close)
		if err == errClose {
			break
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%s: unterminated %s", start, t)
		}
		if err != nil {
			return nil, err
		}
		if item != nil {
			node.Nodes = append(node.Nodes, *item)
		}
	}
	if t == NodeMap && len(node.Nodes)%2 != 0 {
		return nil, fmt.Errorf("%s: map has a key without a value", start)
	}
	return node, nil
}

func (r *Reader) readString(start Pos) (string, error) {
	var sb strings.Builder
	for {
		ch, err := r.next()
		if err != nil {
			return "", fmt.Errorf("%s: unterminated string", start)
		}
		switch ch {
		case '"':
			return sb.String(), nil
		case '\\':
			esc, err := r.next()
			if err != nil {
				return "", fmt.Errorf("%s: unterminated string", start)
			}
			switch esc {
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'n':
				sb.WriteByte('\n')
			case '\\', '"':
				sb.WriteRune(esc)
			default:
				return "", fmt.Errorf("%s: invalid escape sequence '\\%c'", r.last, esc)
			}
		default:
			sb.WriteRune(ch)
		}
	}
}

func isDelimiter(ch rune) bool {
	switch ch {
	case '(', ')', '[', ']', '{', '}', '"', ';', ',':
		return true
	}
	return unicode.IsSpace(ch)
}

func (r *Reader) readAtom() (string, error) {
	var sb strings.Builder
	for {
		ch, err := r.next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if isDelimiter(ch) {
			r.unread()
			return sb.String(), nil
		}
		sb.WriteRune(ch)
	}
}

func classify(atom string, pos Pos) (*Node, error) {
	switch atom {
	case "":
		return nil, fmt.Errorf("%s: unexpected character", pos)
	case "nil":
		return &Node{Type: NodeNil, Pos: pos}, nil
	case "true", "false":
		return &Node{Type: NodeBool, Value: atom, Pos: pos}, nil
	}
	switch {
	case strings.HasPrefix(atom, ":"):
		if len(atom) == 1 || !validSymbol(atom[1:]) {
			return nil, fmt.Errorf("%s: invalid keyword %s", pos, atom)
		}
		return &Node{Type: NodeKeyword, Value: atom, Pos: pos}, nil
	case intPattern.MatchString(atom):
		return &Node{Type: NodeInt, Value: atom, Pos: pos}, nil
	case floatPattern.MatchString(atom):
		return &Node{Type: NodeFloat, Value: atom, Pos: pos}, nil
	case !validSymbol(atom):
		return nil, fmt.Errorf("%s: invalid symbol %s", pos, atom)
	}
	return &Node{Type: NodeSymbol, Value: atom, Pos: pos}, nil
}

func validSymbol(s string) bool {
	for i, ch := range s {
		switch {
		case unicode.IsLetter(ch):
		case unicode.IsDigit(ch):
			if i == 0 {
				return false
			}
		case strings.ContainsRune(symbolPunct, ch):
		default:
			return false
		}
	}
	return s != ""
}
