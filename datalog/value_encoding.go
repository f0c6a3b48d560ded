package datalog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ValueType represents the type of a value
type ValueType byte

const (
	TypeNil ValueType = iota
	TypeEid
	TypeAttribute
	TypeString
	TypeNumber
	TypeReal
	TypeBool
	TypeInstant
	TypeUUID
)

// Type returns the type of a value
func Type(v Value) ValueType {
	switch val := v.(type) {
	case nil:
		return TypeNil
	case Eid:
		return TypeEid
	case Attribute:
		return TypeAttribute
	case string:
		return TypeString
	case int64:
		return TypeNumber
	case float64:
		return TypeReal
	case bool:
		return TypeBool
	case Instant:
		return TypeInstant
	case uuid.UUID:
		return TypeUUID
	default:
		panic(fmt.Sprintf("unknown value type: %T", val))
	}
}

// AppendValue appends the tagged encoding of v to buf.
// Fixed-width kinds are 8 (or 16) bytes big-endian; strings and
// attributes are length-prefixed with a uvarint.
func AppendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(Type(v)))
	switch val := v.(type) {
	case nil:
	case Eid:
		buf = binary.BigEndian.AppendUint64(buf, uint64(val))
	case Attribute:
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		buf = append(buf, val...)
	case string:
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		buf = append(buf, val...)
	case int64:
		buf = binary.BigEndian.AppendUint64(buf, uint64(val))
	case float64:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(val))
	case bool:
		if val {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case Instant:
		buf = binary.BigEndian.AppendUint64(buf, uint64(val))
	case uuid.UUID:
		buf = append(buf, val[:]...)
	}
	return buf
}

// ReadValue decodes one value from the front of data and returns it
// together with the number of bytes consumed
func ReadValue(data []byte) (Value, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty value encoding")
	}
	vType := ValueType(data[0])
	body := data[1:]

	fixed := func(n int) ([]byte, error) {
		if len(body) < n {
			return nil, fmt.Errorf("value type %d needs %d bytes, got %d", vType, n, len(body))
		}
		return body[:n], nil
	}

	switch vType {
	case TypeNil:
		return nil, 1, nil
	case TypeEid, TypeNumber, TypeReal, TypeInstant:
		b, err := fixed(8)
		if err != nil {
			return nil, 0, err
		}
		u := binary.BigEndian.Uint64(b)
		switch vType {
		case TypeEid:
			return Eid(u), 9, nil
		case TypeNumber:
			return int64(u), 9, nil
		case TypeReal:
			return math.Float64frombits(u), 9, nil
		default:
			return Instant(int64(u)), 9, nil
		}
	case TypeAttribute, TypeString:
		n, w := binary.Uvarint(body)
		if w <= 0 || uint64(len(body)-w) < n {
			return nil, 0, fmt.Errorf("truncated string value")
		}
		s := string(body[w : w+int(n)])
		if vType == TypeAttribute {
			return Attribute(s), 1 + w + int(n), nil
		}
		return s, 1 + w + int(n), nil
	case TypeBool:
		b, err := fixed(1)
		if err != nil {
			return nil, 0, err
		}
		return b[0] != 0, 2, nil
	case TypeUUID:
		b, err := fixed(16)
		if err != nil {
			return nil, 0, err
		}
		var u uuid.UUID
		copy(u[:], b)
		return u, 17, nil
	default:
		return nil, 0, fmt.Errorf("unknown value type: %v", vType)
	}
}

// EncodeTuple serializes a tuple as a uvarint arity followed by its values
func EncodeTuple(t Tuple) []byte {
	buf := binary.AppendUvarint(make([]byte, 0, 16*len(t)+1), uint64(len(t)))
	for _, v := range t {
		buf = AppendValue(buf, v)
	}
	return buf
}

// DecodeTuple is the inverse of EncodeTuple. It returns the tuple and
// the number of bytes consumed so callers can read trailing fields.
func DecodeTuple(data []byte) (Tuple, int, error) {
	n, w := binary.Uvarint(data)
	if w <= 0 {
		return nil, 0, fmt.Errorf("invalid tuple arity")
	}
	pos := w
	t := make(Tuple, 0, n)
	for i := uint64(0); i < n; i++ {
		v, used, err := ReadValue(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("tuple value %d: %w", i, err)
		}
		t = append(t, v)
		pos += used
	}
	return t, pos, nil
}
