// ABOUTME: Order-preserving encoding for composite index keys
// ABOUTME: Used to build memdb index values for settings, revisions and snapshots

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Value types for composite keys. NULL sorts before every other type so a
// null label orders ahead of any string label for the same key.
const (
	TYPE_NULL   = 0
	TYPE_BYTES  = 1
	TYPE_UINT64 = 3
	TYPE_TIME   = 4 // Stored as int64 Unix nanoseconds
)

const escapeByte = 0xFE

// ErrMalformedKey is returned when an encoded key cannot be decoded.
var ErrMalformedKey = errors.New("storage: malformed key")

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	U64  uint64
	Time time.Time
}

// NewNullValue creates a null value
func NewNullValue() Value {
	return Value{Type: TYPE_NULL}
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return NewBytesValue([]byte(s))
}

// NewOptionalString encodes nil as null and anything else as bytes.
func NewOptionalString(s *string) Value {
	if s == nil {
		return NewNullValue()
	}
	return NewStringValue(*s)
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Type == TYPE_NULL }

// EncodeValues encodes multiple values in order-preserving format.
// Each encoded value is self-delimiting, so the encoding of a value list is
// never a prefix of the encoding of a different list of the same arity.
func EncodeValues(vals ...Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = appendValue(out, v)
	}
	return out
}

func appendValue(out []byte, v Value) []byte {
	out = append(out, v.Type)

	switch v.Type {
	case TYPE_NULL:
		// tag only

	case TYPE_UINT64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v.U64)
		out = append(out, buf[:]...)

	case TYPE_TIME:
		// Flip sign bit so negative instants order first
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Time.UnixNano())+(1<<63))
		out = append(out, buf[:]...)

	case TYPE_BYTES:
		out = appendEscaped(out, v.Str)
		out = append(out, 0)

	default:
		panic(fmt.Sprintf("unknown type: %d", v.Type))
	}
	return out
}

// EncodePrefix encodes vals followed by the unterminated bytes of prefix, the
// form used for prefix scans over a bytes column.
func EncodePrefix(prefix []byte, vals ...Value) []byte {
	out := EncodeValues(vals...)
	out = append(out, TYPE_BYTES)
	return appendEscaped(out, prefix)
}

// appendEscaped escapes 0x00, 0xFE and 0xFF so that the terminator and the
// escape byte never appear raw inside a string.
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case 0x00, escapeByte, 0xFF:
			out = append(out, escapeByte, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_NULL:
			vals = append(vals, NewNullValue())

		case TYPE_UINT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("%w: incomplete uint64 at pos %d", ErrMalformedKey, pos)
			}
			vals = append(vals, NewUint64Value(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8

		case TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("%w: incomplete time at pos %d", ErrMalformedKey, pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, NewTimeValue(time.Unix(0, int64(u-(1<<63))).UTC()))
			pos += 8

		case TYPE_BYTES:
			str := make([]byte, 0, 16)
			terminated := false
			for pos < len(data) {
				b := data[pos]
				if b == escapeByte {
					if pos+1 >= len(data) {
						return nil, fmt.Errorf("%w: dangling escape at pos %d", ErrMalformedKey, pos)
					}
					str = append(str, data[pos+1])
					pos += 2
					continue
				}
				pos++
				if b == 0 {
					terminated = true
					break
				}
				str = append(str, b)
			}
			if !terminated {
				return nil, fmt.Errorf("%w: unterminated string", ErrMalformedKey)
			}
			vals = append(vals, NewBytesValue(str))

		default:
			return nil, fmt.Errorf("%w: unknown type %d at pos %d", ErrMalformedKey, typ, pos-1)
		}
	}

	return vals, nil
}

// Successor returns a key greater than every key that has key as a prefix.
// Only valid for keys built from null and bytes values, which never contain
// a raw 0xFF.
func Successor(key []byte) []byte {
	out := make([]byte, len(key), len(key)+1)
	copy(out, key)
	return append(out, 0xFF)
}
