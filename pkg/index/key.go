package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Key is an ordered tuple of values giving a record's position within an index.
// Index keys always end with the disambiguating system fields, so two records
// never share a full key.
type Key []Value

// Compare compares two keys lexicographically.
// When one key is a prefix of the other, the shorter key is less: an unset
// trailing field sorts before any defined value.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports whether two keys hold the same values
func Equal(a, b Key) bool {
	return len(a) == len(b) && Compare(a, b) == 0
}

// HasPrefix reports whether prefix is a leading part of k
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return Compare(k[:len(prefix)], prefix) == 0
}

// Clone returns a copy of the key that shares no backing array
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// String renders the key for logs and debugging
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = formatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Type tags of the order-preserving encoding. Their numeric order is the
// cross-type order of CompareValues.
const (
	tagNull   byte = 0x10
	tagInt    byte = 0x20
	tagFloat  byte = 0x30
	tagBool   byte = 0x40
	tagString byte = 0x50
	tagBytes  byte = 0x60

	escapeByte  byte = 0x00
	escapedZero byte = 0xFF
	terminator  byte = 0x01
)

// EncodeKey encodes a key so that bytes.Compare on encodings agrees with
// Compare on keys. The encoding of a prefix is a byte prefix of the encoding
// of any key extending it.
func EncodeKey(k Key) []byte {
	buf := make([]byte, 0, 16*len(k))
	for _, v := range k {
		buf = appendValue(buf, v)
	}
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNull)
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(x)^(1<<63))
	case float64:
		return appendFloat(append(buf, tagFloat), x)
	case bool:
		buf = append(buf, tagBool)
		if x {
			return append(buf, 1)
		}
		return append(buf, 0)
	case string:
		return appendEscaped(append(buf, tagString), []byte(x))
	case []byte:
		return appendEscaped(append(buf, tagBytes), x)
	default:
		// Keys are built from normalized values only
		panic(fmt.Sprintf("index: cannot encode %T", v))
	}
}

func appendFloat(buf []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(buf, bits)
}

func appendEscaped(buf, data []byte) []byte {
	for _, b := range data {
		if b == escapeByte {
			buf = append(buf, escapeByte, escapedZero)
			continue
		}
		buf = append(buf, b)
	}
	return append(buf, escapeByte, terminator)
}

// DecodeKey reverses EncodeKey
func DecodeKey(data []byte) (Key, error) {
	key := Key{}
	for len(data) > 0 {
		tag := data[0]
		data = data[1:]
		switch tag {
		case tagNull:
			key = append(key, nil)
		case tagInt:
			if len(data) < 8 {
				return nil, fmt.Errorf("%w: short int64", ErrCorruptKey)
			}
			key = append(key, int64(binary.BigEndian.Uint64(data)^(1<<63)))
			data = data[8:]
		case tagFloat:
			if len(data) < 8 {
				return nil, fmt.Errorf("%w: short float64", ErrCorruptKey)
			}
			bits := binary.BigEndian.Uint64(data)
			if bits&(1<<63) != 0 {
				bits &^= 1 << 63
			} else {
				bits = ^bits
			}
			key = append(key, math.Float64frombits(bits))
			data = data[8:]
		case tagBool:
			if len(data) < 1 || data[0] > 1 {
				return nil, fmt.Errorf("%w: bad bool", ErrCorruptKey)
			}
			key = append(key, data[0] == 1)
			data = data[1:]
		case tagString, tagBytes:
			raw, rest, err := readEscaped(data)
			if err != nil {
				return nil, err
			}
			if tag == tagString {
				key = append(key, string(raw))
			} else {
				key = append(key, raw)
			}
			data = rest
		default:
			return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrCorruptKey, tag)
		}
	}
	return key, nil
}

func readEscaped(data []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != escapeByte {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			return nil, nil, fmt.Errorf("%w: unterminated string", ErrCorruptKey)
		}
		switch data[i+1] {
		case terminator:
			return out, data[i+2:], nil
		case escapedZero:
			out = append(out, 0)
			i++
		default:
			return nil, nil, fmt.Errorf("%w: bad escape", ErrCorruptKey)
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated string", ErrCorruptKey)
}

// PrefixSuccessor returns the smallest byte string greater than every string
// starting with prefix, or nil when no such string exists.
func PrefixSuccessor(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
