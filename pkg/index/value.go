// Package index models positions within an index: scalar values, keys made of
// those values, directions and the bounds restricting a range scan.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedValue is returned when a value cannot be part of an index key
	ErrUnsupportedValue = errors.New("unsupported index value")
	// ErrInvalidRange is returned when a range expression does not fit an index
	ErrInvalidRange = errors.New("invalid index range")
	// ErrCorruptKey is returned when an encoded key cannot be decoded
	ErrCorruptKey = errors.New("corrupt encoded key")
)

// Value is a single scalar inside an index key. After normalization it is one
// of nil, int64, float64, bool, string or []byte.
type Value = any

// typeRank orders values of different types: null < int64 < float64 < bool < string < bytes
type typeRank uint8

const (
	rankNull typeRank = iota + 1
	rankInt
	rankFloat
	rankBool
	rankString
	rankBytes
)

// Normalize converts a Go value into its canonical index representation
func Normalize(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64, float64, bool, string:
		return x, nil
	case []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return int64(x), nil
	case uint64:
		if x > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// MustNormalize is like Normalize but panics on unsupported values
func MustNormalize(v any) Value {
	n, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return n
}

func rankOf(v Value) typeRank {
	switch v.(type) {
	case nil:
		return rankNull
	case int64:
		return rankInt
	case float64:
		return rankFloat
	case bool:
		return rankBool
	case string:
		return rankString
	case []byte:
		return rankBytes
	default:
		return 0
	}
}

// CompareValues compares two normalized values.
// Returns: negative if a < b, 0 if equal, positive if a > b
func CompareValues(a, b Value) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case nil:
		return 0
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		// Compare through the encoding so NaN and -0 order the same way stores see them
		return bytes.Compare(appendFloat(nil, x), appendFloat(nil, b.(float64)))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	}
	return 0
}

// formatValue renders a value for debugging output
func formatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case []byte:
		return fmt.Sprintf("0x%x", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
