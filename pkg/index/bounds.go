package index

import (
	"bytes"
	"fmt"
)

// Direction is the traversal order of a scan
type Direction int

const (
	// Asc enumerates keys from smallest to largest
	Asc Direction = iota
	// Desc enumerates keys from largest to smallest
	Desc
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case Asc:
		return "asc"
	case Desc:
		return "desc"
	default:
		return fmt.Sprintf("DIRECTION(%d)", int(d))
	}
}

// Reverse returns the opposite direction
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// Apply orients a comparison result so that negative means "comes first"
func (d Direction) Apply(cmp int) int {
	if d == Desc {
		return -cmp
	}
	return cmp
}

// ParseDirection parses "asc" or "desc"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "asc", "ASC", "":
		return Asc, nil
	case "desc", "DESC":
		return Desc, nil
	}
	return Asc, fmt.Errorf("%w: unknown direction %q", ErrInvalidRange, s)
}

// Bounds is a contiguous sub-range of an index. An empty Lower or Upper means
// that side is unbounded. Bounds are compared against the prefix of a key of
// the same length as the bound.
type Bounds struct {
	Lower          Key
	LowerInclusive bool
	Upper          Key
	UpperInclusive bool
}

// All returns bounds covering the whole index
func All() Bounds {
	return Bounds{LowerInclusive: true, UpperInclusive: true}
}

// Start returns the inclusive encoded start of the range, nil when unbounded
func (b Bounds) Start() []byte {
	if len(b.Lower) == 0 {
		return nil
	}
	enc := EncodeKey(b.Lower)
	if b.LowerInclusive {
		return enc
	}
	return PrefixSuccessor(enc)
}

// End returns the exclusive encoded end of the range, nil when unbounded
func (b Bounds) End() []byte {
	if len(b.Upper) == 0 {
		return nil
	}
	enc := EncodeKey(b.Upper)
	if b.UpperInclusive {
		return PrefixSuccessor(enc)
	}
	return enc
}

// Contains reports whether the key falls inside the bounds
func (b Bounds) Contains(k Key) bool {
	return ContainsEncoded(b.Start(), b.End(), EncodeKey(k))
}

// ContainsEncoded reports whether an encoded key lies in [start, end)
func ContainsEncoded(start, end, enc []byte) bool {
	if start != nil && bytes.Compare(enc, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(enc, end) >= 0 {
		return false
	}
	return true
}

// EqualityPrefix returns the leading values pinned to a single value by both
// bounds, i.e. the fields an Eq constrained.
func (b Bounds) EqualityPrefix() Key {
	var prefix Key
	for i := 0; i < len(b.Lower) && i < len(b.Upper); i++ {
		if CompareValues(b.Lower[i], b.Upper[i]) != 0 {
			break
		}
		if i == len(b.Lower)-1 && !b.LowerInclusive {
			break
		}
		if i == len(b.Upper)-1 && !b.UpperInclusive {
			break
		}
		prefix = append(prefix, b.Lower[i])
	}
	return prefix
}

// String renders the bounds for logs and debugging
func (b Bounds) String() string {
	return fmt.Sprintf("lower=%s inclusive=%t upper=%s inclusive=%t",
		b.Lower, b.LowerInclusive, b.Upper, b.UpperInclusive)
}

type opKind int

const (
	opEq opKind = iota
	opGt
	opGte
	opLt
	opLte
)

type rangeOp struct {
	field string
	kind  opKind
	value any
}

// RangeBuilder accumulates an index range expression. Each method returns a
// new builder; a builder is never modified after creation.
type RangeBuilder struct {
	ops []rangeOp
}

// Range starts an empty range expression covering the whole index
func Range() *RangeBuilder {
	return &RangeBuilder{}
}

func (r *RangeBuilder) with(field string, kind opKind, value any) *RangeBuilder {
	var ops []rangeOp
	if r != nil {
		ops = make([]rangeOp, len(r.ops), len(r.ops)+1)
		copy(ops, r.ops)
	}
	return &RangeBuilder{ops: append(ops, rangeOp{field: field, kind: kind, value: value})}
}

// Eq pins field to value
func (r *RangeBuilder) Eq(field string, value any) *RangeBuilder {
	return r.with(field, opEq, value)
}

// Gt restricts field to values greater than value
func (r *RangeBuilder) Gt(field string, value any) *RangeBuilder {
	return r.with(field, opGt, value)
}

// Gte restricts field to values greater than or equal to value
func (r *RangeBuilder) Gte(field string, value any) *RangeBuilder {
	return r.with(field, opGte, value)
}

// Lt restricts field to values less than value
func (r *RangeBuilder) Lt(field string, value any) *RangeBuilder {
	return r.with(field, opLt, value)
}

// Lte restricts field to values less than or equal to value
func (r *RangeBuilder) Lte(field string, value any) *RangeBuilder {
	return r.with(field, opLte, value)
}

// Build turns the expression into bounds over an index with the given field
// order. Equalities must cover a leading run of fields; after them at most one
// lower and one upper comparison may constrain the next field.
func (r *RangeBuilder) Build(fields []string) (Bounds, error) {
	b := All()
	if r == nil {
		return b, nil
	}

	pos := 0
	var rangeField string
	var hasLower, hasUpper bool
	for _, op := range r.ops {
		v, err := Normalize(op.value)
		if err != nil {
			return Bounds{}, fmt.Errorf("field %q: %w", op.field, err)
		}

		if op.kind == opEq {
			if rangeField != "" {
				return Bounds{}, fmt.Errorf("%w: eq(%q) after a range comparison", ErrInvalidRange, op.field)
			}
			if pos >= len(fields) || fields[pos] != op.field {
				return Bounds{}, fmt.Errorf("%w: eq(%q) does not follow index field order", ErrInvalidRange, op.field)
			}
			b.Lower = append(b.Lower, v)
			b.Upper = append(b.Upper, v)
			pos++
			continue
		}

		if rangeField == "" {
			if pos >= len(fields) || fields[pos] != op.field {
				return Bounds{}, fmt.Errorf("%w: comparison on %q does not follow index field order", ErrInvalidRange, op.field)
			}
			rangeField = op.field
		} else if op.field != rangeField {
			return Bounds{}, fmt.Errorf("%w: comparisons on both %q and %q", ErrInvalidRange, rangeField, op.field)
		}

		switch op.kind {
		case opGt, opGte:
			if hasLower {
				return Bounds{}, fmt.Errorf("%w: two lower bounds on %q", ErrInvalidRange, op.field)
			}
			hasLower = true
			b.Lower = append(b.Lower, v)
			b.LowerInclusive = op.kind == opGte
		case opLt, opLte:
			if hasUpper {
				return Bounds{}, fmt.Errorf("%w: two upper bounds on %q", ErrInvalidRange, op.field)
			}
			hasUpper = true
			b.Upper = append(b.Upper, v)
			b.UpperInclusive = op.kind == opLte
		}
	}
	return b, nil
}
