package stream

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KevoDB/ordstream/pkg/index"
)

// Cursor wire format. A cursor is base64url(flag || body) where body is, raw
// or s2-compressed depending on flag, an envelope message:
//
//	1: fixed64 xxhash of the stream shape
//	2: bytes   position
//
// and a position message is:
//
//	1: bytes   encoded index key (absent before the first row)
//	2: varint  exhausted
//	3: bytes   nested position, repeated once per merge input
const (
	envelopeShapeField protowire.Number = 1
	envelopePosField   protowire.Number = 2

	posKeyField       protowire.Number = 1
	posExhaustedField protowire.Number = 2
	posInputField     protowire.Number = 3

	cursorRaw byte = 0x00
	cursorS2  byte = 0x01

	maxCursorDepth = 32
)

func fingerprint(shape string) uint64 {
	return xxhash.Sum64String(shape)
}

// encodeCursor serializes a position taken on a stream of the given shape.
// Bodies longer than threshold are compressed; threshold <= 0 never compresses.
func encodeCursor(shape string, pos position, threshold int) string {
	var body []byte
	body = protowire.AppendTag(body, envelopeShapeField, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, fingerprint(shape))
	body = protowire.AppendTag(body, envelopePosField, protowire.BytesType)
	body = protowire.AppendBytes(body, appendPosition(nil, pos))

	var out []byte
	if threshold > 0 && len(body) > threshold {
		out = append([]byte{cursorS2}, s2.Encode(nil, body)...)
	} else {
		out = append([]byte{cursorRaw}, body...)
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

func appendPosition(b []byte, p position) []byte {
	if p.key != nil {
		b = protowire.AppendTag(b, posKeyField, protowire.BytesType)
		b = protowire.AppendBytes(b, index.EncodeKey(p.key))
	}
	if p.exhausted {
		b = protowire.AppendTag(b, posExhaustedField, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, in := range p.inputs {
		b = protowire.AppendTag(b, posInputField, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPosition(nil, in))
	}
	return b
}

// decodeCursor reverses encodeCursor, rejecting cursors taken on a stream
// of another shape. The empty cursor is the start of the stream.
func decodeCursor(shape, cursor string) (position, error) {
	if cursor == "" {
		return position{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(raw) == 0 {
		return position{}, fmt.Errorf("%w: empty body", ErrInvalidCursor)
	}

	body := raw[1:]
	switch raw[0] {
	case cursorRaw:
	case cursorS2:
		body, err = s2.Decode(nil, body)
		if err != nil {
			return position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	default:
		return position{}, fmt.Errorf("%w: unknown format 0x%02x", ErrInvalidCursor, raw[0])
	}

	var (
		sum    uint64
		hasSum bool
		pos    position
	)
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return position{}, wireError(n)
		}
		body = body[n:]

		switch {
		case num == envelopeShapeField && typ == protowire.Fixed64Type:
			sum, n = protowire.ConsumeFixed64(body)
			hasSum = true
		case num == envelopePosField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(body)
			if n >= 0 {
				if pos, err = consumePosition(v, 0); err != nil {
					return position{}, err
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, body)
		}
		if n < 0 {
			return position{}, wireError(n)
		}
		body = body[n:]
	}

	if !hasSum {
		return position{}, fmt.Errorf("%w: missing shape", ErrInvalidCursor)
	}
	if sum != fingerprint(shape) {
		return position{}, fmt.Errorf("%w: cursor was taken on a different stream", ErrInvalidCursor)
	}
	return pos, nil
}

func consumePosition(b []byte, depth int) (position, error) {
	if depth > maxCursorDepth {
		return position{}, fmt.Errorf("%w: nested too deeply", ErrInvalidCursor)
	}

	var p position
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return position{}, wireError(n)
		}
		b = b[n:]

		switch {
		case num == posKeyField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				key, err := index.DecodeKey(v)
				if err != nil {
					return position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
				}
				p.key = key
			}
		case num == posExhaustedField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			p.exhausted = v != 0
		case num == posInputField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				in, err := consumePosition(v, depth+1)
				if err != nil {
					return position{}, err
				}
				p.inputs = append(p.inputs, in)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return position{}, wireError(n)
		}
		b = b[n:]
	}
	return p, nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %w", ErrInvalidCursor, protowire.ParseError(n))
}

// IsInvalidCursor reports whether err was caused by a malformed or mismatched cursor
func IsInvalidCursor(err error) bool {
	return errors.Is(err, ErrInvalidCursor)
}
