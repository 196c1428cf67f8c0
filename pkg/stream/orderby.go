package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/KevoDB/ordstream/pkg/index"
)

// OrderByStream compares its source's entries by a suffix of the source's
// comparison fields. Documents and their order are those of the source.
type OrderByStream struct {
	base

	src    Stream
	fields []string
	drop   int
}

// newOrderByStream accepts fields that, with any missing disambiguators
// appended, are the source's comparison fields minus a leading run the
// source's bounds pin by equality. Dropping a pinned prefix keeps the physical
// scan order monotonic in the remaining fields.
func newOrderByStream(src Stream, fields []string) (*OrderByStream, error) {
	want := index.WithDisambiguators(fields)
	have := src.IndexFields()

	drop := len(have) - len(want)
	if drop < 0 || !index.FieldsEqual(have[drop:], want) {
		return nil, fmt.Errorf("%w: [%s] is not a suffix of [%s]",
			ErrInvalidOrderBy, strings.Join(want, ", "), strings.Join(have, ", "))
	}
	if pinned := len(src.equalityPrefix()); pinned < drop {
		return nil, fmt.Errorf("%w: dropping [%s] requires equality on each, only %d pinned",
			ErrInvalidOrderBy, strings.Join(have[:drop], ", "), pinned)
	}

	s := &OrderByStream{src: src, fields: want, drop: drop}
	s.base = base{self: s}
	return s, nil
}

// Reflect returns the source's descriptor with the remapped comparison fields
func (s *OrderByStream) Reflect() Reflection {
	r := s.src.Reflect()
	r.IndexFields = s.IndexFields()
	return r
}

// IndexFields returns the remapped comparison fields
func (s *OrderByStream) IndexFields() []string {
	return append([]string(nil), s.fields...)
}

// Direction returns the source's traversal order
func (s *OrderByStream) Direction() index.Direction {
	return s.src.Direction()
}

// Order returns the remapping applied to the source traversed in dir
func (s *OrderByStream) Order(dir index.Direction) Stream {
	o := &OrderByStream{src: s.src.Order(dir), fields: s.fields, drop: s.drop}
	o.base = base{self: o}
	return o
}

func (s *OrderByStream) iterate(ctx context.Context, from position, limit int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range s.src.iterate(ctx, from, limit) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			e.Key = e.Key[s.drop:]
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *OrderByStream) equalityPrefix() index.Key {
	prefix := s.src.equalityPrefix()
	if len(prefix) <= s.drop {
		return nil
	}
	return prefix[s.drop:]
}

func (s *OrderByStream) shape() string {
	return "orderBy(" + strings.Join(s.fields, ",") + ")(" + s.src.shape() + ")"
}

func (s *OrderByStream) reader() *Reader {
	return s.src.reader()
}
