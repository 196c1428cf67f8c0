package stream

import (
	"context"
	"iter"

	"github.com/KevoDB/ordstream/pkg/index"
)

// FilterStream yields the documents of its source accepted by a predicate.
// Rejected rows still travel through the traversal so that read budgets and
// cursors account for them.
type FilterStream struct {
	base

	src  Stream
	pred Predicate
}

func newFilterStream(src Stream, pred Predicate) *FilterStream {
	s := &FilterStream{src: src, pred: pred}
	s.base = base{self: s}
	return s
}

// Reflect returns the source's descriptor
func (s *FilterStream) Reflect() Reflection {
	return s.src.Reflect()
}

// IndexFields returns the source's comparison fields
func (s *FilterStream) IndexFields() []string {
	return s.src.IndexFields()
}

// Direction returns the source's traversal order
func (s *FilterStream) Direction() index.Direction {
	return s.src.Direction()
}

// Order returns the filter applied to the source traversed in dir
func (s *FilterStream) Order(dir index.Direction) Stream {
	return newFilterStream(s.src.Order(dir), s.pred)
}

func (s *FilterStream) iterate(ctx context.Context, from position, limit int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range s.src.iterate(ctx, from, limit) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if e.Doc != nil {
				ok, err := s.pred(ctx, e.Doc)
				if err != nil {
					yield(Entry{}, err)
					return
				}
				if !ok {
					e.Doc = nil
				}
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *FilterStream) equalityPrefix() index.Key {
	return s.src.equalityPrefix()
}

func (s *FilterStream) shape() string {
	return "filter(" + s.src.shape() + ")"
}

func (s *FilterStream) reader() *Reader {
	return s.src.reader()
}
