package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/KevoDB/ordstream/pkg/index"
)

// MergeStream k-way merges streams that share a comparison key into one
// ordered stream. Ties go to the input declared first and overlapping inputs
// are not deduplicated.
type MergeStream struct {
	base

	inputs []Stream
	fields []string
	dir    index.Direction
}

// Merge combines inputs into one stream. Every input must have the same
// comparison fields and direction; use OrderBy to align inputs scanned over
// different indexes.
func Merge(inputs ...Stream) (*MergeStream, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: merge needs at least one input", ErrIncompatibleOrder)
	}

	fields := inputs[0].IndexFields()
	dir := inputs[0].Direction()
	for i, in := range inputs[1:] {
		if !index.FieldsEqual(in.IndexFields(), fields) {
			return nil, fmt.Errorf("%w: input %d orders by [%s], input 0 by [%s]", ErrIncompatibleOrder,
				i+1, strings.Join(in.IndexFields(), ", "), strings.Join(fields, ", "))
		}
		if in.Direction() != dir {
			return nil, fmt.Errorf("%w: input %d is %s, input 0 is %s", ErrIncompatibleOrder, i+1, in.Direction(), dir)
		}
	}

	return newMergeStream(append([]Stream(nil), inputs...), fields, dir), nil
}

func newMergeStream(inputs []Stream, fields []string, dir index.Direction) *MergeStream {
	s := &MergeStream{inputs: inputs, fields: fields, dir: dir}
	s.base = base{self: s}
	return s
}

// Reflect describes the merge and each of its inputs
func (s *MergeStream) Reflect() Reflection {
	r := Reflection{
		IndexFields: s.IndexFields(),
		Order:       s.dir,
		Inputs:      make([]Reflection, len(s.inputs)),
	}
	for i, in := range s.inputs {
		r.Inputs[i] = in.Reflect()
	}
	return r
}

// IndexFields returns the shared comparison fields
func (s *MergeStream) IndexFields() []string {
	return append([]string(nil), s.fields...)
}

// Direction returns the shared traversal order
func (s *MergeStream) Direction() index.Direction {
	return s.dir
}

// Order returns the merge of every input traversed in dir
func (s *MergeStream) Order(dir index.Direction) Stream {
	inputs := make([]Stream, len(s.inputs))
	for i, in := range s.inputs {
		inputs[i] = in.Order(dir)
	}
	return newMergeStream(inputs, s.fields, dir)
}

func (s *MergeStream) iterate(ctx context.Context, from position, limit int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if from.exhausted {
			return
		}
		n := len(s.inputs)
		if from.inputs != nil && len(from.inputs) != n {
			yield(Entry{}, fmt.Errorf("%w: merge of %d inputs resumed from %d positions", ErrInvalidCursor, n, len(from.inputs)))
			return
		}

		s.reader().metrics.RecordMerge(ctx, n)

		positions := make([]position, n)
		copy(positions, from.inputs)

		nexts := make([]func() (Entry, error, bool), n)
		for i, in := range s.inputs {
			next, stop := iter.Pull2(in.iterate(ctx, positions[i], limit))
			defer stop()
			nexts[i] = next
		}

		heads := make([]Entry, n)
		live := make([]bool, n)
		fill := func(i int) error {
			e, err, ok := nexts[i]()
			if err != nil {
				return err
			}
			if !ok {
				live[i] = false
				positions[i].exhausted = true
				return nil
			}
			heads[i] = e
			live[i] = true
			return nil
		}

		for i := range s.inputs {
			if err := fill(i); err != nil {
				yield(Entry{}, err)
				return
			}
		}

		for {
			best := -1
			for i := 0; i < n; i++ {
				if !live[i] {
					continue
				}
				// strict comparison keeps ties on the earlier input
				if best < 0 || s.dir.Apply(index.Compare(heads[i].Key, heads[best].Key)) < 0 {
					best = i
				}
			}
			if best < 0 {
				return
			}

			head := heads[best]
			positions[best] = head.pos
			out := Entry{Doc: head.Doc, Key: head.Key, pos: position{inputs: clonePositions(positions)}}
			if !yield(out, nil) {
				return
			}
			if err := fill(best); err != nil {
				yield(Entry{}, err)
				return
			}
		}
	}
}

// equalityPrefix is the prefix every input pins to the same values
func (s *MergeStream) equalityPrefix() index.Key {
	prefix := s.inputs[0].equalityPrefix()
	for _, in := range s.inputs[1:] {
		other := in.equalityPrefix()
		n := 0
		for n < len(prefix) && n < len(other) && index.CompareValues(prefix[n], other[n]) == 0 {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}

func (s *MergeStream) shape() string {
	parts := make([]string, len(s.inputs))
	for i, in := range s.inputs {
		parts[i] = in.shape()
	}
	return "merge(" + strings.Join(parts, ",") + ")"
}

func (s *MergeStream) reader() *Reader {
	return s.inputs[0].reader()
}
