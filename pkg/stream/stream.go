// Package stream turns index range scans over a table store into immutable,
// lazily iterated, strictly ordered streams. Streams can be filtered, have
// their comparison key remapped, be k-way merged and be paginated with opaque
// cursors that record a position by value.
package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
)

// Predicate decides whether a document passes a filter
type Predicate func(ctx context.Context, doc *store.Document) (bool, error)

// Entry is one element of a stream: a document and its comparison key.
// Internally a nil Doc marks a row a filter inspected and rejected.
type Entry struct {
	Doc *store.Document
	Key index.Key

	pos position
}

// position is where a traversal stands after consuming an entry. A range
// stream records the physical key of its last row; a merge records one
// position per input.
type position struct {
	key       index.Key
	exhausted bool
	inputs    []position
}

func clonePositions(ps []position) []position {
	out := make([]position, len(ps))
	copy(out, ps)
	return out
}

// Reflection describes a stream's descriptor. For a merge, Inputs holds the
// reflection of every input in declaration order.
type Reflection struct {
	Table       string
	Index       string
	Bounds      index.Bounds
	IndexFields []string
	Order       index.Direction
	Inputs      []Reflection
}

// Stream is the capability set shared by range, filtered, remapped and merged
// streams. Streams are immutable: every method returning a Stream returns a
// new one, and every traversal owns its own iteration state.
type Stream interface {
	// Reflect returns the stream's descriptor
	Reflect() Reflection
	// IndexFields returns the comparison fields, disambiguators included
	IndexFields() []string
	// Direction returns the traversal order
	Direction() index.Direction

	// IterWithKeys lazily yields documents and their comparison keys
	IterWithKeys(ctx context.Context) iter.Seq2[Entry, error]
	// Order returns the same stream traversed in dir
	Order(dir index.Direction) Stream
	// FilterWith returns a stream yielding only documents accepted by pred
	FilterWith(pred Predicate) Stream
	// OrderBy reinterprets the comparison key as fields
	OrderBy(fields ...string) (Stream, error)

	Collect(ctx context.Context) ([]*store.Document, error)
	Take(ctx context.Context, n int) ([]*store.Document, error)
	First(ctx context.Context) (*store.Document, error)
	Unique(ctx context.Context) (*store.Document, error)
	Paginate(ctx context.Context, opts PaginateOptions) (*PageResult, error)

	// iterate yields every inspected entry strictly after from. A positive
	// limit caps the rows fetched from the store.
	iterate(ctx context.Context, from position, limit int) iter.Seq2[Entry, error]
	// equalityPrefix returns the leading comparison values pinned by equality
	equalityPrefix() index.Key
	// shape identifies the descriptor for cursor validation
	shape() string
	reader() *Reader
}

// base implements the methods every stream derives from iterate
type base struct {
	self Stream
}

func (b base) IterWithKeys(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range b.self.iterate(ctx, position{}, 0) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if e.Doc == nil {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (b base) FilterWith(pred Predicate) Stream {
	return newFilterStream(b.self, pred)
}

func (b base) OrderBy(fields ...string) (Stream, error) {
	return newOrderByStream(b.self, fields)
}

// Collect returns every document of the stream in order
func (b base) Collect(ctx context.Context) ([]*store.Document, error) {
	var docs []*store.Document
	for e, err := range b.IterWithKeys(ctx) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, e.Doc)
	}
	return docs, nil
}

// Take returns at most n documents
func (b base) Take(ctx context.Context, n int) ([]*store.Document, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: take(%d)", ErrInvalidPageSize, n)
	}
	docs := make([]*store.Document, 0, min(n, b.self.reader().defaultPageSize))
	if n == 0 {
		return docs, nil
	}
	for e, err := range b.IterWithKeys(ctx) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, e.Doc)
		if len(docs) == n {
			break
		}
	}
	return docs, nil
}

// First returns the first document, or nil when the stream is empty
func (b base) First(ctx context.Context) (*store.Document, error) {
	docs, err := b.Take(ctx, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Unique returns the only document of the stream, nil when empty, and
// ErrNotUnique when there is more than one.
func (b base) Unique(ctx context.Context) (*store.Document, error) {
	var found *store.Document
	for e, err := range b.IterWithKeys(ctx) {
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrNotUnique, found.ID, e.Doc.ID)
		}
		found = e.Doc
	}
	return found, nil
}
