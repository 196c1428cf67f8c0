package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
)

// RangeStream enumerates the documents of one index range of one table
type RangeStream struct {
	base

	r      *Reader
	table  string
	index  string
	bounds index.Bounds
	fields []string
	dir    index.Direction
}

func newRangeStream(r *Reader, table, indexName string, bounds index.Bounds, fields []string, dir index.Direction) *RangeStream {
	s := &RangeStream{
		r:      r,
		table:  table,
		index:  indexName,
		bounds: bounds,
		fields: fields,
		dir:    dir,
	}
	s.base = base{self: s}
	return s
}

// Reflect returns the stream's descriptor
func (s *RangeStream) Reflect() Reflection {
	return Reflection{
		Table:       s.table,
		Index:       s.index,
		Bounds:      s.bounds,
		IndexFields: append([]string(nil), s.fields...),
		Order:       s.dir,
	}
}

// IndexFields returns the index's comparison fields
func (s *RangeStream) IndexFields() []string {
	return append([]string(nil), s.fields...)
}

// Direction returns the traversal order
func (s *RangeStream) Direction() index.Direction {
	return s.dir
}

// Order returns the same range traversed in dir
func (s *RangeStream) Order(dir index.Direction) Stream {
	return newRangeStream(s.r, s.table, s.index, s.bounds, s.fields, dir)
}

func (s *RangeStream) iterate(ctx context.Context, from position, limit int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if from.exhausted {
			return
		}
		if from.inputs != nil {
			yield(Entry{}, fmt.Errorf("%w: merge position used on a range scan", ErrInvalidCursor))
			return
		}

		var after []byte
		if from.key != nil {
			after = index.EncodeKey(from.key)
		}
		req := store.ScanRequest{
			Table:     s.table,
			Index:     s.index,
			Bounds:    s.bounds,
			Direction: s.dir,
		}

		fetched := 0
		for {
			n := s.r.chunkSize
			if limit > 0 && limit-fetched < n {
				n = limit - fetched
			}
			if n <= 0 {
				return
			}

			start := time.Now()
			page, err := s.r.store.Scan(ctx, req, after, n)
			s.r.metrics.RecordFetch(ctx, time.Since(start), pageRows(page), err)
			if err != nil {
				yield(Entry{}, err)
				return
			}

			for _, row := range page.Rows {
				if !yield(Entry{Doc: row.Doc, Key: row.Key, pos: position{key: row.Key}}, nil) {
					return
				}
			}
			fetched += len(page.Rows)
			if page.Done || len(page.Rows) == 0 {
				return
			}
			after = page.Cursor
		}
	}
}

func pageRows(page *store.ScanPage) int {
	if page == nil {
		return 0
	}
	return len(page.Rows)
}

func (s *RangeStream) equalityPrefix() index.Key {
	return s.bounds.EqualityPrefix()
}

func (s *RangeStream) shape() string {
	return fmt.Sprintf("range(%s|%s|%s|%s|%s)",
		s.table, s.index, strings.Join(s.fields, ","), s.dir, s.bounds)
}

func (s *RangeStream) reader() *Reader {
	return s.r
}
