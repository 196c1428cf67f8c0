package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/store/memory"
)

// tripleID is the id of the document (a, b, c) in the triples fixture
func tripleID(a, b, c int) string {
	return fmt.Sprintf("t%03d", a*9+b*3+c+1)
}

// newTriplesStore holds every (a, b, c) with a, b, c in {0, 1, 2}, inserted in
// (a, b, c) order, with index by_abc on [a, b, c].
func newTriplesStore(t *testing.T) store.Store {
	t.Helper()
	n := 0
	s := memory.New(memory.WithLogger(log.NewNop()), memory.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("t%03d", n)
	}))
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, store.TableSchema{
		Name:    "triples",
		Indexes: []store.IndexSchema{{Name: "by_abc", Fields: []string{"a", "b", "c"}}},
	}))
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			for c := 0; c < 3; c++ {
				_, err := s.Insert(ctx, "triples", map[string]any{"a": a, "b": b, "c": c})
				require.NoError(t, err)
			}
		}
	}
	return s
}

func newTestReader(st store.Reader, opts ...Option) *Reader {
	return NewReader(st, append([]Option{WithLogger(log.NewNop())}, opts...)...)
}

func newTriples(t *testing.T, opts ...Option) *Reader {
	return newTestReader(newTriplesStore(t), opts...)
}

func abc(t *testing.T, r *Reader, rng *index.RangeBuilder) *RangeStream {
	t.Helper()
	s, err := r.Query("triples").WithIndex(context.Background(), "by_abc", rng)
	require.NoError(t, err)
	return s
}

func ids(docs []*store.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func collectIDs(t *testing.T, s Stream) []string {
	t.Helper()
	docs, err := s.Collect(context.Background())
	require.NoError(t, err)
	return ids(docs)
}

// paginateAll follows ContinueCursor until the stream is done, cycling
// through sizes for successive pages.
func paginateAll(t *testing.T, s Stream, maxRowsRead int, sizes ...int) []string {
	t.Helper()
	var out []string
	cursor := ""
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "pagination did not terminate")
		res, err := s.Paginate(context.Background(), PaginateOptions{
			NumItems:        sizes[i%len(sizes)],
			Cursor:          cursor,
			MaximumRowsRead: maxRowsRead,
		})
		require.NoError(t, err)
		out = append(out, ids(res.Page)...)
		if res.IsDone {
			require.Equal(t, PageStatusExhausted, res.PageStatus)
			return out
		}
		cursor = res.ContinueCursor
	}
}

func fieldEquals(field string, want any) Predicate {
	v := index.MustNormalize(want)
	return func(ctx context.Context, doc *store.Document) (bool, error) {
		got, _ := doc.Value(field)
		return index.CompareValues(got, v) == 0, nil
	}
}
