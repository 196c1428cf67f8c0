package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/store/memory"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

func testStreams(t *testing.T, r *Reader) map[string]Stream {
	t.Helper()
	a1, err := abc(t, r, index.Range().Eq("a", 1)).OrderBy("b", "c")
	require.NoError(t, err)
	a2, err := abc(t, r, index.Range().Eq("a", 2)).OrderBy("b", "c")
	require.NoError(t, err)
	interleaved, err := Merge(a1, a2)
	require.NoError(t, err)
	partitions, err := Merge(abc(t, r, index.Range().Eq("a", 2)), abc(t, r, index.Range().Eq("a", 0)))
	require.NoError(t, err)

	return map[string]Stream{
		"range":            abc(t, r, nil),
		"range desc":       abc(t, r, index.Range().Gte("a", 1)).Order(index.Desc),
		"filter":           abc(t, r, nil).FilterWith(fieldEquals("b", 1)),
		"merge":            partitions,
		"merge desc":       partitions.Order(index.Desc),
		"remapped merge":   interleaved,
		"filtered merge":   interleaved.FilterWith(fieldEquals("c", 2)),
		"empty":            abc(t, r, index.Range().Eq("a", 9)),
		"filter rejecting": abc(t, r, nil).FilterWith(fieldEquals("a", 9)),
	}
}

func TestPaginationMatchesCollect(t *testing.T) {
	r := newTriples(t, WithChunkSize(5))

	pageSizes := [][]int{{1}, {2}, {5}, {26}, {27}, {100}, {1, 3, 2, 7}}
	for name, s := range testStreams(t, r) {
		want := collectIDs(t, s)
		for _, sizes := range pageSizes {
			t.Run(fmt.Sprintf("%s/%v", name, sizes), func(t *testing.T) {
				require.Equal(t, want, paginateAll(t, s, 0, sizes...))
			})
		}
	}
}

func TestPaginationWithBudgetMatchesCollect(t *testing.T) {
	r := newTriples(t, WithChunkSize(4))

	for name, s := range testStreams(t, r) {
		want := collectIDs(t, s)
		for _, budget := range []int{1, 2, 3, 10} {
			t.Run(fmt.Sprintf("%s/budget=%d", name, budget), func(t *testing.T) {
				require.Equal(t, want, paginateAll(t, s, budget, 4, 1))
			})
		}
	}
}

func TestPageStatus(t *testing.T) {
	r := newTriples(t)
	ctx := context.Background()
	s := abc(t, r, index.Range().Eq("a", 0))

	res, err := s.Paginate(ctx, PaginateOptions{NumItems: 9})
	require.NoError(t, err)
	require.Len(t, res.Page, 9)
	require.Equal(t, PageStatusOK, res.PageStatus, "a full page does not look ahead")
	require.False(t, res.IsDone)
	require.Empty(t, res.SplitCursor)

	res, err = s.Paginate(ctx, PaginateOptions{NumItems: 9, Cursor: res.ContinueCursor})
	require.NoError(t, err)
	require.Empty(t, res.Page)
	require.NotNil(t, res.Page)
	require.True(t, res.IsDone)
	require.Equal(t, PageStatusExhausted, res.PageStatus)

	res, err = s.Paginate(ctx, PaginateOptions{NumItems: 10})
	require.NoError(t, err)
	require.Len(t, res.Page, 9)
	require.True(t, res.IsDone)

	// resuming a done stream stays done
	res, err = s.Paginate(ctx, PaginateOptions{NumItems: 10, Cursor: res.ContinueCursor})
	require.NoError(t, err)
	require.Empty(t, res.Page)
	require.True(t, res.IsDone)
}

func TestPaginateDefaultsAndInvalidSizes(t *testing.T) {
	r := newTriples(t, WithDefaultPageSize(4), WithDefaultMaximumRowsRead(3))
	ctx := context.Background()
	s := abc(t, r, nil)

	res, err := s.Paginate(ctx, PaginateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Page, 3)
	require.Equal(t, PageStatusSplitRequired, res.PageStatus)

	res, err = s.Paginate(ctx, PaginateOptions{MaximumRowsRead: 100})
	require.NoError(t, err)
	require.Len(t, res.Page, 4)
	require.Equal(t, PageStatusOK, res.PageStatus)

	_, err = s.Paginate(ctx, PaginateOptions{NumItems: -1})
	require.ErrorIs(t, err, ErrInvalidPageSize)
	_, err = s.Paginate(ctx, PaginateOptions{NumItems: 1, MaximumRowsRead: -5})
	require.ErrorIs(t, err, ErrInvalidPageSize)
}

// newCandidates holds six rows whose c values are 4, 1, 4, 2, 4, 3 in
// creation order.
func newCandidates(t *testing.T, opts ...Option) *Reader {
	t.Helper()
	n := 0
	s := memory.New(memory.WithLogger(log.NewNop()), memory.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("cand%d", n)
	}))
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, store.TableSchema{Name: "candidates"}))
	for _, c := range []int{4, 1, 4, 2, 4, 3} {
		_, err := s.Insert(ctx, "candidates", map[string]any{"c": c})
		require.NoError(t, err)
	}
	return newTestReader(s, opts...)
}

func TestSplitPage(t *testing.T) {
	r := newCandidates(t)
	ctx := context.Background()

	scan, err := r.Query("candidates").FullTableScan(ctx)
	require.NoError(t, err)
	s := scan.FilterWith(fieldEquals("c", 4))

	res, err := s.Paginate(ctx, PaginateOptions{NumItems: 10, MaximumRowsRead: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"cand1"}, ids(res.Page))
	require.Equal(t, PageStatusSplitRequired, res.PageStatus)
	require.False(t, res.IsDone)
	require.NotEmpty(t, res.SplitCursor)
	require.Equal(t, res.ContinueCursor, res.SplitCursor)

	// the split cursor sits on the second inspected row, which was rejected
	pos, err := decodeCursor(s.(*FilterStream).shape(), res.SplitCursor)
	require.NoError(t, err)
	require.Equal(t, "cand2", pos.key[len(pos.key)-1])

	rest, err := s.Paginate(ctx, PaginateOptions{NumItems: 10 - len(res.Page), Cursor: res.SplitCursor})
	require.NoError(t, err)
	require.Equal(t, []string{"cand3", "cand5"}, ids(rest.Page))
	require.True(t, rest.IsDone)

	unbounded, err := s.Paginate(ctx, PaginateOptions{NumItems: 10})
	require.NoError(t, err)
	require.Equal(t, ids(unbounded.Page), append(ids(res.Page), ids(rest.Page)...))
}

func TestSplitReconstructsUnboundedPage(t *testing.T) {
	var inspected atomic.Int64
	counting := func(ctx context.Context, doc *store.Document) (bool, error) {
		inspected.Add(1)
		c, _ := doc.Value("c")
		return c != int64(1), nil
	}

	r := newTriples(t, WithChunkSize(4))
	ctx := context.Background()
	s := abc(t, r, nil).FilterWith(counting)

	for _, k := range []int{1, 2, 3, 5, 8} {
		for _, n := range []int{1, 4, 7} {
			cursor := ""
			for {
				unbounded, err := s.Paginate(ctx, PaginateOptions{NumItems: n, Cursor: cursor})
				require.NoError(t, err)

				inspected.Store(0)
				first, err := s.Paginate(ctx, PaginateOptions{NumItems: n, Cursor: cursor, MaximumRowsRead: k})
				require.NoError(t, err)
				require.LessOrEqual(t, inspected.Load(), int64(k), "k=%d n=%d", k, n)

				got := ids(first.Page)
				if first.PageStatus == PageStatusSplitRequired {
					require.Less(t, len(first.Page), n)
					rest, err := s.Paginate(ctx, PaginateOptions{NumItems: n - len(first.Page), Cursor: first.SplitCursor})
					require.NoError(t, err)
					got = append(got, ids(rest.Page)...)
				}
				require.Equal(t, ids(unbounded.Page), got, "k=%d n=%d", k, n)

				if unbounded.IsDone {
					break
				}
				cursor = unbounded.ContinueCursor
			}
		}
	}
}

func TestPaginateRecordsTelemetry(t *testing.T) {
	rec := telemetry.NewForTesting()
	r := newCandidates(t, WithTelemetry(rec), WithChunkSize(2))
	ctx := context.Background()

	scan, err := r.Query("candidates").FullTableScan(ctx)
	require.NoError(t, err)
	s := scan.FilterWith(fieldEquals("c", 4))

	res, err := s.Paginate(ctx, PaginateOptions{NumItems: 10, MaximumRowsRead: 2})
	require.NoError(t, err)
	_, err = s.Paginate(ctx, PaginateOptions{NumItems: 10, Cursor: res.ContinueCursor})
	require.NoError(t, err)

	require.Equal(t, int64(2), rec.Counter("ordstream.stream.pages.total"))
	require.Equal(t, int64(1), rec.Counter("ordstream.stream.split.total"))
	require.Equal(t, int64(6), rec.Counter("ordstream.stream.rows_read.total"))
	require.Equal(t, int64(3), rec.Counter("ordstream.stream.rows_returned.total"))
	require.Len(t, rec.Samples("ordstream.stream.page.duration"), 2)
	require.NotEmpty(t, rec.Samples("ordstream.stream.fetch.duration"))
	require.Equal(t, []string{"ordstream.stream.paginate", "ordstream.stream.paginate"}, rec.Spans())

	_, err = s.Paginate(ctx, PaginateOptions{NumItems: 1, Cursor: "not a cursor"})
	require.ErrorIs(t, err, ErrInvalidCursor)
	require.Equal(t, int64(1), rec.Counter("ordstream.cursor.invalid.total"))
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	for _, m := range []StreamMetrics{NewNoopStreamMetrics(), NewStreamMetrics(nil)} {
		m.RecordPage(ctx, 0, PageStatusOK, 1, 1)
		m.RecordPageError(ctx, 0, ErrInvalidCursor)
		m.RecordFetch(ctx, 0, 3, nil)
		m.RecordMerge(ctx, 2)
		m.RecordInvalidCursor(ctx, "decode")
		require.NoError(t, m.Close())
	}
}

func TestPageStatusString(t *testing.T) {
	require.Equal(t, "ok", PageStatusOK.String())
	require.Equal(t, "exhausted", PageStatusExhausted.String())
	require.Equal(t, "split_required", PageStatusSplitRequired.String())
	require.Equal(t, "PAGE_STATUS(9)", PageStatus(9).String())
}
