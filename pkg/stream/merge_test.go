package stream

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/store/instrumented"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

func TestMergeDescendingPartitions(t *testing.T) {
	r := newTriples(t)
	a2 := abc(t, r, index.Range().Eq("a", 2)).Order(index.Desc)
	a1 := abc(t, r, index.Range().Eq("a", 1)).Order(index.Desc)

	merged, err := Merge(a2, a1)
	require.NoError(t, err)

	var want []string
	for _, a := range []int{2, 1} {
		for b := 2; b >= 0; b-- {
			for c := 2; c >= 0; c-- {
				want = append(want, tripleID(a, b, c))
			}
		}
	}
	require.Equal(t, want, collectIDs(t, merged))
}

func TestMergeDisjointMatchesSortMerge(t *testing.T) {
	r := newTriples(t)
	a0 := abc(t, r, index.Range().Eq("a", 0))
	a2 := abc(t, r, index.Range().Eq("a", 2))

	merged, err := Merge(a2, a0)
	require.NoError(t, err)
	want := append(collectIDs(t, a0), collectIDs(t, a2)...)
	require.Equal(t, want, collectIDs(t, merged))

	desc := merged.Order(index.Desc)
	got := collectIDs(t, desc)
	require.Len(t, got, 18)
	require.Equal(t, tripleID(2, 2, 2), got[0])
	require.Equal(t, tripleID(0, 0, 0), got[17])
}

func TestMergeRemappedInterleaves(t *testing.T) {
	r := newTriples(t)
	a1, err := abc(t, r, index.Range().Eq("a", 1)).OrderBy("b", "c")
	require.NoError(t, err)
	a2, err := abc(t, r, index.Range().Eq("a", 2)).OrderBy("b", "c")
	require.NoError(t, err)

	merged, err := Merge(a2, a1)
	require.NoError(t, err)

	// equal (b, c) fall back to creation time, which puts a=1 first
	var want []string
	for b := 0; b < 3; b++ {
		for c := 0; c < 3; c++ {
			want = append(want, tripleID(1, b, c), tripleID(2, b, c))
		}
	}
	require.Equal(t, want, collectIDs(t, merged))

	var prev index.Key
	for e, err := range merged.IterWithKeys(context.Background()) {
		require.NoError(t, err)
		require.Len(t, e.Key, 4, "keys compare on b, c and the disambiguators")
		if prev != nil {
			require.Negative(t, index.Compare(prev, e.Key))
		}
		prev = e.Key
	}
}

func TestMergeKeepsDuplicatesAndBreaksTiesByInput(t *testing.T) {
	r := newTriples(t)
	x := abc(t, r, index.Range().Eq("a", 1).Eq("b", 0))
	y := abc(t, r, index.Range().Eq("a", 1).Eq("b", 0)).FilterWith(fieldEquals("c", 1))

	merged, err := Merge(x, y)
	require.NoError(t, err)
	require.Equal(t, []string{tripleID(1, 0, 0), tripleID(1, 0, 1), tripleID(1, 0, 1), tripleID(1, 0, 2)},
		collectIDs(t, merged))

	ctx := context.Background()
	var fromY []bool
	for e, err := range merged.iterate(ctx, position{}, 0) {
		require.NoError(t, err)
		if e.Doc != nil && e.Doc.ID == tripleID(1, 0, 1) {
			fromY = append(fromY, index.Equal(e.pos.inputs[1].key, e.Key))
		}
	}
	require.Equal(t, []bool{false, true}, fromY, "the copy from x comes first")
}

func TestMergeSingleInput(t *testing.T) {
	r := newTriples(t)
	s := abc(t, r, index.Range().Eq("a", 0).Eq("b", 2))

	merged, err := Merge(s)
	require.NoError(t, err)
	require.Equal(t, collectIDs(t, s), collectIDs(t, merged))
}

func TestMergeNested(t *testing.T) {
	r := newTriples(t)
	a0 := abc(t, r, index.Range().Eq("a", 0))
	a1 := abc(t, r, index.Range().Eq("a", 1))
	a2 := abc(t, r, index.Range().Eq("a", 2))

	inner, err := Merge(a2, a0)
	require.NoError(t, err)
	outer, err := Merge(inner, a1)
	require.NoError(t, err)

	require.Equal(t, collectIDs(t, abc(t, r, nil)), collectIDs(t, outer))
	require.Equal(t, collectIDs(t, abc(t, r, nil)), paginateAll(t, outer, 0, 4, 1, 7))

	refl := outer.Reflect()
	require.Len(t, refl.Inputs, 2)
	require.Len(t, refl.Inputs[0].Inputs, 2)
	require.Equal(t, "by_abc", refl.Inputs[1].Index)
}

func TestMergeRejectsIncompatibleInputs(t *testing.T) {
	r := newTriples(t)
	ctx := context.Background()
	a1 := abc(t, r, index.Range().Eq("a", 1))

	_, err := Merge()
	require.ErrorIs(t, err, ErrIncompatibleOrder)

	_, err = Merge(a1, a1.Order(index.Desc))
	require.ErrorIs(t, err, ErrIncompatibleOrder)

	byTime, err := r.Query("triples").FullTableScan(ctx)
	require.NoError(t, err)
	_, err = Merge(a1, byTime)
	require.ErrorIs(t, err, ErrIncompatibleOrder)

	remapped, err := a1.OrderBy("b", "c")
	require.NoError(t, err)
	_, err = Merge(a1, remapped)
	require.ErrorIs(t, err, ErrIncompatibleOrder)
}

func TestOrderByValidation(t *testing.T) {
	r := newTriples(t)
	pinned := abc(t, r, index.Range().Eq("a", 1))
	pinnedAB := abc(t, r, index.Range().Eq("a", 1).Eq("b", 2))
	open := abc(t, r, index.Range().Gt("a", 0))

	testCases := []struct {
		name   string
		src    Stream
		fields []string
		valid  bool
	}{
		{"drop pinned prefix", pinned, []string{"b", "c"}, true},
		{"explicit disambiguators", pinned, []string{"b", "c", index.CreationTimeField, index.IDField}, true},
		{"no change", open, []string{"a", "b", "c"}, true},
		{"drop two pinned", pinnedAB, []string{"c"}, true},
		{"drop everything pinned", pinnedAB, nil, false},
		{"drop unpinned", pinned, []string{"c"}, false},
		{"range is not equality", open, []string{"b", "c"}, false},
		{"not a suffix", pinned, []string{"c", "b"}, false},
		{"unknown field", pinned, []string{"b", "d"}, false},
		{"too many fields", pinned, []string{"z", "a", "b", "c"}, false},
		{"through a filter", pinned.FilterWith(fieldEquals("c", 1)), []string{"b", "c"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := tc.src.OrderBy(tc.fields...)
			if !tc.valid {
				require.ErrorIs(t, err, ErrInvalidOrderBy)
				return
			}
			require.NoError(t, err)
			require.Equal(t, collectIDs(t, tc.src), collectIDs(t, s), "orderBy never changes the documents")
		})
	}
}

func TestOrderByReflectAndOrder(t *testing.T) {
	r := newTriples(t)
	s, err := abc(t, r, index.Range().Eq("a", 1)).OrderBy("b", "c")
	require.NoError(t, err)

	refl := s.Reflect()
	require.Equal(t, "by_abc", refl.Index)
	require.Equal(t, []string{"b", "c", index.CreationTimeField, index.IDField}, refl.IndexFields)

	desc := s.Order(index.Desc)
	require.Equal(t, index.Desc, desc.Direction())
	require.Equal(t, s.IndexFields(), desc.IndexFields())
	got := collectIDs(t, desc)
	require.Equal(t, tripleID(1, 2, 2), got[0])

	// an already remapped stream can drop another pinned field
	pinned, err := abc(t, r, index.Range().Eq("a", 1).Eq("b", 1)).OrderBy("b", "c")
	require.NoError(t, err)
	again, err := pinned.OrderBy("c")
	require.NoError(t, err)
	require.Equal(t, []string{"c", index.CreationTimeField, index.IDField}, again.IndexFields())
}

// The read budget bounds each merge input, not the merge as a whole: every
// input may fetch up to MaximumRowsRead rows and buffers one head.
func TestMergeReadBudgetIsPerInput(t *testing.T) {
	rec := telemetry.NewForTesting()
	collector := stats.NewAtomicCollector()
	st := instrumented.New(newTriplesStore(t), instrumented.WithTelemetry(rec, "memory"))
	r := newTestReader(st, WithStats(collector))
	ctx := context.Background()

	var calls atomic.Int64
	counted := func(ctx context.Context, doc *store.Document) (bool, error) {
		calls.Add(1)
		return true, nil
	}
	var inputs []Stream
	for a := 0; a < 3; a++ {
		inputs = append(inputs, abc(t, r, index.Range().Eq("a", a)).FilterWith(counted))
	}
	merged := mustMerge(t, inputs...)

	const budget = 2
	res, err := merged.Paginate(ctx, PaginateOptions{NumItems: 10, MaximumRowsRead: budget})
	require.NoError(t, err)
	require.Equal(t, PageStatusSplitRequired, res.PageStatus)
	require.Equal(t, []string{tripleID(0, 0, 0), tripleID(0, 0, 1)}, ids(res.Page))

	require.Equal(t, uint64(budget), collector.GetStats()["rows_read"], "the merged output stops at the budget")
	require.Equal(t, int64(budget+len(inputs)-1), calls.Load(), "one head per input plus refills of the emitting input")
	require.Equal(t, int64(budget*len(inputs)), rec.Counter("ordstream.store.scan.rows.total"), "each input fetches up to the budget")
}
