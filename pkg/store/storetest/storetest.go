// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs every conformance test against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateTable", testCreateTable},
		{"IndexFields", testIndexFields},
		{"InsertGet", testInsertGet},
		{"ScanOrder", testScanOrder},
		{"ScanBounds", testScanBounds},
		{"ScanResume", testScanResume},
		{"ScanMissingFieldsSortFirst", testScanMissingFields},
		{"CreationTimeOrder", testCreationTimeOrder},
		{"PatchMovesIndexEntry", testPatch},
		{"Replace", testReplace},
		{"Delete", testDelete},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

var triples = store.TableSchema{
	Name:    "triples",
	Indexes: []store.IndexSchema{{Name: "by_abc", Fields: []string{"a", "b", "c"}}},
}

func seedTriples(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			for c := 0; c < 3; c++ {
				_, err := s.Insert(ctx, "triples", map[string]any{"a": a, "b": b, "c": c})
				require.NoError(t, err)
			}
		}
	}
}

// scanAll pages through a range with the given chunk size
func scanAll(t *testing.T, s store.Store, req store.ScanRequest, chunk int) []store.Row {
	t.Helper()
	var rows []store.Row
	var after []byte
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "scan did not terminate")
		page, err := s.Scan(context.Background(), req, after, chunk)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Rows), chunk)
		rows = append(rows, page.Rows...)
		after = page.Cursor
		if page.Done {
			return rows
		}
	}
}

func abc(row store.Row) [3]int64 {
	return [3]int64{row.Key[0].(int64), row.Key[1].(int64), row.Key[2].(int64)}
}

func testCreateTable(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	err := s.CreateTable(ctx, triples)
	require.True(t, errors.Is(err, store.ErrTableExists), "got %v", err)

	err = s.CreateTable(ctx, store.TableSchema{Name: "bad", Indexes: []store.IndexSchema{{Name: "x"}}})
	require.True(t, errors.Is(err, store.ErrInvalidSchema), "got %v", err)

	_, err = s.Insert(ctx, "missing", map[string]any{"a": 1})
	require.True(t, errors.Is(err, store.ErrTableNotFound), "got %v", err)
}

func testIndexFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	fields, err := s.IndexFields(ctx, "triples", "by_abc")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", index.CreationTimeField, index.IDField}, fields)

	fields, err = s.IndexFields(ctx, "triples", index.ByID)
	require.NoError(t, err)
	require.Equal(t, []string{index.IDField}, fields)

	fields, err = s.IndexFields(ctx, "triples", index.ByCreationTime)
	require.NoError(t, err)
	require.Equal(t, []string{index.CreationTimeField, index.IDField}, fields)

	_, err = s.IndexFields(ctx, "triples", "by_nothing")
	require.True(t, errors.Is(err, store.ErrIndexNotFound), "got %v", err)
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	id, err := s.Insert(ctx, "triples", map[string]any{"a": 1, "name": "one", "blob": []byte{0, 1}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, "triples", id)
	require.NoError(t, err)
	require.Equal(t, id, doc.ID)
	require.Greater(t, doc.CreationTime, 0.0)
	require.Equal(t, "one", doc.Fields["name"])
	require.Equal(t, []byte{0, 1}, doc.Fields["blob"])
	a, err := index.Normalize(doc.Fields["a"])
	require.NoError(t, err)
	require.Equal(t, int64(1), a)

	_, err = s.Get(ctx, "triples", "nope")
	require.True(t, errors.Is(err, store.ErrDocumentNotFound), "got %v", err)

	_, err = s.Insert(ctx, "triples", map[string]any{"_id": "forged"})
	require.True(t, errors.Is(err, store.ErrInvalidFields), "got %v", err)
}

func testScanOrder(t *testing.T, s store.Store) {
	seedTriples(t, s)

	asc := scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All(), Direction: index.Asc}, 1000)
	require.Len(t, asc, 27)
	for i := 1; i < len(asc); i++ {
		require.Negative(t, index.Compare(asc[i-1].Key, asc[i].Key), "row %d out of order", i)
	}
	require.Equal(t, [3]int64{0, 0, 0}, abc(asc[0]))
	require.Equal(t, [3]int64{2, 2, 2}, abc(asc[26]))

	desc := scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All(), Direction: index.Desc}, 1000)
	require.Len(t, desc, 27)
	for i := range desc {
		require.Equal(t, asc[len(asc)-1-i].Doc.ID, desc[i].Doc.ID)
	}
}

func testScanBounds(t *testing.T, s store.Store) {
	seedTriples(t, s)
	fields := []string{"a", "b", "c", index.CreationTimeField, index.IDField}

	bounds, err := index.Range().Eq("a", 1).Gt("b", 0).Build(fields)
	require.NoError(t, err)

	req := store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: bounds, Direction: index.Asc}
	rows := scanAll(t, s, req, 4)
	require.Len(t, rows, 6)
	require.Equal(t, [3]int64{1, 1, 0}, abc(rows[0]))
	require.Equal(t, [3]int64{1, 2, 2}, abc(rows[5]))

	req.Direction = index.Desc
	rows = scanAll(t, s, req, 4)
	require.Len(t, rows, 6)
	require.Equal(t, [3]int64{1, 2, 2}, abc(rows[0]))
	require.Equal(t, [3]int64{1, 1, 0}, abc(rows[5]))

	bounds, err = index.Range().Gte("a", 1).Lt("a", 2).Build(fields)
	require.NoError(t, err)
	rows = scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: bounds}, 100)
	require.Len(t, rows, 9)
	for _, row := range rows {
		require.Equal(t, int64(1), row.Key[0])
	}
}

func testScanResume(t *testing.T, s store.Store) {
	seedTriples(t, s)
	ctx := context.Background()

	for _, dir := range []index.Direction{index.Asc, index.Desc} {
		req := store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All(), Direction: dir}
		full := scanAll(t, s, req, 100)

		for _, chunk := range []int{1, 2, 5, 26, 27} {
			rows := scanAll(t, s, req, chunk)
			require.Len(t, rows, len(full), "chunk %d", chunk)
			for i := range rows {
				require.Equal(t, full[i].Doc.ID, rows[i].Doc.ID, "chunk %d row %d", chunk, i)
			}
		}

		// Resuming from any row's encoded key continues with the next row
		for i := 0; i < len(full)-1; i++ {
			page, err := s.Scan(ctx, req, index.EncodeKey(full[i].Key), 1)
			require.NoError(t, err)
			require.Len(t, page.Rows, 1)
			require.Equal(t, full[i+1].Doc.ID, page.Rows[0].Doc.ID)
			require.Equal(t, index.EncodeKey(full[i+1].Key), page.Cursor)
		}

		page, err := s.Scan(ctx, req, index.EncodeKey(full[len(full)-1].Key), 10)
		require.NoError(t, err)
		require.Empty(t, page.Rows)
		require.True(t, page.Done)
	}
}

func testScanMissingFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	withA, err := s.Insert(ctx, "triples", map[string]any{"a": 0})
	require.NoError(t, err)
	without, err := s.Insert(ctx, "triples", map[string]any{"other": true})
	require.NoError(t, err)

	rows := scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All()}, 10)
	require.Len(t, rows, 2)
	require.Equal(t, without, rows[0].Doc.ID)
	require.Nil(t, rows[0].Key[0])
	require.Equal(t, withA, rows[1].Doc.ID)
}

func testCreationTimeOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := s.Insert(ctx, "triples", map[string]any{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	rows := scanAll(t, s, store.ScanRequest{Table: "triples", Index: index.ByCreationTime, Bounds: index.All()}, 7)
	require.Len(t, rows, len(ids))
	for i, row := range rows {
		require.Equal(t, ids[i], row.Doc.ID)
	}
}

func testPatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	first, err := s.Insert(ctx, "triples", map[string]any{"a": 1, "keep": "yes"})
	require.NoError(t, err)
	second, err := s.Insert(ctx, "triples", map[string]any{"a": 2})
	require.NoError(t, err)

	require.NoError(t, s.Patch(ctx, "triples", first, map[string]any{"a": 3, "keep": nil, "new": "field"}))

	doc, err := s.Get(ctx, "triples", first)
	require.NoError(t, err)
	require.NotContains(t, doc.Fields, "keep")
	require.Equal(t, "field", doc.Fields["new"])

	rows := scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All()}, 10)
	require.Len(t, rows, 2)
	require.Equal(t, second, rows[0].Doc.ID)
	require.Equal(t, first, rows[1].Doc.ID)
	require.Equal(t, int64(3), rows[1].Key[0])

	// Moving back reuses the original key
	require.NoError(t, s.Patch(ctx, "triples", first, map[string]any{"a": 1}))
	rows = scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All(), Direction: index.Desc}, 1)
	require.Len(t, rows, 2)
	require.Equal(t, second, rows[0].Doc.ID)
	require.Equal(t, first, rows[1].Doc.ID)

	err = s.Patch(ctx, "triples", "missing", map[string]any{"a": 1})
	require.True(t, errors.Is(err, store.ErrDocumentNotFound), "got %v", err)
}

func testReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))

	id, err := s.Insert(ctx, "triples", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)
	before, err := s.Get(ctx, "triples", id)
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, "triples", id, map[string]any{"z": "only"}))

	doc, err := s.Get(ctx, "triples", id)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"z": "only"}, doc.Fields)
	require.Equal(t, before.CreationTime, doc.CreationTime)

	rows := scanAll(t, s, store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All()}, 10)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].Key[0])
}

func testDelete(t *testing.T, s store.Store) {
	seedTriples(t, s)
	ctx := context.Background()
	req := store.ScanRequest{Table: "triples", Index: "by_abc", Bounds: index.All()}

	rows := scanAll(t, s, req, 100)
	for i := 0; i < len(rows); i += 2 {
		require.NoError(t, s.Delete(ctx, "triples", rows[i].Doc.ID))
	}

	for _, dir := range []index.Direction{index.Asc, index.Desc} {
		req.Direction = dir
		left := scanAll(t, s, req, 3)
		require.Len(t, left, 13)
	}

	_, err := s.Get(ctx, "triples", rows[0].Doc.ID)
	require.True(t, errors.Is(err, store.ErrDocumentNotFound), "got %v", err)

	err = s.Delete(ctx, "triples", rows[0].Doc.ID)
	require.True(t, errors.Is(err, store.ErrDocumentNotFound), "got %v", err)
}

func testClosed(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, triples))
	require.NoError(t, s.Close())

	_, err := s.Scan(ctx, store.ScanRequest{Table: "triples", Index: index.ByID, Bounds: index.All()}, nil, 10)
	require.True(t, errors.Is(err, store.ErrStoreClosed), "got %v", err)
}
