package stream

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KevoDB/ordstream/pkg/index"
)

func TestCursorRoundTrip(t *testing.T) {
	merged := position{inputs: []position{
		{key: index.Key{int64(1), "a"}},
		{},
		{key: index.Key{int64(9)}, exhausted: true},
		{inputs: []position{{key: index.Key{"nested"}}, {exhausted: true}}},
	}}
	positions := map[string]position{
		"start":     {},
		"key":       {key: index.Key{int64(-3), "x\x00y", nil, 1.5, true, []byte{0, 1}}},
		"exhausted": {key: index.Key{"last"}, exhausted: true},
		"merge":     merged,
	}

	for name, pos := range positions {
		for _, threshold := range []int{0, 1, 1 << 20} {
			cursor := encodeCursor("shape", pos, threshold)
			got, err := decodeCursor("shape", cursor)
			require.NoError(t, err, "%s threshold=%d", name, threshold)
			require.Equal(t, pos, got, "%s threshold=%d", name, threshold)
		}
	}
}

func TestCursorCompression(t *testing.T) {
	long := index.Key{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	pos := position{inputs: []position{{key: long}, {key: long}, {key: long}}}

	raw, err := base64.RawURLEncoding.DecodeString(encodeCursor("shape", pos, 0))
	require.NoError(t, err)
	require.Equal(t, cursorRaw, raw[0])

	compressed, err := base64.RawURLEncoding.DecodeString(encodeCursor("shape", pos, 64))
	require.NoError(t, err)
	require.Equal(t, cursorS2, compressed[0])
	require.Less(t, len(compressed), len(raw))
}

func TestCursorRejections(t *testing.T) {
	valid := encodeCursor("shape", position{key: index.Key{int64(1)}}, 0)
	raw, err := base64.RawURLEncoding.DecodeString(valid)
	require.NoError(t, err)

	encode := func(b []byte) string {
		return base64.RawURLEncoding.EncodeToString(b)
	}
	var badKey []byte
	badKey = protowire.AppendTag(badKey, envelopeShapeField, protowire.Fixed64Type)
	badKey = protowire.AppendFixed64(badKey, fingerprint("shape"))
	badKey = protowire.AppendTag(badKey, envelopePosField, protowire.BytesType)
	badKey = protowire.AppendBytes(badKey, protowire.AppendBytes(protowire.AppendTag(nil, posKeyField, protowire.BytesType), []byte{0x7f}))

	testCases := map[string]string{
		"not base64":      "%%%",
		"unknown format":  encode(append([]byte{0x07}, raw[1:]...)),
		"truncated":       encode(raw[:len(raw)-2]),
		"bad compression": encode([]byte{cursorS2, 0xff, 0xff, 0xff}),
		"missing shape":   encode([]byte{cursorRaw}),
		"corrupt key":     encode(append([]byte{cursorRaw}, badKey...)),
	}
	for name, cursor := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeCursor("shape", cursor)
			require.ErrorIs(t, err, ErrInvalidCursor)
			require.True(t, IsInvalidCursor(err))
		})
	}

	_, err = decodeCursor("other shape", valid)
	require.ErrorIs(t, err, ErrInvalidCursor)

	pos, err := decodeCursor("shape", "")
	require.NoError(t, err)
	require.Equal(t, position{}, pos)
}

func TestCursorSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, 9, protowire.VarintType)
	body = protowire.AppendVarint(body, 42)
	body = protowire.AppendTag(body, envelopeShapeField, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, fingerprint("shape"))
	body = protowire.AppendTag(body, envelopePosField, protowire.BytesType)
	body = protowire.AppendBytes(body, appendPosition(nil, position{key: index.Key{"k"}}))

	pos, err := decodeCursor("shape", base64.RawURLEncoding.EncodeToString(append([]byte{cursorRaw}, body...)))
	require.NoError(t, err)
	require.Equal(t, index.Key{"k"}, pos.key)
}

func TestCursorBoundToStreamShape(t *testing.T) {
	r := newTriples(t)
	ctx := context.Background()
	a1 := abc(t, r, index.Range().Eq("a", 1))

	res, err := a1.Paginate(ctx, PaginateOptions{NumItems: 2})
	require.NoError(t, err)

	others := map[string]Stream{
		"reversed":      a1.Order(index.Desc),
		"other bounds":  abc(t, r, index.Range().Eq("a", 2)),
		"filtered":      a1.FilterWith(fieldEquals("c", 1)),
		"merged":        mustMerge(t, a1),
		"creation time": mustFullScan(t, r),
	}
	for name, s := range others {
		t.Run(name, func(t *testing.T) {
			_, err := s.Paginate(ctx, PaginateOptions{NumItems: 2, Cursor: res.ContinueCursor})
			require.ErrorIs(t, err, ErrInvalidCursor)
		})
	}

	// the same descriptor rebuilt from scratch accepts it
	again := abc(t, r, index.Range().Eq("a", 1))
	next, err := again.Paginate(ctx, PaginateOptions{NumItems: 2, Cursor: res.ContinueCursor})
	require.NoError(t, err)
	require.Equal(t, []string{tripleID(1, 0, 2), tripleID(1, 1, 0)}, ids(next.Page))
}

func TestMergeCursorWithWrongFanIn(t *testing.T) {
	r := newTriples(t)
	merged := mustMerge(t, abc(t, r, index.Range().Eq("a", 0)), abc(t, r, index.Range().Eq("a", 1)))

	cursor := encodeCursor(merged.shape(), position{inputs: []position{{}}}, 0)
	_, err := merged.Paginate(context.Background(), PaginateOptions{NumItems: 1, Cursor: cursor})
	require.ErrorIs(t, err, ErrInvalidCursor)

	cursor = encodeCursor(abc(t, r, nil).shape(), position{inputs: []position{{}}}, 0)
	_, err = abc(t, r, nil).Paginate(context.Background(), PaginateOptions{NumItems: 1, Cursor: cursor})
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func mustMerge(t *testing.T, inputs ...Stream) *MergeStream {
	t.Helper()
	m, err := Merge(inputs...)
	require.NoError(t, err)
	return m
}

func mustFullScan(t *testing.T, r *Reader) Stream {
	t.Helper()
	s, err := r.Query("triples").FullTableScan(context.Background())
	require.NoError(t, err)
	return s
}
