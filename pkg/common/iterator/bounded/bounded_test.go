package bounded

import (
	"bytes"
	"sort"
	"testing"
)

// sliceIterator is a simple in-memory iterator over sorted keys for testing
type sliceIterator struct {
	keys  [][]byte
	index int
}

func newSliceIterator(keys ...string) *sliceIterator {
	sorted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		sorted = append(sorted, []byte(k))
	}
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	return &sliceIterator{keys: sorted, index: -1}
}

func (s *sliceIterator) SeekToFirst() {
	s.index = 0
}

func (s *sliceIterator) SeekToLast() {
	s.index = len(s.keys) - 1
}

func (s *sliceIterator) Seek(target []byte) bool {
	s.index = sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], target) >= 0 })
	return s.Valid()
}

func (s *sliceIterator) SeekLT(target []byte) bool {
	s.index = sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], target) >= 0 }) - 1
	return s.Valid()
}

func (s *sliceIterator) Next() bool {
	if !s.Valid() {
		return false
	}
	s.index++
	return s.Valid()
}

func (s *sliceIterator) Prev() bool {
	if !s.Valid() {
		return false
	}
	s.index--
	return s.Valid()
}

func (s *sliceIterator) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return s.keys[s.index]
}

func (s *sliceIterator) Value() []byte {
	return s.Key()
}

func (s *sliceIterator) Valid() bool {
	return s.index >= 0 && s.index < len(s.keys)
}

func (s *sliceIterator) IsTombstone() bool {
	return false
}

func collectForward(b *BoundedIterator) []string {
	var out []string
	for b.SeekToFirst(); b.Valid(); b.Next() {
		out = append(out, string(b.Key()))
	}
	return out
}

func collectBackward(b *BoundedIterator) []string {
	var out []string
	for b.SeekToLast(); b.Valid(); b.Prev() {
		out = append(out, string(b.Key()))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBoundedIterator_NoBounds(t *testing.T) {
	iter := NewBoundedIterator(newSliceIterator("a", "b", "c", "d", "e"), nil, nil)

	if got := collectForward(iter); !equalStrings(got, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("forward scan returned %v", got)
	}
	if got := collectBackward(iter); !equalStrings(got, []string{"e", "d", "c", "b", "a"}) {
		t.Errorf("backward scan returned %v", got)
	}
}

func TestBoundedIterator_WithBounds(t *testing.T) {
	// Bounds b to d (inclusive b, exclusive d)
	iter := NewBoundedIterator(newSliceIterator("a", "b", "c", "d", "e"), []byte("b"), []byte("d"))

	if got := collectForward(iter); !equalStrings(got, []string{"b", "c"}) {
		t.Errorf("forward scan returned %v", got)
	}
	if got := collectBackward(iter); !equalStrings(got, []string{"c", "b"}) {
		t.Errorf("backward scan returned %v", got)
	}
}

func TestBoundedIterator_Seek(t *testing.T) {
	iter := NewBoundedIterator(newSliceIterator("a", "b", "c", "d", "e"), []byte("b"), []byte("d"))

	tests := []struct {
		target      string
		expectValid bool
		expectKey   string
	}{
		{"a", true, "b"},  // Before range, should go to start bound
		{"b", true, "b"},  // At range start
		{"bc", true, "c"}, // Between b and c
		{"c", true, "c"},  // Within range
		{"d", false, ""},  // At range end (exclusive)
		{"e", false, ""},  // After range
	}

	for i, test := range tests {
		found := iter.Seek([]byte(test.target))
		if found != test.expectValid {
			t.Errorf("Test %d: Seek(%s) returned %v, expected %v", i, test.target, found, test.expectValid)
		}
		if test.expectValid && string(iter.Key()) != test.expectKey {
			t.Errorf("Test %d: Seek(%s) key is '%s', expected '%s'", i, test.target, string(iter.Key()), test.expectKey)
		}
	}
}

func TestBoundedIterator_SeekLT(t *testing.T) {
	iter := NewBoundedIterator(newSliceIterator("a", "b", "c", "d", "e"), []byte("b"), []byte("d"))

	tests := []struct {
		target      string
		expectValid bool
		expectKey   string
	}{
		{"z", true, "c"},  // Past the range, clamps to the end bound
		{"d", true, "c"},  // At range end
		{"c", true, "b"},  // Strictly less than target
		{"bb", true, "b"}, // Between b and c
		{"b", false, ""},  // Nothing below the start bound
	}

	for i, test := range tests {
		found := iter.SeekLT([]byte(test.target))
		if found != test.expectValid {
			t.Errorf("Test %d: SeekLT(%s) returned %v, expected %v", i, test.target, found, test.expectValid)
		}
		if test.expectValid && string(iter.Key()) != test.expectKey {
			t.Errorf("Test %d: SeekLT(%s) key is '%s', expected '%s'", i, test.target, string(iter.Key()), test.expectKey)
		}
	}
}

func TestBoundedIterator_SetBounds(t *testing.T) {
	iter := NewBoundedIterator(newSliceIterator("a", "b", "c", "d", "e"), nil, nil)

	// Position at 'c'
	iter.Seek([]byte("c"))

	// Set bounds that include 'c'
	iter.SetBounds([]byte("b"), []byte("e"))
	if !iter.Valid() || string(iter.Key()) != "c" {
		t.Fatal("Iterator should remain valid at 'c' after setting bounds that include it")
	}

	// Set bounds that exclude 'c'
	iter.SetBounds([]byte("d"), []byte("f"))
	if iter.Valid() {
		t.Fatal("Iterator should be invalid after setting bounds that exclude current position")
	}

	iter.SeekToFirst()
	if !iter.Valid() || string(iter.Key()) != "d" {
		t.Errorf("Expected key 'd' after SeekToFirst, got '%s'", string(iter.Key()))
	}
}
