package bounded

import (
	"bytes"

	"github.com/KevoDB/ordstream/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to the key range [start, end).
// A nil start or end leaves that side open.
type BoundedIterator struct {
	iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey []byte) *BoundedIterator {
	bi := &BoundedIterator{
		Iterator: iter,
	}

	// Make copies of the bounds to avoid external modification
	if startKey != nil {
		bi.start = bytes.Clone(startKey)
	}
	if endKey != nil {
		bi.end = bytes.Clone(endKey)
	}

	return bi
}

// SetBounds sets the start and end bounds for the iterator
func (b *BoundedIterator) SetBounds(start, end []byte) {
	b.start = nil
	b.end = nil
	if start != nil {
		b.start = bytes.Clone(start)
	}
	if end != nil {
		b.end = bytes.Clone(end)
	}
}

// SeekToFirst positions at the first key in the bounded range
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// SeekToLast positions at the last key in the bounded range
func (b *BoundedIterator) SeekToLast() {
	if b.end != nil {
		// end is exclusive, so the last key in range is the last one below it
		b.Iterator.SeekLT(b.end)
	} else {
		b.Iterator.SeekToLast()
	}
}

// Seek positions at the first key >= target within bounds
func (b *BoundedIterator) Seek(target []byte) bool {
	// If target is before start bound, use start bound instead
	if b.start != nil && bytes.Compare(target, b.start) < 0 {
		target = b.start
	}

	// A target at or after the end bound lands out of range and reports invalid
	b.Iterator.Seek(target)
	return b.Valid()
}

// SeekLT positions at the last key < target within bounds
func (b *BoundedIterator) SeekLT(target []byte) bool {
	// Anything at or past the end bound is out of range, so clamp to it
	if b.end != nil && bytes.Compare(target, b.end) > 0 {
		target = b.end
	}

	b.Iterator.SeekLT(target)
	return b.Valid()
}

// Next advances to the next key within bounds
func (b *BoundedIterator) Next() bool {
	if !b.Iterator.Next() {
		return false
	}
	return b.Valid()
}

// Prev moves to the previous key within bounds
func (b *BoundedIterator) Prev() bool {
	if !b.Iterator.Prev() {
		return false
	}
	return b.Valid()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds
func (b *BoundedIterator) Valid() bool {
	return b.Iterator.Valid() && b.checkBounds()
}

// Key returns the current key if within bounds
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Key()
}

// Value returns the current value if within bounds
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}

// IsTombstone returns true if the current entry is a deletion marker
func (b *BoundedIterator) IsTombstone() bool {
	if !b.Valid() {
		return false
	}
	return b.Iterator.IsTombstone()
}

// checkBounds verifies that the current position is within the bounds
func (b *BoundedIterator) checkBounds() bool {
	key := b.Iterator.Key()

	// Check if the current key is before the start bound
	if b.start != nil && bytes.Compare(key, b.start) < 0 {
		return false
	}

	// Check if the current key is beyond the end bound
	if b.end != nil && bytes.Compare(key, b.end) >= 0 {
		return false
	}

	return true
}
