package memory

import (
	"bytes"
)

// IteratorAdapter adapts a skip list Iterator to the common Iterator interface.
// It exposes only the newest version of each key and hides keys whose newest
// version is a tombstone, so callers see the live index.
type IteratorAdapter struct {
	iter *Iterator
	// current holds the newest version of the key the iterator is on
	current *entry
}

// NewIteratorAdapter creates a new adapter for a skip list iterator
func NewIteratorAdapter(iter *Iterator) *IteratorAdapter {
	return &IteratorAdapter{iter: iter}
}

// SeekToFirst positions the iterator at the first live key
func (a *IteratorAdapter) SeekToFirst() {
	a.iter.SeekToFirst()
	a.settleForward()
}

// SeekToLast positions the iterator at the last live key
func (a *IteratorAdapter) SeekToLast() {
	a.iter.SeekToLast()
	a.settleBackward()
}

// Seek positions the iterator at the first live key >= target
func (a *IteratorAdapter) Seek(target []byte) bool {
	a.iter.Seek(target)
	a.settleForward()
	return a.Valid()
}

// SeekLT positions the iterator at the last live key < target
func (a *IteratorAdapter) SeekLT(target []byte) bool {
	a.iter.SeekLT(target)
	a.settleBackward()
	return a.Valid()
}

// Next advances the iterator to the next live key
func (a *IteratorAdapter) Next() bool {
	if !a.Valid() {
		return false
	}
	a.skipVersions(a.current.key)
	a.settleForward()
	return a.Valid()
}

// Prev moves the iterator to the previous live key
func (a *IteratorAdapter) Prev() bool {
	if !a.Valid() {
		return false
	}
	a.iter.SeekLT(a.current.key)
	a.settleBackward()
	return a.Valid()
}

// Key returns the current key
func (a *IteratorAdapter) Key() []byte {
	if !a.Valid() {
		return nil
	}
	return a.current.key
}

// Value returns the document id the current key points at
func (a *IteratorAdapter) Value() []byte {
	if !a.Valid() {
		return nil
	}
	return a.current.value
}

// Valid returns true if the iterator is positioned at a live key
func (a *IteratorAdapter) Valid() bool {
	return a.current != nil
}

// IsTombstone is always false: tombstoned keys are skipped
func (a *IteratorAdapter) IsTombstone() bool {
	return false
}

// skipVersions moves the raw iterator past every version of key
func (a *IteratorAdapter) skipVersions(key []byte) {
	for a.iter.Valid() && bytes.Equal(a.iter.Key(), key) {
		a.iter.Next()
	}
}

// settleForward stops at the first key whose newest version is live. The raw
// iterator is expected to sit on the newest version of a key.
func (a *IteratorAdapter) settleForward() {
	for a.iter.Valid() {
		e := a.iter.Entry()
		if e.valueType != TypeDeletion {
			a.current = e
			return
		}
		a.skipVersions(e.key)
	}
	a.current = nil
}

// settleBackward stops at the nearest preceding key whose newest version is live.
// Going backward the raw iterator sits on the oldest version of a key.
func (a *IteratorAdapter) settleBackward() {
	for a.iter.Valid() {
		key := a.iter.Key()
		newest := a.iter.list.Find(key)
		if newest != nil && newest.valueType != TypeDeletion {
			a.current = newest
			return
		}
		a.iter.SeekLT(key)
	}
	a.current = nil
}
