package iterator

// Iterator defines the interface for iterating over ordered key-value pairs.
// Index stores expose their entries through it so that range restriction and
// traversal in either direction work the same regardless of where entries live.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// SeekLT positions the iterator at the last key < target
	SeekLT(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	// Prev moves the iterator to the previous key
	Prev() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// IsTombstone returns true if the current entry is a deletion marker
	IsTombstone() bool
}
