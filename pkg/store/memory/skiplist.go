package memory

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// MaxHeight is the maximum height of the skip list
	MaxHeight = 12

	// BranchingFactor determines the probability of increasing the height
	BranchingFactor = 4
)

// ValueType represents the type of an index entry
type ValueType uint8

const (
	// TypeValue indicates the entry points at a live document
	TypeValue ValueType = iota + 1

	// TypeDeletion indicates the entry is a tombstone (deletion marker)
	TypeDeletion
)

// entry maps an encoded index key to a document id at a sequence number
type entry struct {
	key       []byte
	value     []byte
	valueType ValueType
	seqNum    uint64
}

// newEntry creates a new entry
func newEntry(key, value []byte, valueType ValueType, seqNum uint64) *entry {
	return &entry{
		key:       key,
		value:     value,
		valueType: valueType,
		seqNum:    seqNum,
	}
}

// compare compares this entry with another key
// Returns: negative if e.key < key, 0 if equal, positive if e.key > key
func (e *entry) compare(key []byte) int {
	return bytes.Compare(e.key, key)
}

// compareWithEntry compares this entry with another entry
// First by key, then by sequence number (in reverse order to prioritize newer entries)
func (e *entry) compareWithEntry(other *entry) int {
	cmp := bytes.Compare(e.key, other.key)
	if cmp == 0 {
		if e.seqNum > other.seqNum {
			return -1
		} else if e.seqNum < other.seqNum {
			return 1
		}
		return 0
	}
	return cmp
}

// node represents a node in the skip list
type node struct {
	entry  *entry
	height int32
	// next contains pointers to the next nodes at each level
	next [MaxHeight]unsafe.Pointer
}

// newNode creates a new node with a random height
func newNode(e *entry, height int) *node {
	return &node{
		entry:  e,
		height: int32(height),
	}
}

// getNext returns the next node at the given level
func (n *node) getNext(level int) *node {
	return (*node)(atomic.LoadPointer(&n.next[level]))
}

// setNext sets the next node at the given level
func (n *node) setNext(level int, next *node) {
	atomic.StorePointer(&n.next[level], unsafe.Pointer(next))
}

// SkipList holds the entries of one index. Readers never lock; writers are
// serialized by the owning store.
type SkipList struct {
	head      *node
	maxHeight int32
	rnd       *rand.Rand
	rndMtx    sync.Mutex
	count     int64
}

// NewSkipList creates a new skip list
func NewSkipList() *SkipList {
	return &SkipList{
		head:      newNode(nil, MaxHeight),
		maxHeight: 1,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomHeight generates a random height for a new node
func (s *SkipList) randomHeight() int {
	s.rndMtx.Lock()
	defer s.rndMtx.Unlock()

	height := 1
	for height < MaxHeight && s.rnd.Intn(BranchingFactor) == 0 {
		height++
	}
	return height
}

// getCurrentHeight returns the current maximum height of the skip list
func (s *SkipList) getCurrentHeight() int {
	return int(atomic.LoadInt32(&s.maxHeight))
}

// Insert adds a new entry to the skip list
func (s *SkipList) Insert(e *entry) {
	height := s.randomHeight()
	prev := [MaxHeight]*node{}
	n := newNode(e, height)

	currHeight := s.getCurrentHeight()
	if height > currHeight {
		if atomic.CompareAndSwapInt32(&s.maxHeight, int32(currHeight), int32(height)) {
			currHeight = height
		}
	}

	// Find where to insert at each level
	current := s.head
	for level := currHeight - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compareWithEntry(e) >= 0 {
				break
			}
			current = next
		}
		prev[level] = current
	}

	// Levels above the observed height hang off the head
	for level := currHeight; level < height; level++ {
		prev[level] = s.head
	}

	for level := 0; level < height; level++ {
		n.setNext(level, prev[level].getNext(level))
		prev[level].setNext(level, n)
	}

	atomic.AddInt64(&s.count, 1)
}

// Find returns the newest entry for key, or nil
func (s *SkipList) Find(key []byte) *entry {
	n := s.findGreaterOrEqual(key)
	if n == nil || n.entry.compare(key) != 0 {
		return nil
	}
	// Versions of a key are ordered newest first
	return n.entry
}

// findGreaterOrEqual returns the first node whose key is >= key
func (s *SkipList) findGreaterOrEqual(key []byte) *node {
	current := s.head
	for level := s.getCurrentHeight() - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compare(key) >= 0 {
				break
			}
			current = next
		}
	}
	return current.getNext(0)
}

// findLessThan returns the last node whose key is < key, or nil
func (s *SkipList) findLessThan(key []byte) *node {
	current := s.head
	for level := s.getCurrentHeight() - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compare(key) >= 0 {
				break
			}
			current = next
		}
	}
	if current == s.head {
		return nil
	}
	return current
}

// findLast returns the last node of the list, or nil when empty
func (s *SkipList) findLast() *node {
	current := s.head
	for level := s.getCurrentHeight() - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			current = next
		}
	}
	if current == s.head {
		return nil
	}
	return current
}

// Len returns the number of entries, versions and tombstones included
func (s *SkipList) Len() int64 {
	return atomic.LoadInt64(&s.count)
}

// Iterator walks raw skip list nodes. Every version of a key is visited going
// forward; going backward, Prev and SeekLT land on the oldest version of the
// preceding key.
type Iterator struct {
	list    *SkipList
	current *node
}

// NewIterator creates a new Iterator for the skip list
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

// Valid returns true if the iterator is positioned at a valid entry
func (it *Iterator) Valid() bool {
	return it.current != nil && it.current != it.list.head
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.current = it.current.getNext(0)
	return it.Valid()
}

// Prev moves the iterator to the last entry of the preceding key
func (it *Iterator) Prev() bool {
	if !it.Valid() {
		return false
	}
	it.current = it.list.findLessThan(it.current.entry.key)
	return it.Valid()
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	it.current = it.list.head.getNext(0)
}

// SeekToLast positions the iterator at the last entry
func (it *Iterator) SeekToLast() {
	it.current = it.list.findLast()
}

// Seek positions the iterator at the first entry with a key >= target
func (it *Iterator) Seek(key []byte) bool {
	it.current = it.list.findGreaterOrEqual(key)
	return it.Valid()
}

// SeekLT positions the iterator at the last entry with a key < target
func (it *Iterator) SeekLT(key []byte) bool {
	it.current = it.list.findLessThan(key)
	return it.Valid()
}

// Key returns the key of the current entry
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.key
}

// Value returns the value of the current entry
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.value
}

// IsTombstone returns true if the current entry is a deletion marker
func (it *Iterator) IsTombstone() bool {
	return it.Valid() && it.current.entry.valueType == TypeDeletion
}

// Entry returns the current entry
func (it *Iterator) Entry() *entry {
	if !it.Valid() {
		return nil
	}
	return it.current.entry
}
