// Package memory implements store.Store in memory. Every index is a skip list
// of encoded index keys pointing at document ids; updates and deletes leave
// tombstones behind so a key's history is ordered by sequence number.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/KevoDB/ordstream/pkg/common/iterator/bounded"
	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
)

type memIndex struct {
	fields []string
	list   *SkipList
}

type table struct {
	schema  store.TableSchema
	indexes map[string]*memIndex
	docs    map[string]*store.Document
}

// Store is an in-memory table store
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	seqNum uint64
	clock  *store.Clock
	newID  func() string
	logger log.Logger
	closed bool
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator replaces the uuid generator, mostly for deterministic tests
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates an empty in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*table),
		clock:  store.NewClock(),
		newID:  uuid.NewString,
		logger: log.GetDefaultLogger().WithField("component", "memory-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTable registers a table and builds empty skip lists for its indexes
func (s *Store) CreateTable(ctx context.Context, schema store.TableSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	if _, ok := s.tables[schema.Name]; ok {
		return fmt.Errorf("%w: %s", store.ErrTableExists, schema.Name)
	}

	t := &table{
		schema:  schema,
		indexes: make(map[string]*memIndex),
		docs:    make(map[string]*store.Document),
	}
	for _, idx := range schema.AllIndexes() {
		fields, err := schema.IndexFields(idx.Name)
		if err != nil {
			return err
		}
		t.indexes[idx.Name] = &memIndex{fields: fields, list: NewSkipList()}
	}
	s.tables[schema.Name] = t

	s.logger.Debug("created table %s with %d indexes", schema.Name, len(t.indexes))
	return nil
}

// IndexFields returns the comparison fields of an index
func (s *Store) IndexFields(ctx context.Context, tableName, indexName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrIndexNotFound, tableName, indexName)
	}
	return append([]string(nil), idx.fields...), nil
}

// Get returns a copy of a live document
func (s *Store) Get(ctx context.Context, tableName, id string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}
	doc, ok := t.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, tableName)
	}
	return doc.Clone(), nil
}

// Scan walks one index range through a bounded iterator over the live view of
// the index's skip list.
func (s *Store) Scan(ctx context.Context, req store.ScanRequest, after []byte, limit int) (*store.ScanPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("scan limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(req.Table)
	if err != nil {
		return nil, err
	}
	idx, ok := t.indexes[req.Index]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrIndexNotFound, req.Table, req.Index)
	}

	iter := bounded.NewBoundedIterator(
		NewIteratorAdapter(idx.list.NewIterator()),
		req.Bounds.Start(),
		req.Bounds.End(),
	)

	forward := req.Direction == index.Asc
	switch {
	case after == nil && forward:
		iter.SeekToFirst()
	case after == nil:
		iter.SeekToLast()
	case forward:
		if iter.Seek(after) && bytes.Equal(iter.Key(), after) {
			iter.Next()
		}
	default:
		iter.SeekLT(after)
	}

	page := &store.ScanPage{Cursor: after}
	for iter.Valid() && len(page.Rows) < limit {
		id := string(iter.Value())
		doc, ok := t.docs[id]
		if !ok {
			return nil, fmt.Errorf("index %s.%s points at missing document %s", req.Table, req.Index, id)
		}
		key, err := index.DecodeKey(iter.Key())
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, store.Row{Doc: doc.Clone(), Key: key})
		page.Cursor = bytes.Clone(iter.Key())

		if forward {
			iter.Next()
		} else {
			iter.Prev()
		}
	}
	page.Done = !iter.Valid()

	return page, nil
}

// Insert stores a new document and adds it to every index
func (s *Store) Insert(ctx context.Context, tableName string, fields map[string]any) (string, error) {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(tableName)
	if err != nil {
		return "", err
	}

	doc := &store.Document{
		ID:           s.newID(),
		CreationTime: s.clock.Next(),
		Fields:       fields,
	}
	if _, exists := t.docs[doc.ID]; exists {
		return "", fmt.Errorf("duplicate document id %s", doc.ID)
	}

	keys, err := t.indexKeys(doc)
	if err != nil {
		return "", err
	}
	s.seqNum++
	for name, key := range keys {
		t.indexes[name].list.Insert(newEntry(key, []byte(doc.ID), TypeValue, s.seqNum))
	}
	t.docs[doc.ID] = doc

	return doc.ID, nil
}

// Patch merges fields into a document
func (s *Store) Patch(ctx context.Context, tableName, id string, fields map[string]any) error {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return err
	}
	return s.update(tableName, id, func(doc *store.Document) *store.Document {
		return store.ApplyPatch(doc, fields)
	})
}

// Replace swaps the user fields of a document
func (s *Store) Replace(ctx context.Context, tableName, id string, fields map[string]any) error {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return err
	}
	return s.update(tableName, id, func(doc *store.Document) *store.Document {
		return &store.Document{ID: doc.ID, CreationTime: doc.CreationTime, Fields: fields}
	})
}

// Delete removes a document, leaving tombstones in its index entries
func (s *Store) Delete(ctx context.Context, tableName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(tableName)
	if err != nil {
		return err
	}
	doc, ok := t.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, tableName)
	}

	keys, err := t.indexKeys(doc)
	if err != nil {
		return err
	}
	s.seqNum++
	for name, key := range keys {
		t.indexes[name].list.Insert(newEntry(key, nil, TypeDeletion, s.seqNum))
	}
	delete(t.docs, id)

	return nil
}

// Close marks the store closed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// update rewrites a document and moves its index entries whose keys changed
func (s *Store) update(tableName, id string, fn func(*store.Document) *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(tableName)
	if err != nil {
		return err
	}
	old, ok := t.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, tableName)
	}

	next := fn(old)
	oldKeys, err := t.indexKeys(old)
	if err != nil {
		return err
	}
	newKeys, err := t.indexKeys(next)
	if err != nil {
		return err
	}

	s.seqNum++
	for name, newKey := range newKeys {
		oldKey := oldKeys[name]
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		list := t.indexes[name].list
		list.Insert(newEntry(oldKey, nil, TypeDeletion, s.seqNum))
		list.Insert(newEntry(newKey, []byte(id), TypeValue, s.seqNum))
	}
	t.docs[id] = next

	return nil
}

// indexKeys encodes the document's key in every index of the table
func (t *table) indexKeys(doc *store.Document) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(t.indexes))
	for name, idx := range t.indexes {
		key, err := doc.Key(idx.fields)
		if err != nil {
			return nil, err
		}
		keys[name] = index.EncodeKey(key)
	}
	return keys, nil
}

// table must be called with s.mu held
func (s *Store) table(name string) (*table, error) {
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}
	return t, nil
}

var _ store.Store = (*Store)(nil)
