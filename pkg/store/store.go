// Package store defines the table store the stream engine reads from: index
// range scans in either direction with a low-level paginate primitive, plus
// document get/insert/patch/delete by identifier.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevoDB/ordstream/pkg/index"
)

var (
	// ErrTableNotFound is returned when a table has not been created
	ErrTableNotFound = errors.New("table not found")
	// ErrTableExists is returned when creating a table twice
	ErrTableExists = errors.New("table already exists")
	// ErrIndexNotFound is returned when a table has no index with the given name
	ErrIndexNotFound = errors.New("index not found")
	// ErrDocumentNotFound is returned when no document has the given id
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidSchema is returned for malformed table schemas
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrStoreClosed is returned when operations are performed on a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// Document is a stored record. System fields live outside Fields.
type Document struct {
	ID           string
	CreationTime float64
	Fields       map[string]any
}

// Value returns the value of a field, resolving the system fields
func (d *Document) Value(field string) (any, bool) {
	switch field {
	case index.IDField:
		return d.ID, true
	case index.CreationTimeField:
		return d.CreationTime, true
	}
	v, ok := d.Fields[field]
	return v, ok
}

// Key builds the document's key over fields. Missing fields become null.
func (d *Document) Key(fields []string) (index.Key, error) {
	key := make(index.Key, len(fields))
	for i, f := range fields {
		raw, _ := d.Value(f)
		v, err := index.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q of document %s: %w", f, d.ID, err)
		}
		key[i] = v
	}
	return key, nil
}

// Clone returns a copy of the document whose field map can be modified freely
func (d *Document) Clone() *Document {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return &Document{ID: d.ID, CreationTime: d.CreationTime, Fields: fields}
}

// IndexSchema declares an index on an ordered list of user fields
type IndexSchema struct {
	Name   string
	Fields []string
}

// TableSchema declares a table and its user indexes. The built-in by_id and
// by_creation_time indexes exist on every table.
type TableSchema struct {
	Name    string
	Indexes []IndexSchema
}

// Validate checks the schema for empty names, duplicates and system fields
func (s TableSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: table name not specified", ErrInvalidSchema)
	}
	seen := map[string]bool{index.ByID: true, index.ByCreationTime: true}
	for _, idx := range s.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("%w: index name not specified on table %s", ErrInvalidSchema, s.Name)
		}
		if seen[idx.Name] {
			return fmt.Errorf("%w: duplicate index %s on table %s", ErrInvalidSchema, idx.Name, s.Name)
		}
		seen[idx.Name] = true
		if len(idx.Fields) == 0 {
			return fmt.Errorf("%w: index %s has no fields", ErrInvalidSchema, idx.Name)
		}
		for _, f := range idx.Fields {
			if f == index.IDField || f == index.CreationTimeField {
				return fmt.Errorf("%w: index %s lists system field %s", ErrInvalidSchema, idx.Name, f)
			}
		}
	}
	return nil
}

// IndexFields returns the full comparison field list of the named index,
// disambiguators included.
func (s TableSchema) IndexFields(name string) ([]string, error) {
	switch name {
	case index.ByID:
		return []string{index.IDField}, nil
	case index.ByCreationTime:
		return index.WithDisambiguators([]string{index.CreationTimeField}), nil
	}
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return index.WithDisambiguators(idx.Fields), nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, s.Name, name)
}

// AllIndexes returns every index of the table, built-in ones first
func (s TableSchema) AllIndexes() []IndexSchema {
	out := []IndexSchema{
		{Name: index.ByID, Fields: []string{index.IDField}},
		{Name: index.ByCreationTime, Fields: []string{index.CreationTimeField}},
	}
	return append(out, s.Indexes...)
}

// ScanRequest identifies one index range scanned in one direction
type ScanRequest struct {
	Table     string
	Index     string
	Bounds    index.Bounds
	Direction index.Direction
}

// Row is one document together with its key in the scanned index
type Row struct {
	Doc *Document
	Key index.Key
}

// ScanPage is one chunk returned by the low-level paginate primitive
type ScanPage struct {
	Rows []Row
	// Cursor is the encoded key of the last row, or the incoming cursor when
	// no rows were returned.
	Cursor []byte
	// Done is true when no rows remain after Cursor
	Done bool
}

// Reader is the read side of a table store
type Reader interface {
	// IndexFields returns the comparison fields of an index, disambiguators included
	IndexFields(ctx context.Context, table, indexName string) ([]string, error)

	// Scan returns up to limit rows of the requested range in index order,
	// starting strictly after the row whose encoded key is after (in scan
	// direction). A nil after starts at the beginning of the range. Cursors are
	// index.EncodeKey encodings, so callers may resume from any key.
	Scan(ctx context.Context, req ScanRequest, after []byte, limit int) (*ScanPage, error)

	// Get returns a document by id
	Get(ctx context.Context, table, id string) (*Document, error)
}

// Writer is the write side of a table store
type Writer interface {
	// CreateTable registers a table and its indexes
	CreateTable(ctx context.Context, schema TableSchema) error

	// Insert adds a document and returns its generated id
	Insert(ctx context.Context, table string, fields map[string]any) (string, error)

	// Patch merges fields into an existing document; a nil value removes the field
	Patch(ctx context.Context, table, id string, fields map[string]any) error

	// Replace swaps all user fields of an existing document
	Replace(ctx context.Context, table, id string, fields map[string]any) error

	// Delete removes a document
	Delete(ctx context.Context, table, id string) error
}

// Store is a complete table store
type Store interface {
	Reader
	Writer

	// Close releases the store's resources
	Close() error
}
