// Package sqlite implements store.Store on SQLite through modernc.org/sqlite.
//
// Index entries live in one table keyed by the order-preserving encoded key.
// SQLite compares BLOBs bytewise, so ORDER BY enc_key yields index order and a
// cursor is just a key to compare against.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KevoDB/ordstream/pkg/common/log"
	"github.com/KevoDB/ordstream/pkg/index"
	"github.com/KevoDB/ordstream/pkg/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tables (
	name TEXT PRIMARY KEY,
	schema TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
	tbl TEXT NOT NULL,
	id TEXT NOT NULL,
	creation_time REAL NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (tbl, id)
);
CREATE TABLE IF NOT EXISTS index_entries (
	tbl TEXT NOT NULL,
	idx TEXT NOT NULL,
	enc_key BLOB NOT NULL,
	doc_id TEXT NOT NULL,
	PRIMARY KEY (tbl, idx, enc_key)
);
CREATE INDEX IF NOT EXISTS index_entries_doc ON index_entries (tbl, doc_id);
`

// Store is a table store persisted in a SQLite database
type Store struct {
	db *sql.DB

	// writeMu serializes writers; SQLite allows one at a time anyway
	writeMu sync.Mutex

	mu      sync.RWMutex
	schemas map[string]store.TableSchema
	closed  bool

	clock  *store.Clock
	newID  func() string
	logger log.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator replaces the uuid generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		schemas: make(map[string]store.TableSchema),
		clock:   store.NewClock(),
		newID:   uuid.NewString,
		logger:  log.GetDefaultLogger().WithField("component", "sqlite-store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the catalog and loads existing table schemas
func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, schema FROM tables`)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return err
		}
		var schema store.TableSchema
		if err := json.Unmarshal([]byte(raw), &schema); err != nil {
			return fmt.Errorf("corrupt schema for table %s: %w", name, err)
		}
		s.schemas[name] = schema
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var maxTime sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(creation_time) FROM documents`).Scan(&maxTime); err != nil {
		return err
	}
	if maxTime.Valid {
		s.clock.Observe(maxTime.Float64)
	}

	s.logger.Debug("opened sqlite store with %d tables", len(s.schemas))
	return nil
}

// CreateTable records the schema in the catalog
func (s *Store) CreateTable(ctx context.Context, schema store.TableSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	if _, ok := s.schemas[schema.Name]; ok {
		return fmt.Errorf("%w: %s", store.ErrTableExists, schema.Name)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO tables (name, schema) VALUES (?, ?)`, schema.Name, string(raw)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", schema.Name, err)
	}
	s.schemas[schema.Name] = schema
	return nil
}

// IndexFields returns the comparison fields of an index
func (s *Store) IndexFields(ctx context.Context, table, indexName string) ([]string, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	return schema.IndexFields(indexName)
}

// Get loads one document
func (s *Store) Get(ctx context.Context, table, id string) (*store.Document, error) {
	if _, err := s.schema(table); err != nil {
		return nil, err
	}

	var creationTime float64
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT creation_time, body FROM documents WHERE tbl = ? AND id = ?`, table, id,
	).Scan(&creationTime, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, table)
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(id, creationTime, body)
}

// Scan selects one chunk of index entries joined with their documents
func (s *Store) Scan(ctx context.Context, req store.ScanRequest, after []byte, limit int) (*store.ScanPage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("scan limit must be positive, got %d", limit)
	}
	if _, err := s.IndexFields(ctx, req.Table, req.Index); err != nil {
		return nil, err
	}

	var where []string
	args := []any{req.Table, req.Index}
	if start := req.Bounds.Start(); start != nil {
		where = append(where, "e.enc_key >= ?")
		args = append(args, start)
	}
	if end := req.Bounds.End(); end != nil {
		where = append(where, "e.enc_key < ?")
		args = append(args, end)
	}
	order := "ASC"
	if after != nil {
		if req.Direction == index.Desc {
			where = append(where, "e.enc_key < ?")
		} else {
			where = append(where, "e.enc_key > ?")
		}
		args = append(args, after)
	}
	if req.Direction == index.Desc {
		order = "DESC"
	}

	query := `SELECT e.enc_key, d.id, d.creation_time, d.body
		FROM index_entries e JOIN documents d ON d.tbl = e.tbl AND d.id = e.doc_id
		WHERE e.tbl = ? AND e.idx = ?`
	for _, cond := range where {
		query += " AND " + cond
	}
	// One extra row tells whether the range continues
	query += fmt.Sprintf(" ORDER BY e.enc_key %s LIMIT ?", order)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapClosed(fmt.Errorf("scan %s.%s: %w", req.Table, req.Index, err))
	}
	defer rows.Close()

	page := &store.ScanPage{Cursor: after, Done: true}
	for rows.Next() {
		if len(page.Rows) == limit {
			page.Done = false
			break
		}
		var (
			rawKey       []byte
			id           string
			creationTime float64
			body         []byte
		)
		if err := rows.Scan(&rawKey, &id, &creationTime, &body); err != nil {
			return nil, err
		}
		key, err := index.DecodeKey(rawKey)
		if err != nil {
			return nil, err
		}
		doc, err := decodeDocument(id, creationTime, body)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, store.Row{Doc: doc, Key: key})
		page.Cursor = rawKey
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page, nil
}

// Insert writes the document row and one entry per index in a transaction
func (s *Store) Insert(ctx context.Context, table string, fields map[string]any) (string, error) {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return "", err
	}
	schema, err := s.schema(table)
	if err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := &store.Document{ID: s.newID(), CreationTime: s.clock.Next(), Fields: fields}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		body := encodeFields(doc.Fields)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (tbl, id, creation_time, body) VALUES (?, ?, ?, ?)`,
			table, doc.ID, doc.CreationTime, body,
		); err != nil {
			return err
		}
		return insertEntries(ctx, tx, schema, doc)
	})
	if err != nil {
		return "", s.wrapClosed(fmt.Errorf("insert into %s: %w", table, err))
	}
	return doc.ID, nil
}

// Patch merges fields into a document
func (s *Store) Patch(ctx context.Context, table, id string, fields map[string]any) error {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return err
	}
	return s.update(ctx, table, id, func(doc *store.Document) *store.Document {
		return store.ApplyPatch(doc, fields)
	})
}

// Replace swaps the user fields of a document
func (s *Store) Replace(ctx context.Context, table, id string, fields map[string]any) error {
	fields, err := store.NormalizeFields(fields)
	if err != nil {
		return err
	}
	return s.update(ctx, table, id, func(doc *store.Document) *store.Document {
		return &store.Document{ID: doc.ID, CreationTime: doc.CreationTime, Fields: fields}
	})
}

// Delete removes the document and its index entries
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := s.schema(table); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE tbl = ? AND id = ?`, table, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, table)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM index_entries WHERE tbl = ? AND doc_id = ?`, table, id)
		return err
	})
	return s.wrapClosed(err)
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) update(ctx context.Context, table, id string, fn func(*store.Document) *store.Document) error {
	schema, err := s.schema(table)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var creationTime float64
		var body []byte
		err := tx.QueryRowContext(ctx,
			`SELECT creation_time, body FROM documents WHERE tbl = ? AND id = ?`, table, id,
		).Scan(&creationTime, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s in %s", store.ErrDocumentNotFound, id, table)
		}
		if err != nil {
			return err
		}
		old, err := decodeDocument(id, creationTime, body)
		if err != nil {
			return err
		}

		next := fn(old)
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ? WHERE tbl = ? AND id = ?`,
			encodeFields(next.Fields), table, id,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE tbl = ? AND doc_id = ?`, table, id); err != nil {
			return err
		}
		return insertEntries(ctx, tx, schema, next)
	})
	return s.wrapClosed(err)
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) schema(table string) (store.TableSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.TableSchema{}, store.ErrStoreClosed
	}
	schema, ok := s.schemas[table]
	if !ok {
		return store.TableSchema{}, fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	return schema, nil
}

// wrapClosed maps database errors caused by a concurrent Close to ErrStoreClosed
func (s *Store) wrapClosed(err error) error {
	if err == nil {
		return nil
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %v", store.ErrStoreClosed, err)
	}
	return err
}

func insertEntries(ctx context.Context, tx *sql.Tx, schema store.TableSchema, doc *store.Document) error {
	for _, idx := range schema.AllIndexes() {
		fields, err := schema.IndexFields(idx.Name)
		if err != nil {
			return err
		}
		key, err := doc.Key(fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_entries (tbl, idx, enc_key, doc_id) VALUES (?, ?, ?, ?)`,
			schema.Name, idx.Name, index.EncodeKey(key), doc.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

// bodyFormat prefixes every stored document body
const bodyFormat byte = 0x01

// encodeFields stores a document body as an encoded key of alternating field
// names and values, sorted by name, so values keep their exact types.
func encodeFields(fields map[string]any) []byte {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	flat := make(index.Key, 0, 2*len(names))
	for _, name := range names {
		flat = append(flat, name, fields[name])
	}
	return append([]byte{bodyFormat}, index.EncodeKey(flat)...)
}

func decodeDocument(id string, creationTime float64, body []byte) (*store.Document, error) {
	if len(body) == 0 || body[0] != bodyFormat {
		return nil, fmt.Errorf("document %s: %w: unknown body format", id, index.ErrCorruptKey)
	}
	flat, err := index.DecodeKey(body[1:])
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("document %s: %w: odd field list", id, index.ErrCorruptKey)
	}

	fields := make(map[string]any, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		name, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("document %s: %w: field name is %T", id, index.ErrCorruptKey, flat[i])
		}
		fields[name] = flat[i+1]
	}
	return &store.Document{ID: id, CreationTime: creationTime, Fields: fields}, nil
}

var _ store.Store = (*Store)(nil)
