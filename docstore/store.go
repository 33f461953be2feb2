// Package docstore is a hierarchical document store on SQLite. Documents
// live in collections addressed by slash-delimited paths, hold field maps
// that may contain timestamps, geographic points and dates, and can be
// queried with simple filters. Write listeners play the role of database
// triggers.
package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LukasParke/callkit/serializer"
)

//go:embed schema.sql
var schemaSQL string

// Store is a document database backed by a single SQLite file.
type Store struct {
	db     *sql.DB
	codec  *serializer.Codec
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners map[int]*listener
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for listener failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCodec sets the serializer used for document data.
func WithCodec(c *serializer.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithClock overrides the clock used for create and update times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		codec:     serializer.Default(),
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]*listener),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Codec returns the serializer used for document data.
func (s *Store) Codec() *serializer.Codec { return s.codec }

// Collection returns a reference to the collection at path. Collection
// paths have an odd number of segments: "users", "users/u1/orders".
func (s *Store) Collection(path string) *CollectionRef {
	segs, err := splitPath(path)
	if err == nil && len(segs)%2 == 0 {
		err = fmt.Errorf("%w: %q names a document", ErrInvalidPath, path)
	}
	return &CollectionRef{store: s, segs: segs, err: err}
}

// Doc returns a reference to the document at path. Document paths have an
// even number of segments: "users/u1".
func (s *Store) Doc(path string) *DocRef {
	segs, err := splitPath(path)
	if err == nil && len(segs)%2 == 1 {
		err = fmt.Errorf("%w: %q names a collection", ErrInvalidPath, path)
	}
	if err != nil {
		return &DocRef{parent: &CollectionRef{store: s, err: err}}
	}
	n := len(segs)
	return &DocRef{parent: &CollectionRef{store: s, segs: segs[:n-1]}, id: segs[n-1]}
}

// CollectionGroup returns a query over every collection whose last path
// segment is id, at any depth.
func (s *Store) CollectionGroup(id string) *Query {
	segs, err := splitPath(id)
	if err == nil && len(segs) != 1 {
		err = fmt.Errorf("%w: collection group %q", ErrInvalidPath, id)
	}
	q := &Query{store: s, err: err, group: true}
	if err == nil {
		q.collection = segs[0]
	}
	return q
}

type row struct {
	collection string
	id         string
	data       string
	seq        int64
	created    int64
	updated    int64
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readOne(ctx context.Context, q querier, collection, id string) (*row, error) {
	r := &row{collection: collection, id: id}
	err := q.QueryRowContext(ctx,
		`SELECT data, seq, create_time, update_time FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&r.data, &r.seq, &r.created, &r.updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	return r, nil
}

func (s *Store) readCollection(ctx context.Context, collection string, group bool) ([]*row, error) {
	query := `SELECT collection, id, data, seq, create_time, update_time FROM documents WHERE collection = ?1 ORDER BY collection, id`
	if group {
		query = `SELECT collection, id, data, seq, create_time, update_time FROM documents
			WHERE collection = ?1
			   OR (length(collection) > length(?1) AND substr(collection, -length(?1) - 1) = '/' || ?1)
			ORDER BY collection, id`
	}
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*row
	for rows.Next() {
		r := &row{}
		if err := rows.Scan(&r.collection, &r.id, &r.data, &r.seq, &r.created, &r.updated); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) snapshot(ref *DocRef, r *row) (*Snapshot, error) {
	if r == nil {
		return &Snapshot{Ref: ref}, nil
	}
	v, err := s.codec.Parse([]byte(r.data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ref.Path(), err)
	}
	data, _ := v.(map[string]any)
	return &Snapshot{
		Ref:        ref,
		Exists:     true,
		Version:    r.seq,
		CreateTime: time.Unix(0, r.created).UTC(),
		UpdateTime: time.Unix(0, r.updated).UTC(),
		data:       data,
	}, nil
}

// mutate runs one document write in a transaction and notifies listeners
// after it commits. fn receives the current data, nil when the document
// does not exist, and returns the new data, nil to delete.
func (s *Store) mutate(ctx context.Context, ref *DocRef, fn func(old map[string]any) (map[string]any, error)) error {
	if err := ref.valid(); err != nil {
		return err
	}
	collection := ref.parent.Path()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning write of %s: %w", ref.Path(), err)
	}
	defer tx.Rollback()

	prev, err := s.readOne(ctx, tx, collection, ref.id)
	if err != nil {
		return err
	}
	before, err := s.snapshot(ref, prev)
	if err != nil {
		return err
	}

	next, err := fn(before.Data())
	if err != nil {
		return err
	}

	var after *Snapshot
	if next == nil {
		if prev == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, ref.id); err != nil {
			return fmt.Errorf("deleting %s: %w", ref.Path(), err)
		}
		after = &Snapshot{Ref: ref}
	} else {
		data, err := s.codec.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", ref.Path(), err)
		}
		now := s.now().UnixNano()
		r := &row{collection: collection, id: ref.id, data: string(data), seq: 1, created: now, updated: now}
		if prev != nil {
			r.seq = prev.seq + 1
			r.created = prev.created
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data, seq, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, seq = excluded.seq, update_time = excluded.update_time`,
			r.collection, r.id, r.data, r.seq, r.created, r.updated,
		)
		if err != nil {
			return fmt.Errorf("writing %s: %w", ref.Path(), err)
		}
		if after, err = s.snapshot(ref, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", ref.Path(), err)
	}
	s.notify(ctx, Change{Before: before, After: after})
	return nil
}
