package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is returned for malformed collection or document paths.
var ErrInvalidPath = errors.New("docstore: invalid path")

// splitPath splits a slash-delimited path into NFC-normalized segments, so
// that the same key typed in composed or decomposed form names the same
// document.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if err := checkSegment(seg); err != nil {
			return nil, fmt.Errorf("%w in %q", err, path)
		}
		segs[i] = norm.NFC.String(seg)
	}
	return segs, nil
}

func checkSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	case seg == "." || seg == "..":
		return fmt.Errorf("%w: segment %q", ErrInvalidPath, seg)
	case strings.HasPrefix(seg, "__") && strings.HasSuffix(seg, "__"):
		return fmt.Errorf("%w: reserved segment %q", ErrInvalidPath, seg)
	}
	return nil
}

// CollectionRef refers to a collection, which need not contain documents.
type CollectionRef struct {
	store *Store
	segs  []string
	err   error
}

// ID returns the last segment of the collection path.
func (c *CollectionRef) ID() string {
	if len(c.segs) == 0 {
		return ""
	}
	return c.segs[len(c.segs)-1]
}

// Path returns the full slash-delimited path.
func (c *CollectionRef) Path() string { return strings.Join(c.segs, "/") }

// Parent returns the document containing this collection, or nil for a
// top-level collection.
func (c *CollectionRef) Parent() *DocRef {
	if len(c.segs) < 3 {
		return nil
	}
	n := len(c.segs)
	return &DocRef{parent: &CollectionRef{store: c.store, segs: c.segs[:n-2]}, id: c.segs[n-2]}
}

// Doc returns a reference to the document id in this collection.
func (c *CollectionRef) Doc(id string) *DocRef {
	d := &DocRef{parent: c, id: norm.NFC.String(id)}
	if c.err == nil && (strings.Contains(id, "/") || checkSegment(id) != nil) {
		d.err = fmt.Errorf("%w: document id %q", ErrInvalidPath, id)
	}
	return d
}

// NewDoc returns a reference to a document with a fresh, time-ordered id.
func (c *CollectionRef) NewDoc() *DocRef {
	return c.Doc(uuid.Must(uuid.NewV7()).String())
}

// Add stores data in a new document and returns its reference.
func (c *CollectionRef) Add(ctx context.Context, data any) (*DocRef, error) {
	ref := c.NewDoc()
	if err := ref.Set(ctx, data); err != nil {
		return nil, err
	}
	return ref, nil
}

// Query returns a query over every document of the collection.
func (c *CollectionRef) Query() *Query {
	return &Query{store: c.store, collection: c.Path(), err: c.err}
}

// Where is shorthand for Query().Where.
func (c *CollectionRef) Where(field string, op Op, value any) *Query {
	return c.Query().Where(field, op, value)
}

// OrderBy is shorthand for Query().OrderBy.
func (c *CollectionRef) OrderBy(field string, dir Direction) *Query {
	return c.Query().OrderBy(field, dir)
}

// Limit is shorthand for Query().Limit.
func (c *CollectionRef) Limit(n int) *Query {
	return c.Query().Limit(n)
}

// Get returns every document of the collection ordered by id.
func (c *CollectionRef) Get(ctx context.Context) ([]*Snapshot, error) {
	return c.Query().Get(ctx)
}

// DocRef refers to a document, which may or may not exist.
type DocRef struct {
	parent *CollectionRef
	id     string
	err    error
}

// ID returns the document id.
func (d *DocRef) ID() string { return d.id }

// Path returns the full slash-delimited path.
func (d *DocRef) Path() string {
	if len(d.parent.segs) == 0 {
		return d.id
	}
	return d.parent.Path() + "/" + d.id
}

// Parent returns the collection containing the document.
func (d *DocRef) Parent() *CollectionRef { return d.parent }

// Collection returns a reference to a subcollection of the document.
func (d *DocRef) Collection(id string) *CollectionRef {
	c := &CollectionRef{store: d.parent.store, err: d.valid()}
	if c.err != nil {
		return c
	}
	if strings.Contains(id, "/") || checkSegment(id) != nil {
		c.err = fmt.Errorf("%w: collection id %q", ErrInvalidPath, id)
		return c
	}
	c.segs = append(append([]string{}, d.parent.segs...), d.id, norm.NFC.String(id))
	return c
}

func (d *DocRef) valid() error {
	if d.parent.err != nil {
		return d.parent.err
	}
	return d.err
}

// Get reads the document. A missing document yields a snapshot with Exists
// false and no error.
func (d *DocRef) Get(ctx context.Context) (*Snapshot, error) {
	if err := d.valid(); err != nil {
		return nil, err
	}
	s := d.parent.store
	r, err := s.readOne(ctx, s.db, d.parent.Path(), d.id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(d, r)
}

// Set replaces the document with data, a map or a struct.
func (d *DocRef) Set(ctx context.Context, data any) error {
	fields, err := d.fields(data)
	if err != nil {
		return err
	}
	return d.parent.store.mutate(ctx, d, func(map[string]any) (map[string]any, error) {
		return fields, nil
	})
}

// Merge deep-merges data into the document, creating it if needed. Nested
// maps are merged key by key; other values replace what was there.
func (d *DocRef) Merge(ctx context.Context, data any) error {
	fields, err := d.fields(data)
	if err != nil {
		return err
	}
	return d.parent.store.mutate(ctx, d, func(old map[string]any) (map[string]any, error) {
		return mergeFields(old, fields), nil
	})
}

// Delete removes the document. Deleting a missing document is not an error.
// Subcollections are left in place.
func (d *DocRef) Delete(ctx context.Context) error {
	return d.parent.store.mutate(ctx, d, func(map[string]any) (map[string]any, error) {
		return nil, nil
	})
}

// fields converts data to a field map with rich values preserved.
func (d *DocRef) fields(data any) (map[string]any, error) {
	s := d.parent.store
	raw, err := s.codec.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", d.Path(), err)
	}
	v, err := s.codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", d.Path(), err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("docstore: document data must be an object, got %T", data)
	}
	return m, nil
}

func mergeFields(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		prev, prevOK := out[k].(map[string]any)
		if ok && prevOK {
			out[k] = mergeFields(prev, sub)
			continue
		}
		out[k] = v
	}
	return out
}
