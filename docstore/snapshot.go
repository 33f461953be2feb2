package docstore

import (
	"context"
	"strings"
	"time"

	"github.com/LukasParke/callkit/serializer"
)

// Snapshot is the state of a document at the time it was read.
type Snapshot struct {
	Ref    *DocRef
	Exists bool
	// Version counts writes to the document, starting at 1.
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time

	data map[string]any
}

// ID returns the document id.
func (s *Snapshot) ID() string { return s.Ref.ID() }

// Data returns the document fields, or nil when the document does not
// exist. The map is shared with the snapshot.
func (s *Snapshot) Data() map[string]any {
	if s == nil || !s.Exists {
		return nil
	}
	return s.data
}

// Get returns the value at a dotted field path, or nil.
func (s *Snapshot) Get(field string) any {
	v, _ := lookup(s.Data(), field)
	return v
}

// DataTo decodes the document fields into dst.
func (s *Snapshot) DataTo(dst any) error {
	return serializer.Decode(s.Data(), dst)
}

// lookup resolves a dotted field path in data.
func lookup(data map[string]any, field string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// withID returns the document fields with the document id merged in under
// "id". A field named id in the data wins.
func withID(s *Snapshot) map[string]any {
	out := make(map[string]any, len(s.data)+1)
	out["id"] = s.ID()
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// DocData reads ref and returns its fields with the id merged in, or nil
// when the document does not exist.
func DocData(ctx context.Context, ref *DocRef) (map[string]any, error) {
	snap, err := ref.Get(ctx)
	if err != nil || !snap.Exists {
		return nil, err
	}
	return withID(snap), nil
}

// QueryData runs q and returns the fields of each result with its id merged
// in.
func QueryData(ctx context.Context, q *Query) ([]map[string]any, error) {
	snaps, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(snaps))
	for i, s := range snaps {
		out[i] = withID(s)
	}
	return out, nil
}
