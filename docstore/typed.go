package docstore

import (
	"context"
	"fmt"
)

// Typed is a collection whose documents decode into T.
type Typed[T any] struct {
	Ref *CollectionRef
}

// NewTyped returns a typed view of c.
func NewTyped[T any](c *CollectionRef) Typed[T] {
	return Typed[T]{Ref: c}
}

// Get reads document id. The boolean is false when it does not exist.
func (t Typed[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var v T
	snap, err := t.Ref.Doc(id).Get(ctx)
	if err != nil || !snap.Exists {
		return v, false, err
	}
	if err := snap.DataTo(&v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w", snap.Ref.Path(), err)
	}
	return v, true, nil
}

// Set stores v as document id.
func (t Typed[T]) Set(ctx context.Context, id string, v T) error {
	return t.Ref.Doc(id).Set(ctx, v)
}

// Add stores v in a new document and returns its id.
func (t Typed[T]) Add(ctx context.Context, v T) (string, error) {
	ref, err := t.Ref.Add(ctx, v)
	if err != nil {
		return "", err
	}
	return ref.ID(), nil
}

// Delete removes document id.
func (t Typed[T]) Delete(ctx context.Context, id string) error {
	return t.Ref.Doc(id).Delete(ctx)
}

// Query runs q and decodes each result.
func (t Typed[T]) Query(ctx context.Context, q *Query) ([]T, error) {
	snaps, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(snaps))
	for i, s := range snaps {
		if err := s.DataTo(&out[i]); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.Ref.Path(), err)
		}
	}
	return out, nil
}

// All returns every document of the collection.
func (t Typed[T]) All(ctx context.Context) ([]T, error) {
	return t.Query(ctx, t.Ref.Query())
}
