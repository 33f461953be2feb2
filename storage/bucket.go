package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/LukasParke/callkit/docstore"
)

// Bucket keeps object metadata in a document store, one document per
// object under buckets/<name>/objects.
type Bucket struct {
	name    string
	objects *docstore.CollectionRef
}

// NewBucket returns the bucket name backed by store.
func NewBucket(store *docstore.Store, name string) *Bucket {
	return &Bucket{
		name:    name,
		objects: store.Collection("buckets").Doc(name).Collection("objects"),
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Object returns a handle to the object name. The object need not exist.
func (b *Bucket) Object(name string) *Object {
	return &Object{bucket: b, name: name}
}

// Put records an object with the given metadata, replacing any previous
// record.
func (b *Bucket) Put(ctx context.Context, name, contentType string, md map[string]string) (*Object, error) {
	o := b.Object(name)
	if md == nil {
		md = map[string]string{}
	}
	err := o.ref().Set(ctx, map[string]any{
		"name":        name,
		"contentType": contentType,
		"metadata":    md,
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Object is an object record in a Bucket.
type Object struct {
	bucket *Bucket
	name   string
}

// Bucket returns the bucket name.
func (o *Object) Bucket() string { return o.bucket.name }

// Name returns the object name.
func (o *Object) Name() string { return o.name }

func (o *Object) ref() *docstore.DocRef {
	return o.bucket.objects.Doc(url.PathEscape(o.name))
}

type record struct {
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

func (o *Object) read(ctx context.Context) (*record, error) {
	snap, err := o.ref().Get(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, o.bucket.name, o.name)
	}
	var r record
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ContentType returns the recorded content type.
func (o *Object) ContentType(ctx context.Context) (string, error) {
	r, err := o.read(ctx)
	if err != nil {
		return "", err
	}
	return r.ContentType, nil
}

// Metadata returns the custom metadata of the object.
func (o *Object) Metadata(ctx context.Context) (map[string]string, error) {
	r, err := o.read(ctx)
	if err != nil {
		return nil, err
	}
	if r.Metadata == nil {
		r.Metadata = map[string]string{}
	}
	return r.Metadata, nil
}

// SetMetadata merges md into the custom metadata of an existing object.
func (o *Object) SetMetadata(ctx context.Context, md map[string]string) error {
	if _, err := o.read(ctx); err != nil {
		return err
	}
	return o.ref().Merge(ctx, map[string]any{"metadata": md})
}
