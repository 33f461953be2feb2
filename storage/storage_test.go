package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasParke/callkit/docstore"
)

type memFile struct {
	bucket, name string
	md           map[string]string
	sets         int
	setErr       error
}

func (f *memFile) Bucket() string { return f.bucket }
func (f *memFile) Name() string   { return f.name }

func (f *memFile) Metadata(context.Context) (map[string]string, error) {
	return f.md, nil
}

func (f *memFile) SetMetadata(_ context.Context, md map[string]string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	for k, v := range md {
		f.md[k] = v
	}
	return nil
}

func TestDownloadURL(t *testing.T) {
	ctx := context.Background()

	f := &memFile{bucket: "demo.appspot.com", name: "avatars/ann smith.png", md: map[string]string{TokenKey: "tok-1,tok-2"}}
	u, err := DownloadURL(ctx, f, "")
	require.NoError(t, err)
	assert.Equal(t, "https://firebasestorage.googleapis.com/v0/b/demo.appspot.com/o/avatars%2Fann%20smith.png?alt=media&token=tok-1", u)
	assert.Zero(t, f.sets)

	u, err = DownloadURL(ctx, f, "localhost:9199")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9199/v0/b/demo.appspot.com/o/avatars%2Fann%20smith.png?alt=media&token=tok-1", u)
}

func TestDownloadURLMintsTokenOnce(t *testing.T) {
	ctx := context.Background()
	f := &memFile{bucket: "b", name: "x", md: map[string]string{}}

	first, err := DownloadURL(ctx, f, "")
	require.NoError(t, err)
	assert.Len(t, f.md[TokenKey], 36)
	assert.Contains(t, first, "token="+f.md[TokenKey])

	second, err := DownloadURL(ctx, f, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.sets)

	f = &memFile{bucket: "b", name: "x", md: map[string]string{}, setErr: errors.New("read only")}
	_, err = DownloadURL(ctx, f, "")
	assert.ErrorContains(t, err, "read only")
}

func TestEscapeComponent(t *testing.T) {
	tests := map[string]string{
		"plain.txt":      "plain.txt",
		"a/b c":          "a%2Fb%20c",
		"it's (1)*!~":    "it's%20(1)*!~",
		"q?x=1&y=2#frag": "q%3Fx%3D1%26y%3D2%23frag",
		"ünïcode":        "%C3%BCn%C3%AFcode",
		"plus+sign":      "plus%2Bsign",
	}
	for in, want := range tests {
		assert.Equal(t, want, escapeComponent(in), in)
	}
}

func TestBucket(t *testing.T) {
	ctx := context.Background()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bucket := NewBucket(store, "demo.appspot.com")
	obj, err := bucket.Put(ctx, "docs/report.pdf", "application/pdf", map[string]string{"owner": "ann"})
	require.NoError(t, err)

	u, err := DownloadURL(ctx, obj, "")
	require.NoError(t, err)
	md, err := obj.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann", md["owner"])
	assert.Equal(t, DefaultOrigin+"/v0/b/demo.appspot.com/o/docs%2Freport.pdf?alt=media&token="+md[TokenKey], u)

	again, err := DownloadURL(ctx, bucket.Object("docs/report.pdf"), "")
	require.NoError(t, err)
	assert.Equal(t, u, again)

	ct, err := obj.ContentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ct)

	_, err = DownloadURL(ctx, bucket.Object("missing"), "")
	assert.ErrorIs(t, err, ErrNotFound)
}
