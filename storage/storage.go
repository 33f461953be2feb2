// Package storage builds Firebase Storage download URLs for objects in a
// bucket, minting the download token on first use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// TokenKey is the custom metadata key holding download tokens.
	TokenKey = "firebaseStorageDownloadTokens"
	// DefaultOrigin serves download URLs outside the emulator.
	DefaultOrigin = "https://firebasestorage.googleapis.com"
)

// ErrNotFound is returned for objects that do not exist.
var ErrNotFound = errors.New("storage: object not found")

// File is an object in a bucket with custom metadata.
type File interface {
	Bucket() string
	Name() string
	Metadata(ctx context.Context) (map[string]string, error)
	// SetMetadata merges md into the object's custom metadata.
	SetMetadata(ctx context.Context, md map[string]string) error
}

// DownloadURL returns a public download URL for f. The first existing
// download token is reused; when there is none a new one is stored on the
// object. With emulatorHost set the URL points at the emulator over plain
// HTTP.
func DownloadURL(ctx context.Context, f File, emulatorHost string) (string, error) {
	md, err := f.Metadata(ctx)
	if err != nil {
		return "", fmt.Errorf("reading metadata of %s: %w", f.Name(), err)
	}
	token, _, _ := strings.Cut(md[TokenKey], ",")
	token = strings.TrimSpace(token)
	if token == "" {
		token = uuid.NewString()
		if err := f.SetMetadata(ctx, map[string]string{TokenKey: token}); err != nil {
			return "", fmt.Errorf("storing download token of %s: %w", f.Name(), err)
		}
	}

	origin := DefaultOrigin
	if emulatorHost != "" {
		origin = "http://" + emulatorHost
	}
	return fmt.Sprintf("%s/v0/b/%s/o/%s?alt=media&token=%s",
		origin, f.Bucket(), escapeComponent(f.Name()), url.QueryEscape(token)), nil
}

var componentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent escapes s like JavaScript's encodeURIComponent, which is
// what the download endpoint expects for object names.
func escapeComponent(s string) string {
	return componentUnescapes.Replace(url.QueryEscape(s))
}
