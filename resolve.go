package callkit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a path with a private or unknown segment.
	ErrNotFound = errors.New("callkit: operation not found")
	// ErrNotInvocable reports a path that ends on a group, or continues past
	// an operation.
	ErrNotInvocable = errors.New("callkit: path does not name an operation")
)

// ResolveError describes a failed path resolution. It matches ErrNotFound or
// ErrNotInvocable with errors.Is.
type ResolveError struct {
	Path    string
	Segment string
	Kind    error
}

func (e *ResolveError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%v: %q", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %q at segment %q", e.Kind, e.Path, e.Segment)
}

func (e *ResolveError) Unwrap() error { return e.Kind }

// Resolve walks root along the slash-delimited path and returns the operation
// it names. Empty segments are skipped. Any segment starting with '_' is
// private and fails with ErrNotFound, whether or not it exists.
func Resolve(root Node, path string) (Operation, error) {
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if strings.HasPrefix(seg, "_") {
			return nil, &ResolveError{Path: path, Segment: seg, Kind: ErrNotFound}
		}
	}

	node := root
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		switch n := node.(type) {
		case Group:
			child, ok := n[seg]
			if !ok || child == nil {
				return nil, &ResolveError{Path: path, Segment: seg, Kind: ErrNotFound}
			}
			node = child
		case Operation:
			return nil, &ResolveError{Path: path, Segment: seg, Kind: ErrNotInvocable}
		default:
			return nil, &ResolveError{Path: path, Segment: seg, Kind: ErrNotFound}
		}
	}

	op, ok := node.(Operation)
	if !ok {
		return nil, &ResolveError{Path: path, Kind: ErrNotInvocable}
	}
	if op == nil {
		return nil, &ResolveError{Path: path, Kind: ErrNotFound}
	}
	return op, nil
}

// IsWebhookPath reports whether path uses raw webhook semantics: it ends
// with "Webhook" or "-webhook". A trailing slash still resolves to the same
// operation but opts out of webhook semantics.
func IsWebhookPath(path string) bool {
	return strings.HasSuffix(path, "Webhook") || strings.HasSuffix(path, "-webhook")
}
