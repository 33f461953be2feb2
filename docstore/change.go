package docstore

import (
	"context"
	"strings"
)

// Change describes one document write. Before and After are never nil;
// Exists tells whether the document existed on that side of the write.
type Change struct {
	Before *Snapshot
	After  *Snapshot
}

// Created reports whether the write created the document.
func (c Change) Created() bool { return !c.Before.Exists && c.After.Exists }

// Deleted reports whether the write deleted the document.
func (c Change) Deleted() bool { return c.Before.Exists && !c.After.Exists }

// Updated reports whether the write modified an existing document.
func (c Change) Updated() bool { return c.Before.Exists && c.After.Exists }

// FieldsEqual reports whether every named field has the same value before
// and after the change.
func FieldsEqual(c Change, fields ...string) bool {
	for _, f := range fields {
		if !Equal(c.Before.Get(f), c.After.Get(f)) {
			return false
		}
	}
	return true
}

// FieldsChanged reports whether any named field differs before and after
// the change.
func FieldsChanged(c Change, fields ...string) bool {
	return !FieldsEqual(c, fields...)
}

// Params holds the wildcard values of a matched document pattern.
type Params map[string]string

// WriteFunc handles a document change.
type WriteFunc func(ctx context.Context, change Change, params Params) error

type listener struct {
	pattern []string
	fn      WriteFunc
}

// OnWrite registers fn for writes to documents matching pattern, such as
// "users/{uid}/orders/{orderId}". Segments in braces match any id and are
// passed to fn by name. Listeners run after the write commits, in the
// writing goroutine; their errors are logged and do not fail the write.
// The returned function removes the listener.
func (s *Store) OnWrite(pattern string, fn WriteFunc) (remove func()) {
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = &listener{pattern: segs, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(ctx context.Context, c Change) {
	path := strings.Split(c.After.Ref.Path(), "/")

	s.mu.RLock()
	var matched []*listener
	var params []Params
	for _, l := range s.listeners {
		if p, ok := l.match(path); ok {
			matched = append(matched, l)
			params = append(params, p)
		}
	}
	s.mu.RUnlock()

	for i, l := range matched {
		if err := l.fn(ctx, c, params[i]); err != nil {
			s.logger.Error("document listener failed", "path", c.After.Ref.Path(), "pattern", strings.Join(l.pattern, "/"), "error", err)
		}
	}
}

func (l *listener) match(path []string) (Params, bool) {
	if len(path) != len(l.pattern) {
		return nil, false
	}
	params := Params{}
	for i, seg := range l.pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[seg[1:len(seg)-1]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}
