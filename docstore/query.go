package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidQuery is returned by Get for queries built with bad arguments.
var ErrInvalidQuery = errors.New("docstore: invalid query")

// Op is a filter operator.
type Op string

const (
	OpEqual          Op = "=="
	OpNotEqual       Op = "!="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpArrayContains  Op = "array-contains"
	OpIn             Op = "in"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type filter struct {
	field string
	op    Op
	value any
}

type order struct {
	field string
	dir   Direction
}

// Query selects documents from a collection or collection group. Queries
// are immutable; every builder method returns a new Query.
type Query struct {
	store      *Store
	collection string
	group      bool
	filters    []filter
	orders     []order
	limit      int
	err        error
}

func (q *Query) clone() *Query {
	c := *q
	c.filters = slices.Clone(q.filters)
	c.orders = slices.Clone(q.orders)
	return &c
}

// Where adds a filter on a dotted field path. Range operators only match
// values of the same kind as value. Documents missing the field never
// match, including for !=.
func (q *Query) Where(field string, op Op, value any) *Query {
	c := q.clone()
	if c.err != nil {
		return c
	}
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpArrayContains, OpIn:
	default:
		c.err = fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, op)
		return c
	}
	if field == "" {
		c.err = fmt.Errorf("%w: empty field path", ErrInvalidQuery)
		return c
	}
	v, err := q.normalize(value)
	if err != nil {
		c.err = fmt.Errorf("%w: filter value for %s: %v", ErrInvalidQuery, field, err)
		return c
	}
	if _, ok := v.([]any); op == OpIn && !ok {
		c.err = fmt.Errorf("%w: %q needs an array value", ErrInvalidQuery, OpIn)
		return c
	}
	c.filters = append(c.filters, filter{field: field, op: op, value: v})
	return c
}

// OrderBy sorts results by a dotted field path. Documents missing the field
// are excluded. Ties fall back to later orderings, then document path.
func (q *Query) OrderBy(field string, dir Direction) *Query {
	c := q.clone()
	if dir == "" {
		dir = Asc
	}
	if dir != Asc && dir != Desc && c.err == nil {
		c.err = fmt.Errorf("%w: unsupported direction %q", ErrInvalidQuery, dir)
	}
	c.orders = append(c.orders, order{field: field, dir: dir})
	return c
}

// Limit caps the number of results. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	if n < 0 && c.err == nil {
		c.err = fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, n)
	}
	c.limit = n
	return c
}

// normalize brings a filter value into the form stored documents are read
// back in, so that an int compares to a stored float64.
func (q *Query) normalize(v any) (any, error) {
	raw, err := q.store.codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return q.store.codec.Parse(raw)
}

// Get runs the query.
func (q *Query) Get(ctx context.Context) ([]*Snapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	rows, err := q.store.readCollection(ctx, q.collection, q.group)
	if err != nil {
		return nil, err
	}

	var out []*Snapshot
	for _, r := range rows {
		ref := q.store.Doc(r.collection + "/" + r.id)
		snap, err := q.store.snapshot(ref, r)
		if err != nil {
			return nil, err
		}
		if q.matches(snap) {
			out = append(out, snap)
		}
	}

	if len(q.orders) > 0 {
		slices.SortStableFunc(out, func(a, b *Snapshot) int {
			for _, o := range q.orders {
				va, _ := lookup(a.data, o.field)
				vb, _ := lookup(b.data, o.field)
				c := compare(va, vb)
				if o.dir == Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return strings.Compare(a.Ref.Path(), b.Ref.Path())
		})
	}
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out, nil
}

func (q *Query) matches(s *Snapshot) bool {
	for _, o := range q.orders {
		if _, ok := lookup(s.data, o.field); !ok {
			return false
		}
	}
	for _, f := range q.filters {
		v, ok := lookup(s.data, f.field)
		if !ok || !f.match(v) {
			return false
		}
	}
	return true
}

func (f filter) match(v any) bool {
	switch f.op {
	case OpEqual:
		return Equal(v, f.value)
	case OpNotEqual:
		return !Equal(v, f.value)
	case OpArrayContains:
		list, ok := v.([]any)
		return ok && slices.ContainsFunc(list, func(e any) bool { return Equal(e, f.value) })
	case OpIn:
		return slices.ContainsFunc(f.value.([]any), func(e any) bool { return Equal(v, e) })
	}
	if rank(v) != rank(f.value) {
		return false
	}
	c := compare(v, f.value)
	switch f.op {
	case OpLess:
		return c < 0
	case OpLessOrEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterOrEqual:
		return c >= 0
	}
	return false
}
