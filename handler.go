package callkit

import (
	"fmt"
	"net/http"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/LukasParke/callkit/serializer"
)

// Node is an entry of a handler registry: either a Group or an Operation.
type Node interface {
	node()
}

// Group maps path segment names to further nodes.
type Group map[string]Node

func (Group) node() {}

// Operation is an invocable registry entry. The request-scoped Context is
// passed explicitly; args holds the parsed positional arguments.
type Operation func(c *Context, args Args) (any, error)

func (Operation) node() {}

// Args is the positional argument list of a call, after serializer parsing.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// At returns argument i, or nil when it is missing.
func (a Args) At(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// Decode copies argument i into dst. A missing or mistyped argument is
// reported as a 400 error.
func (a Args) Decode(i int, dst any) error {
	if i < 0 || i >= len(a) {
		return NewError(http.StatusBadRequest, fmt.Sprintf("missing argument %d", i), nil)
	}
	if err := serializer.Decode(a[i], dst); err != nil {
		return &Error{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid argument %d", i),
			Cause:   err,
		}
	}
	return nil
}

// cloneNode copies every Group reachable from n. Operations are shared.
func cloneNode(n Node) Node {
	g, ok := n.(Group)
	if !ok {
		return n
	}
	out := make(Group, len(g))
	for k, child := range g {
		out[k] = cloneNode(child)
	}
	return out
}

var operationType = reflect.TypeFor[Operation]()

// Methods builds a Group from the exported methods of recv whose signature
// matches Operation. Method names are exposed with a lower-case first letter,
// so SendWebhook is reachable as sendWebhook.
func Methods(recv any) Group {
	g := Group{}
	v := reflect.ValueOf(recv)
	if !v.IsValid() {
		return g
	}
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := v.Method(i)
		if !m.Type().ConvertibleTo(operationType) {
			continue
		}
		g[lowerFirst(t.Method(i).Name)] = m.Convert(operationType).Interface().(Operation)
	}
	return g
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
