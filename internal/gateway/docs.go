package gateway

import (
	"net/http"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/docstore"
)

func (g *Gateway) docGet(c *callkit.Context, args callkit.Args) (any, error) {
	path, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}
	data, err := docstore.DocData(c, g.store.Doc(path))
	if err != nil {
		return nil, badRequest(err)
	}
	if data == nil {
		return nil, nil
	}
	return data, nil
}

func (g *Gateway) docWrite(c *callkit.Context, args callkit.Args, merge bool) (any, error) {
	path, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}
	data, ok := args.At(1).(map[string]any)
	if !ok {
		return nil, callkit.NewError(http.StatusBadRequest, "argument 1 must be an object", nil)
	}
	ref := g.store.Doc(path)
	if merge {
		err = ref.Merge(c, data)
	} else {
		err = ref.Set(c, data)
	}
	if err != nil {
		return nil, badRequest(err)
	}
	return nil, nil
}

func (g *Gateway) docSet(c *callkit.Context, args callkit.Args) (any, error) {
	return g.docWrite(c, args, false)
}

func (g *Gateway) docMerge(c *callkit.Context, args callkit.Args) (any, error) {
	return g.docWrite(c, args, true)
}

func (g *Gateway) docDelete(c *callkit.Context, args callkit.Args) (any, error) {
	path, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}
	return nil, badRequest(g.store.Doc(path).Delete(c))
}

// QuerySpec is the argument of docs.query.
type QuerySpec struct {
	Collection string       `json:"collection"`
	Group      bool         `json:"group"`
	Where      []FilterSpec `json:"where"`
	OrderBy    []OrderSpec  `json:"orderBy"`
	Limit      int          `json:"limit"`
}

// FilterSpec is one docs.query filter.
type FilterSpec struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// OrderSpec is one docs.query ordering.
type OrderSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

func (g *Gateway) docQuery(c *callkit.Context, args callkit.Args) (any, error) {
	var spec QuerySpec
	if err := args.Decode(0, &spec); err != nil {
		return nil, err
	}
	if spec.Collection == "" {
		return nil, callkit.NewError(http.StatusBadRequest, "collection is required", nil)
	}

	var q *docstore.Query
	if spec.Group {
		q = g.store.CollectionGroup(spec.Collection)
	} else {
		q = g.store.Collection(spec.Collection).Query()
	}
	for _, f := range spec.Where {
		// The store codec may revive tags beyond the built-in ones.
		v, err := g.store.Codec().Revive(f.Value)
		if err != nil {
			return nil, &callkit.Error{Status: http.StatusBadRequest, Message: "invalid filter value", Cause: err}
		}
		q = q.Where(f.Field, docstore.Op(f.Op), v)
	}
	for _, o := range spec.OrderBy {
		q = q.OrderBy(o.Field, docstore.Direction(o.Direction))
	}
	if spec.Limit != 0 {
		q = q.Limit(spec.Limit)
	}

	docs, err := docstore.QueryData(c, q)
	if err != nil {
		return nil, badRequest(err)
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return docs, nil
}
