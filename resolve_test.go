package callkit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hi(c *Context, args Args) (any, error) { return "hi", nil }

func TestResolve(t *testing.T) {
	registry := Group{
		"a": Group{
			"b":       Operation(hi),
			"_secret": Operation(hi),
			"nested":  Group{"deep": Operation(hi)},
			"broken":  Operation(nil),
		},
	}

	tests := []struct {
		path    string
		wantErr error
		segment string
	}{
		{"a/b", nil, ""},
		{"/a/b", nil, ""},
		{"a//b/", nil, ""},
		{"a/nested/deep", nil, ""},
		{"a/_secret", ErrNotFound, "_secret"},
		{"_a/b", ErrNotFound, "_a"},
		{"a/b/_c", ErrNotFound, "_c"},
		{"a/c", ErrNotFound, "c"},
		{"x", ErrNotFound, "x"},
		{"a/b/c", ErrNotInvocable, "c"},
		{"a", ErrNotInvocable, ""},
		{"a/nested", ErrNotInvocable, ""},
		{"", ErrNotInvocable, ""},
		{"/", ErrNotInvocable, ""},
		{"a/broken", ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			op, err := Resolve(registry, tt.path)
			if tt.wantErr == nil {
				require.NoError(t, err)
				require.NotNil(t, op)
				out, err := op(nil, nil)
				require.NoError(t, err)
				assert.Equal(t, "hi", out)
				return
			}
			assert.Nil(t, op)
			assert.ErrorIs(t, err, tt.wantErr)
			var re *ResolveError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.path, re.Path)
			assert.Equal(t, tt.segment, re.Segment)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	registry := Group{"a": Group{"b": Operation(hi)}}
	for _, path := range []string{"a/b", "a/c", "a/b/c", "a"} {
		_, first := Resolve(registry, path)
		_, second := Resolve(registry, path)
		assert.Equal(t, first, second, path)
	}
	assert.Len(t, registry["a"], 1)
}

func TestIsWebhookPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"sendWebhook", true},
		{"/events/stripeWebhook", true},
		{"events/stripe-webhook", true},
		{"events/stripe-webhook/", false},
		{"/sendWebhook/", false},
		{"events/webhook", false},
		{"webhooks/send", false},
		{"sendWebhooks", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWebhookPath(tt.path))
		})
	}
}

func TestServerCopiesRegistry(t *testing.T) {
	api := Group{"a": Group{"b": Operation(hi)}}
	s := NewServer("test", "0.1.0", api)

	api["a"].(Group)["c"] = Operation(hi)
	delete(api["a"].(Group), "b")
	api["x"] = Operation(hi)

	_, err := s.Resolve("a/b")
	assert.NoError(t, err)
	_, err = s.Resolve("a/c")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Resolve("x")
	assert.ErrorIs(t, err, ErrNotFound)
}

type greeter struct{ greeting string }

func (g *greeter) Hello(c *Context, args Args) (any, error) { return g.greeting, nil }

func (g *greeter) SendWebhook(c *Context, args Args) (any, error) { return args.At(0), nil }

func (g *greeter) Helper(n int) int { return n }

func TestMethods(t *testing.T) {
	g := Methods(&greeter{greeting: "hello"})
	require.Len(t, g, 2)
	assert.Contains(t, g, "hello")
	assert.Contains(t, g, "sendWebhook")

	op, err := Resolve(Group{"greeter": g}, "greeter/hello")
	require.NoError(t, err)
	out, err := op(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	assert.Empty(t, Methods(nil))
}

func TestArgs(t *testing.T) {
	args := Args{"x", float64(2), map[string]any{"name": "desk"}}

	assert.Equal(t, 3, args.Len())
	assert.Equal(t, "x", args.At(0))
	assert.Nil(t, args.At(5))
	assert.Nil(t, args.At(-1))

	var n int
	require.NoError(t, args.Decode(1, &n))
	assert.Equal(t, 2, n)

	var item struct {
		Name string `json:"name"`
	}
	require.NoError(t, args.Decode(2, &item))
	assert.Equal(t, "desk", item.Name)

	err := args.Decode(3, &n)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 400, e.Status)

	err = args.Decode(0, &n)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 400, e.Status)
	assert.Equal(t, "invalid argument 0", e.Message)
}
