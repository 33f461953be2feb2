package gateway_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/auth"
	"github.com/LukasParke/callkit/callkittest"
	"github.com/LukasParke/callkit/config"
	"github.com/LukasParke/callkit/docstore"
	"github.com/LukasParke/callkit/internal/gateway"
	"github.com/LukasParke/callkit/pubsub"
	"github.com/LukasParke/callkit/serializer"
)

type fixture struct {
	store  *docstore.Store
	server *callkit.Server
	client *callkit.Client
}

func newFixture(t *testing.T, edit func(*config.Settings)) *fixture {
	t.Helper()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := config.DefaultSettings()
	settings.Bucket = "demo.appspot.com"
	if edit != nil {
		edit(&settings)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := gateway.New(store, &settings, "1.2.3")
	s := g.NewServer(&settings, logger)
	t.Cleanup(g.Watch(s))
	return &fixture{store: store, server: s, client: callkittest.NewClient(t, s)}
}

func TestDocs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	at := serializer.Timestamp{Seconds: 1750000000}

	require.NoError(t, f.client.Call(ctx, "docs/set", nil, "rooms/blue", map[string]any{"seats": 4, "opened": at}))
	require.NoError(t, f.client.Call(ctx, "docs/set", nil, "rooms/red", map[string]any{"seats": 10}))
	require.NoError(t, f.client.Call(ctx, "docs/merge", nil, "rooms/blue", map[string]any{"floor": 2}))

	var doc map[string]any
	require.NoError(t, f.client.Call(ctx, "docs/get", &doc, "rooms/blue"))
	assert.Equal(t, map[string]any{"id": "blue", "seats": float64(4), "floor": float64(2), "opened": at}, doc)

	var missing map[string]any
	require.NoError(t, f.client.Call(ctx, "docs/get", &missing, "rooms/green"))
	assert.Nil(t, missing)

	var rooms []map[string]any
	spec := gateway.QuerySpec{
		Collection: "rooms",
		Where:      []gateway.FilterSpec{{Field: "seats", Op: ">", Value: 5}},
	}
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, spec))
	require.Len(t, rooms, 1)
	assert.Equal(t, "red", rooms[0]["id"])

	spec = gateway.QuerySpec{
		Collection: "rooms",
		Where:      []gateway.FilterSpec{{Field: "opened", Op: "==", Value: at}},
	}
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, spec))
	require.Len(t, rooms, 1)
	assert.Equal(t, "blue", rooms[0]["id"])

	spec = gateway.QuerySpec{Collection: "rooms", OrderBy: []gateway.OrderSpec{{Field: "seats", Direction: "desc"}}, Limit: 1}
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, spec))
	require.Len(t, rooms, 1)
	assert.Equal(t, "red", rooms[0]["id"])

	require.NoError(t, f.client.Call(ctx, "docs/delete", nil, "rooms/red"))
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, gateway.QuerySpec{Collection: "rooms"}))
	assert.Len(t, rooms, 1)
}

func TestDocsDates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	opened := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, f.client.Call(ctx, "docs/set", nil, "rooms/blue", map[string]any{"opened": opened}))
	require.NoError(t, f.client.Call(ctx, "docs/set", nil, "rooms/red", map[string]any{"opened": opened.Add(time.Hour)}))

	var doc map[string]any
	require.NoError(t, f.client.Call(ctx, "docs/get", &doc, "rooms/blue"))
	assert.Equal(t, opened, doc["opened"])

	var rooms []map[string]any
	spec := gateway.QuerySpec{
		Collection: "rooms",
		Where:      []gateway.FilterSpec{{Field: "opened", Op: "==", Value: opened}},
	}
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, spec))
	require.Len(t, rooms, 1)
	assert.Equal(t, "blue", rooms[0]["id"])

	spec.Where[0].Op = ">"
	require.NoError(t, f.client.Call(ctx, "docs/query", &rooms, spec))
	require.Len(t, rooms, 1)
	assert.Equal(t, "red", rooms[0]["id"])
}

func TestDocsErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.client.Call(ctx, "docs/get", nil, "rooms")
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "")

	err = f.client.Call(ctx, "docs/set", nil, "rooms/a", "not an object")
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "argument 1 must be an object")

	err = f.client.Call(ctx, "docs/get", nil)
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "missing argument 0")

	err = f.client.Call(ctx, "docs/query", nil, gateway.QuerySpec{Collection: "rooms", Where: []gateway.FilterSpec{{Field: "x", Op: "like", Value: 1}}})
	e := callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "")
	assert.Contains(t, e.Message, "unsupported operator")

	err = f.client.Call(ctx, "docs/query", nil, gateway.QuerySpec{})
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "collection is required")
}

func TestStorage(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) { s.StorageEmulatorHost = "localhost:9199" })
	ctx := context.Background()

	var put map[string]string
	require.NoError(t, f.client.Call(ctx, "storage/put", &put, map[string]any{"name": "a/b.png", "contentType": "image/png"}))
	assert.Equal(t, map[string]string{"bucket": "demo.appspot.com", "name": "a/b.png"}, put)

	var u string
	require.NoError(t, f.client.Call(ctx, "storage/downloadUrl", &u, "a/b.png"))
	assert.True(t, strings.HasPrefix(u, "http://localhost:9199/v0/b/demo.appspot.com/o/a%2Fb.png?alt=media&token="), u)

	var again string
	require.NoError(t, f.client.Call(ctx, "storage/downloadUrl", &again, "a/b.png"))
	assert.Equal(t, u, again)

	err := f.client.Call(ctx, "storage/downloadUrl", nil, "nope.png")
	callkittest.AssertErrorStatus(t, err, http.StatusNotFound, "")
}

func TestAuth(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var first, second auth.User
	require.NoError(t, f.client.Call(ctx, "auth/getOrRegister", &first, "+1 (415) 555-0100"))
	require.NoError(t, f.client.Call(ctx, "auth/getOrRegister", &second, "14155550100"))
	assert.Equal(t, "+14155550100", first.PhoneNumber)
	assert.Equal(t, first.UID, second.UID)

	err := f.client.Call(ctx, "auth/getOrRegister", nil, "call me maybe")
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "")
}

func TestEventsWebhook(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pub := pubsub.NewPublisher(f.client, "eventsWebhook", "projects/demo/subscriptions/events")

	id, err := pub.Publish(ctx, pubsub.Message{
		Data:       gateway.Event{Type: "booking.created", Subject: "rooms/blue", Data: map[string]any{"seats": 2}},
		Attributes: map[string]string{"source": "test"},
	})
	require.NoError(t, err)

	snap, err := f.store.Doc("events/" + id).Get(ctx)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	assert.Equal(t, "booking.created", snap.Get("type"))
	assert.Equal(t, "test", snap.Get("attributes.source"))
	assert.Equal(t, float64(2), snap.Get("data.seats"))
	assert.IsType(t, serializer.Timestamp{}, snap.Get("publishedAt"))

	_, err = pub.Publish(ctx, pubsub.Message{Data: gateway.Event{}})
	callkittest.AssertErrorStatus(t, err, http.StatusBadRequest, "event type is required")
}

func TestSystem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ping map[string]any
	require.NoError(t, f.client.Call(ctx, "system/ping", &ping))
	assert.Equal(t, gateway.Name, ping["name"])
	assert.Equal(t, "1.2.3", ping["version"])
	assert.IsType(t, serializer.Timestamp{}, ping["time"])

	at := serializer.Timestamp{Seconds: 10, Nanoseconds: 20}
	var echoed []any
	require.NoError(t, f.client.Call(ctx, "system/echo", &echoed, "x", 1, at))
	assert.Equal(t, []any{"x", float64(1), at}, echoed)

	var metrics map[string]map[string]any
	require.NoError(t, f.client.Call(ctx, "system/metrics", &metrics))
	assert.Equal(t, float64(1), metrics["/system/ping"]["count"])
	assert.Equal(t, float64(1), metrics["/system/echo"]["count"])
}
