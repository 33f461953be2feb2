package gateway

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/auth"
	"github.com/LukasParke/callkit/docstore"
	"github.com/LukasParke/callkit/pubsub"
	"github.com/LukasParke/callkit/serializer"
	"github.com/LukasParke/callkit/storage"
)

type putRequest struct {
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

func (g *Gateway) storagePut(c *callkit.Context, args callkit.Args) (any, error) {
	var req putRequest
	if err := args.Decode(0, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, callkit.NewError(http.StatusBadRequest, "name is required", nil)
	}
	obj, err := g.bucket.Put(c, req.Name, req.ContentType, req.Metadata)
	if err != nil {
		return nil, badRequest(err)
	}
	return map[string]string{"bucket": obj.Bucket(), "name": obj.Name()}, nil
}

func (g *Gateway) downloadURL(c *callkit.Context, args callkit.Args) (any, error) {
	name, err := stringArg(args, 0, "name")
	if err != nil {
		return nil, err
	}
	u, err := storage.DownloadURL(c, g.bucket.Object(name), g.emulatorHost)
	if err != nil {
		return nil, badRequest(err)
	}
	return u, nil
}

func (g *Gateway) getOrRegister(c *callkit.Context, args callkit.Args) (any, error) {
	phone, err := stringArg(args, 0, "phoneNumber")
	if err != nil {
		return nil, err
	}
	u, err := auth.GetOrRegisterUserByPhoneNumber(c, g.users, phone)
	if err != nil {
		return nil, badRequest(err)
	}
	return u, nil
}

// Event is a message received on the events push subscription.
type Event struct {
	Type    string         `json:"type"`
	Subject string         `json:"subject"`
	Data    map[string]any `json:"data"`
}

// recordEvent stores each delivered event under events/<messageId>, so a
// redelivered message overwrites its first copy.
func (g *Gateway) recordEvent(c *callkit.Context, ev Event, meta pubsub.Meta) error {
	if ev.Type == "" {
		return callkit.NewError(http.StatusBadRequest, "event type is required", nil)
	}
	id := meta.MessageID
	if id == "" {
		ref := g.store.Collection("events").NewDoc()
		id = ref.ID()
	}
	doc := map[string]any{
		"type":         ev.Type,
		"subject":      ev.Subject,
		"data":         ev.Data,
		"attributes":   meta.Attributes,
		"subscription": meta.Subscription,
		"receivedAt":   serializer.Now(),
	}
	if t, err := meta.Published(); err == nil {
		doc["publishedAt"] = serializer.NewTimestamp(t)
	}
	c.Logger().Info("event received", "type", ev.Type, "subject", ev.Subject, "messageId", id)
	return badRequest(g.store.Collection("events").Doc(id).Set(c, doc))
}

// system exposes diagnostics; its methods become system.<name>.
type system struct {
	g *Gateway
}

// Ping reports liveness and build information.
func (s *system) Ping(c *callkit.Context, args callkit.Args) (any, error) {
	return map[string]any{
		"name":    c.Server().Name(),
		"version": c.Server().Version(),
		"go":      runtime.Version(),
		"time":    serializer.Now(),
	}, nil
}

// Echo returns its arguments, rich values included.
func (s *system) Echo(c *callkit.Context, args callkit.Args) (any, error) {
	if args == nil {
		return []any{}, nil
	}
	return []any(args), nil
}

// Metrics reports per-path call counts, errors and mean latency.
func (s *system) Metrics(c *callkit.Context, args callkit.Args) (any, error) {
	out := map[string]any{}
	for path, snap := range s.g.metrics.Snapshot() {
		var mean time.Duration
		if snap.Count > 0 {
			mean = snap.TotalTime / time.Duration(snap.Count)
		}
		out[path] = map[string]any{
			"count":  snap.Count,
			"errors": snap.Errors,
			"meanMs": float64(mean) / float64(time.Millisecond),
		}
	}
	return out, nil
}

// Watch logs every write to events, standing in for a database trigger.
// The returned function stops it.
func (g *Gateway) Watch(s *callkit.Server) func() {
	return g.store.OnWrite("events/{eventId}", func(ctx context.Context, ch docstore.Change, p docstore.Params) error {
		if ch.Created() {
			s.Logger().Debug("event stored", "eventId", p["eventId"], "type", ch.After.Get("type"))
		}
		return nil
	})
}
