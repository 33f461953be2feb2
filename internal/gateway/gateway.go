// Package gateway assembles the callkit binary's registry: document access,
// storage download URLs, phone sign-in, an event sink fed by a pub/sub push
// subscription, and system diagnostics.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/auth"
	"github.com/LukasParke/callkit/config"
	"github.com/LukasParke/callkit/docstore"
	mw "github.com/LukasParke/callkit/middleware"
	"github.com/LukasParke/callkit/pubsub"
	"github.com/LukasParke/callkit/storage"
)

// Name is the server name reported by system.ping.
const Name = "callkit-gateway"

// Gateway holds the backends the operations use.
type Gateway struct {
	store        *docstore.Store
	bucket       *storage.Bucket
	users        auth.Directory
	emulatorHost string
	metrics      *mw.Metrics
	version      string
}

// New returns a gateway over an open store.
func New(store *docstore.Store, settings *config.Settings, version string) *Gateway {
	return &Gateway{
		store:        store,
		bucket:       storage.NewBucket(store, settings.Bucket),
		users:        auth.NewStoreDirectory(store),
		emulatorHost: settings.StorageEmulatorHost,
		metrics:      mw.NewMetrics(),
		version:      version,
	}
}

// Registry returns the operation tree.
func (g *Gateway) Registry() callkit.Group {
	return callkit.Group{
		"docs": callkit.Group{
			"get":    callkit.Operation(g.docGet),
			"set":    callkit.Operation(g.docSet),
			"merge":  callkit.Operation(g.docMerge),
			"delete": callkit.Operation(g.docDelete),
			"query":  callkit.Operation(g.docQuery),
		},
		"storage": callkit.Group{
			"put":         callkit.Operation(g.storagePut),
			"downloadUrl": callkit.Operation(g.downloadURL),
		},
		"auth": callkit.Group{
			"getOrRegister": callkit.Operation(g.getOrRegister),
		},
		"system":        callkit.Methods(&system{g: g}),
		"eventsWebhook": pubsub.Wrap[Event](g.recordEvent),
	}
}

// NewServer builds the callkit server for settings. Every operation is
// timed into the gateway metrics, which system.metrics reports.
func (g *Gateway) NewServer(settings *config.Settings, logger *slog.Logger, opts ...callkit.Option) *callkit.Server {
	base := []callkit.Option{
		callkit.WithLogger(logger),
		callkit.WithProject(settings.Project),
		callkit.WithCORS(settings.CORSOrigins...),
		callkit.WithTrustProxy(settings.TrustProxy),
		callkit.WithMiddleware(mw.Telemetry(g.metrics), mw.Logging(logger)),
	}
	return callkit.NewServer(Name, g.version, g.Registry(), append(base, opts...)...)
}

// badRequest maps client mistakes from the backends to 400 and missing
// objects to 404. Other errors pass through.
func badRequest(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrInvalidQuery):
		return &callkit.Error{Status: http.StatusBadRequest, Message: err.Error(), Cause: err}
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		return &callkit.Error{Status: http.StatusNotFound, Message: err.Error(), Cause: err}
	}
	return err
}

func stringArg(args callkit.Args, i int, name string) (string, error) {
	var s string
	if err := args.Decode(i, &s); err != nil {
		return "", err
	}
	if s == "" {
		return "", callkit.NewError(http.StatusBadRequest, fmt.Sprintf("%s is required", name), nil)
	}
	return s, nil
}
