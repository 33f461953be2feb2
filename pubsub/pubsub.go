// Package pubsub adapts callkit operations to Pub/Sub push subscriptions.
// A push subscription POSTs an envelope whose message data is base64
// encoded JSON; Wrap unpacks it and hands the decoded payload to a typed
// handler.
package pubsub

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/serializer"
)

// Meta carries the envelope fields that accompany a message.
type Meta struct {
	Attributes   map[string]string `json:"attributes"`
	MessageID    string            `json:"messageId"`
	PublishTime  string            `json:"publishTime"`
	Subscription string            `json:"subscription"`
}

// Published parses PublishTime.
func (m Meta) Published() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, m.PublishTime)
}

// Handler handles one decoded message.
type Handler[T any] func(c *callkit.Context, payload T, meta Meta) error

// Wrap returns an operation that serves as a push subscription endpoint.
// The envelope is read from the raw request payload; when it arrives as a
// one-element argument array the element is used. An empty envelope or
// undecodable message data is a 400 error and the handler is not called.
// The operation answers 204 once the handler returns nil, which
// acknowledges the message.
func Wrap[T any](h Handler[T]) callkit.Operation {
	return func(c *callkit.Context, args callkit.Args) (any, error) {
		env := envelope(c.Payload)
		if !env.Get("message").Exists() {
			return nil, callkit.NewError(http.StatusBadRequest, "empty pubsub message received", nil)
		}

		payload, err := decode[T](c.Server().Codec(), env.Get("message.data").String())
		if err != nil {
			var raw any
			if v, perr := serializer.Default().Parse([]byte(env.Raw)); perr == nil {
				raw = v
			}
			return nil, &callkit.Error{
				Status:  http.StatusBadRequest,
				Message: "cannot parse pubsub message",
				Data:    map[string]any{"payload": raw},
				Cause:   err,
			}
		}
		return nil, h(c, payload, meta(env))
	}
}

func envelope(payload []byte) gjson.Result {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return gjson.Result{}
	}
	env := gjson.ParseBytes(payload)
	if env.IsArray() {
		return env.Get("0")
	}
	return env
}

func decode[T any](codec *serializer.Codec, data string) (T, error) {
	var out T
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return out, err
	}
	v, err := codec.Parse(raw)
	if err != nil {
		return out, err
	}
	err = serializer.Decode(v, &out)
	return out, err
}

func meta(env gjson.Result) Meta {
	m := Meta{
		Attributes:   map[string]string{},
		MessageID:    first(env, "message.messageId", "message.message_id"),
		PublishTime:  first(env, "message.publishTime", "message.publish_time"),
		Subscription: env.Get("subscription").String(),
	}
	env.Get("message.attributes").ForEach(func(k, v gjson.Result) bool {
		m.Attributes[k.String()] = v.String()
		return true
	})
	return m
}

func first(env gjson.Result, paths ...string) string {
	for _, p := range paths {
		if r := env.Get(p); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
