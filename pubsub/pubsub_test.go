package pubsub_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/callkittest"
	"github.com/LukasParke/callkit/pubsub"
	"github.com/LukasParke/callkit/serializer"
)

type orderEvent struct {
	OrderID string               `json:"orderId"`
	Total   float64              `json:"total"`
	At      serializer.Timestamp `json:"at"`
}

type received struct {
	event orderEvent
	meta  pubsub.Meta
}

func newOrderServer(t *testing.T, fail error) (*callkit.Server, *[]received) {
	t.Helper()
	var got []received
	s := callkit.NewServer("orders", "1.0.0", callkit.Group{
		"orders": callkit.Group{
			"paidWebhook": pubsub.Wrap[orderEvent](func(c *callkit.Context, ev orderEvent, meta pubsub.Meta) error {
				got = append(got, received{event: ev, meta: meta})
				return fail
			}),
		},
	}, callkit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return s, &got
}

func TestPublishDeliversDecodedPayload(t *testing.T) {
	s, got := newOrderServer(t, nil)
	pub := pubsub.NewPublisher(callkittest.NewClient(t, s), "orders/paidWebhook", "projects/p/subscriptions/paid")

	ev := orderEvent{OrderID: "o-1", Total: 12.5, At: serializer.Timestamp{Seconds: 1700000000}}
	id, err := pub.Publish(context.Background(), pubsub.Message{Data: ev, Attributes: map[string]string{"region": "eu"}})
	require.NoError(t, err)

	require.Len(t, *got, 1)
	r := (*got)[0]
	assert.Equal(t, ev, r.event)
	assert.Equal(t, id, r.meta.MessageID)
	assert.Equal(t, "projects/p/subscriptions/paid", r.meta.Subscription)
	assert.Equal(t, map[string]string{"region": "eu"}, r.meta.Attributes)
	published, err := r.meta.Published()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), published, time.Minute)
}

func TestHandlerErrorRejectsDelivery(t *testing.T) {
	s, _ := newOrderServer(t, callkit.NewError(http.StatusConflict, "already processed", nil))
	pub := pubsub.NewPublisher(callkittest.NewClient(t, s), "orders/paidWebhook", "sub")

	_, err := pub.Publish(context.Background(), pubsub.Message{Data: orderEvent{OrderID: "o-2"}})
	callkittest.AssertErrorStatus(t, err, http.StatusConflict, "already processed")

	s, _ = newOrderServer(t, errors.New("db down"))
	pub = pubsub.NewPublisher(callkittest.NewClient(t, s), "orders/paidWebhook", "sub")
	_, err = pub.Publish(context.Background(), pubsub.Message{Data: orderEvent{OrderID: "o-3"}})
	callkittest.AssertErrorStatus(t, err, http.StatusInternalServerError, "db down")
}

func TestRejectsBadEnvelopes(t *testing.T) {
	s, got := newOrderServer(t, nil)
	ctx := context.Background()

	for _, body := range []string{``, `{}`, `null`, `[]`} {
		out := s.Call(ctx, "orders/paidWebhook", []byte(body))
		callkittest.AssertOutcome(t, out, callkit.OutcomeError, http.StatusBadRequest)
		assert.Equal(t, "empty pubsub message received", out.Err.Message, body)
	}

	bad := `{"message":{"data":"bm90IGpzb24=","messageId":"m1"},"subscription":"sub"}`
	out := s.Call(ctx, "orders/paidWebhook", []byte(bad))
	callkittest.AssertOutcome(t, out, callkit.OutcomeError, http.StatusBadRequest)
	assert.Equal(t, "cannot parse pubsub message", out.Err.Message)
	assert.Equal(t, "m1", gjson.GetBytes(out.Body, "payload.message.messageId").String())

	assert.Empty(t, *got)
}

func TestSnakeCaseEnvelopeFields(t *testing.T) {
	var got []received
	data := base64.StdEncoding.EncodeToString([]byte(`{"orderId":"o-9","total":3}`))
	body := `[{"message":{"data":"` + data + `","attributes":{"a":"1"},"message_id":"m9","publish_time":"2026-01-02T03:04:05Z"},"subscription":"s"}]`

	s := callkit.NewServer("orders", "1.0.0", callkit.Group{
		"paid": pubsub.Wrap[orderEvent](func(c *callkit.Context, ev orderEvent, meta pubsub.Meta) error {
			got = append(got, received{event: ev, meta: meta})
			return nil
		}),
	}, callkit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	out := s.Call(context.Background(), "paid", []byte(body))
	callkittest.AssertOutcome(t, out, callkit.OutcomeNoContent, http.StatusNoContent)

	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, orderEvent{OrderID: "o-9", Total: 3}, r.event)
	assert.Equal(t, "m9", r.meta.MessageID)
	assert.Equal(t, "2026-01-02T03:04:05Z", r.meta.PublishTime)
	assert.Equal(t, map[string]string{"a": "1"}, r.meta.Attributes)
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	body, err := pubsub.Envelope("sub", "id-1", []byte(`{"x":1}`), map[string]string{"k": "v"}, at)
	require.NoError(t, err)

	env := gjson.ParseBytes(body)
	assert.Equal(t, "id-1", env.Get("message.messageId").String())
	assert.Equal(t, "id-1", env.Get("message.message_id").String())
	assert.Equal(t, "2026-05-06T07:08:09Z", env.Get("message.publishTime").String())
	assert.Equal(t, "v", env.Get("message.attributes.k").String())
	assert.Equal(t, "sub", env.Get("subscription").String())
	data, err := base64.StdEncoding.DecodeString(env.Get("message.data").String())
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(data))
}
