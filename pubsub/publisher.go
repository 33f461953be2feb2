package pubsub

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/serializer"
)

// Message is one message to publish.
type Message struct {
	Data       any
	Attributes map[string]string
}

// Envelope builds a push subscription request body. Both the camel-case
// and snake-case id and time fields are set, as push deliveries carry both.
func Envelope(subscription, messageID string, data []byte, attrs map[string]string, published time.Time) ([]byte, error) {
	body := []byte(`{}`)
	stamp := published.UTC().Format(time.RFC3339Nano)
	sets := []struct {
		path  string
		value any
	}{
		{"message.data", base64.StdEncoding.EncodeToString(data)},
		{"message.attributes", attrs},
		{"message.messageId", messageID},
		{"message.message_id", messageID},
		{"message.publishTime", stamp},
		{"message.publish_time", stamp},
		{"subscription", subscription},
	}
	for _, s := range sets {
		var err error
		if body, err = sjson.SetBytes(body, s.path, s.value); err != nil {
			return nil, fmt.Errorf("pubsub: setting %s: %w", s.path, err)
		}
	}
	return body, nil
}

// Publisher delivers messages to a push endpoint the way a push
// subscription would. It is meant for local runs and tests.
type Publisher struct {
	client       *callkit.Client
	path         string
	subscription string
	codec        *serializer.Codec
	now          func() time.Time
}

// NewPublisher returns a publisher that posts to path through client.
// subscription names the subscription in every envelope.
func NewPublisher(client *callkit.Client, path, subscription string) *Publisher {
	return &Publisher{
		client:       client,
		path:         path,
		subscription: subscription,
		codec:        serializer.Default(),
		now:          time.Now,
	}
}

// Publish delivers msg and returns its message id. A rejected delivery is
// returned as *callkit.Error.
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	data, err := p.codec.Marshal(msg.Data)
	if err != nil {
		return "", fmt.Errorf("pubsub: encoding message: %w", err)
	}
	id := uuid.Must(uuid.NewV7()).String()
	attrs := msg.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	body, err := Envelope(p.subscription, id, data, attrs, p.now())
	if err != nil {
		return "", err
	}
	if _, err := p.client.CallWebhook(ctx, p.path, body); err != nil {
		return "", err
	}
	return id, nil
}
