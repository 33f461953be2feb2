package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LukasParke/callkit/pubsub"
	"github.com/LukasParke/callkit/serializer"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	URL          string
	Headers      []string
	Subscription string
	Attributes   []string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish <path> <json-payload>",
		Short: "Deliver a push subscription message to an operation",
		Long: `Wrap a JSON payload in a Pub/Sub push envelope and deliver it to an
operation, as a push subscription would. Prints the message id.

Example:
  callkit publish eventsWebhook '{"type":"booking.created","subject":"rooms/blue"}' -a source=cli`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "request header as 'Key: Value', repeatable")
	cmd.Flags().StringVar(&opts.Subscription, "subscription", "projects/local/subscriptions/callkit", "subscription name in the envelope")
	cmd.Flags().StringArrayVarP(&opts.Attributes, "attr", "a", nil, "message attribute as key=value, repeatable")

	return cmd
}

func runPublish(cmd *cobra.Command, opts *PublishOptions, path, payload string) error {
	data, err := serializer.Default().Parse([]byte(payload))
	if err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}
	attrs := map[string]string{}
	for _, a := range opts.Attributes {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid attribute %q: want key=value", a)
		}
		attrs[k] = v
	}
	client, err := clientFor(opts.URL, opts.Headers)
	if err != nil {
		return err
	}

	pub := pubsub.NewPublisher(client, path, opts.Subscription)
	id, err := pub.Publish(cmd.Context(), pubsub.Message{Data: data, Attributes: attrs})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
