package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/serializer"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	URL     string
	Headers []string
	Webhook bool
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <path> [json-arg...]",
		Short: "Call an operation on a running server",
		Long: `Call an operation on a running server and print its result as JSON.
Each argument is parsed as JSON; rich values use their tagged form.

Example:
  callkit call docs/get '"rooms/blue"'
  callkit call system/echo 1 '{"__type__":"Timestamp","seconds":0,"nanoseconds":0}'
  callkit call --webhook eventsWebhook '{"message":{"data":""}}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "request header as 'Key: Value', repeatable")
	cmd.Flags().BoolVar(&opts.Webhook, "webhook", false, "send the single argument as the raw body and print the raw response")

	return cmd
}

func clientFor(url string, headers []string) (*callkit.Client, error) {
	var copts []callkit.ClientOption
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q: want 'Key: Value'", h)
		}
		copts = append(copts, callkit.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return callkit.NewClient(url, copts...), nil
}

func runCall(cmd *cobra.Command, opts *CallOptions, path string, raw []string) error {
	client, err := clientFor(opts.URL, opts.Headers)
	if err != nil {
		return err
	}

	if opts.Webhook {
		if len(raw) != 1 {
			return errors.New("--webhook takes exactly one argument")
		}
		body, err := client.CallWebhook(cmd.Context(), path, []byte(raw[0]))
		if err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}

	args := make([]any, len(raw))
	for i, r := range raw {
		v, err := serializer.Default().Parse([]byte(r))
		if err != nil {
			return fmt.Errorf("argument %d is not JSON: %w", i+1, err)
		}
		args[i] = v
	}

	var result any
	if err := client.Call(cmd.Context(), path, &result, args...); err != nil {
		return describe(err)
	}
	if result == nil {
		return nil
	}
	return printJSON(cmd, result)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := serializer.Default().Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// describe adds the status to call errors.
func describe(err error) error {
	var e *callkit.Error
	if !errors.As(err, &e) {
		return err
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%d: %s", e.Status, e.Message)
	}
	data, _ := json.Marshal(e.Data)
	return fmt.Errorf("%d: %s %s", e.Status, e.Message, data)
}
