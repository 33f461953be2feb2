package callkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LukasParke/callkit/serializer"
)

// Client calls operations of a callkit server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	codec   *serializer.Codec
	header  http.Header
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithClientCodec sets the serializer for arguments and results.
func WithClientCodec(codec *serializer.Codec) ClientOption {
	return func(c *Client) { c.codec = codec }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.header.Add(key, value) }
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		codec:   serializer.Default(),
		header:  http.Header{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call invokes the operation at path with args and decodes its result into
// result, which may be nil. A 204 response leaves result untouched. Error
// responses are returned as *Error with the server's status, message and data.
func (c *Client) Call(ctx context.Context, path string, result any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	body, err := c.codec.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	status, data, err := c.post(ctx, path, "application/json", body)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || result == nil || len(data) == 0 {
		return nil
	}
	v, err := c.codec.Parse(data)
	if err != nil {
		return fmt.Errorf("decoding result of %s: %w", path, err)
	}
	return serializer.Decode(v, result)
}

// CallWebhook posts body to a webhook path and returns the raw response body.
// A []byte or string body is sent as is, anything else as JSON.
func (c *Client) CallWebhook(ctx context.Context, path string, body any) ([]byte, error) {
	var (
		payload     []byte
		contentType = "application/json"
	)
	switch b := body.(type) {
	case []byte:
		payload = b
	case string:
		payload = []byte(b)
		contentType = "text/plain; charset=utf-8"
	default:
		var err error
		if payload, err = c.codec.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding webhook body: %w", err)
		}
	}
	_, data, err := c.post(ctx, path, contentType, payload)
	return data, err
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) (int, []byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response of %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, data, decodeError(resp.StatusCode, data)
	}
	return resp.StatusCode, data, nil
}

// decodeError rebuilds an *Error from an error envelope.
func decodeError(status int, data []byte) *Error {
	e := &Error{Status: status, Message: http.StatusText(status)}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		if len(data) > 0 {
			e.Message = strings.TrimSpace(string(data))
		}
		return e
	}
	if v, err := serializer.Default().Revive(obj); err == nil {
		if m, ok := v.(map[string]any); ok {
			obj = m
		}
	}
	if msg, ok := obj["message"].(string); ok {
		e.Message = msg
		delete(obj, "message")
	}
	if len(obj) > 0 {
		e.Data = obj
	}
	return e
}
