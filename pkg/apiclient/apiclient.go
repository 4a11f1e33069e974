// Package apiclient is the outbound client for the platform REST API.  Each
// dispatched delivery gets a client pre-bound with its verified credential;
// handlers reach the platform through it without seeing the token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
)

// ErrBadRequest marks a client-side request error (malformed payload,
// unknown resource shape).  The dispatcher maps this to a 400 rather than a
// 500 when raised from a handler.
var ErrBadRequest = errors.New("bad request")

// APIError is a non-2xx platform response.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("platform API error (status %d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Opt func(c *Client)

func WithHTTPClient(h *http.Client) Opt {
	return func(c *Client) {
		c.http = h
	}
}

// New returns a client for the platform API at baseURL, authenticating every
// request with the given bearer token.
func New(baseURL, token string, opts ...Opt) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: consts.APIClientTimeout},
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Close releases the client's idle connections.  The dispatcher calls this
// on every exit path from a handler invocation.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		byt, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		body = bytes.NewReader(byt)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	byt, err := io.ReadAll(io.LimitReader(resp.Body, consts.MaxDeliverySize))
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrBadRequest, string(byt))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return APIError{Status: resp.StatusCode, Message: string(byt)}
	}

	if out != nil && len(byt) > 0 {
		if err := json.Unmarshal(byt, out); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}
