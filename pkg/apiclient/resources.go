package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// The resource methods below are plain CRUD proxies over the platform REST
// API.  They add no behavior beyond request shaping and decoding.

// CustomDataRecord is one record in an extension's custom data collection.
type CustomDataRecord struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

func (c *Client) ListCustomData(ctx context.Context, collection string) ([]CustomDataRecord, error) {
	out := struct {
		Records []CustomDataRecord `json:"records"`
	}{}
	path := fmt.Sprintf("/api/v1/custom_data/%s", url.PathEscape(collection))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) GetCustomData(ctx context.Context, collection, key string) (*CustomDataRecord, error) {
	out := &CustomDataRecord{}
	path := fmt.Sprintf("/api/v1/custom_data/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PutCustomData(ctx context.Context, collection, key string, value map[string]any) error {
	path := fmt.Sprintf("/api/v1/custom_data/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	return c.do(ctx, http.MethodPut, path, map[string]any{"value": value}, nil)
}

func (c *Client) DeleteCustomData(ctx context.Context, collection, key string) error {
	path := fmt.Sprintf("/api/v1/custom_data/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetSecret resolves a named secret stored with the platform.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	out := struct {
		Value string `json:"value"`
	}{}
	path := fmt.Sprintf("/api/v1/secrets/%s", url.PathEscape(name))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// SLAEvent reports an SLA-relevant occurrence back to the platform.
type SLAEvent struct {
	Name       string         `json:"name"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (c *Client) CreateSLAEvent(ctx context.Context, evt SLAEvent) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sla_events", evt, nil)
}

// IntakeForm is a platform intake form definition.
type IntakeForm struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Fields []map[string]any `json:"fields,omitempty"`
}

func (c *Client) GetIntakeForm(ctx context.Context, id string) (*IntakeForm, error) {
	out := &IntakeForm{}
	path := fmt.Sprintf("/api/v1/intake_forms/%s", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitIntakeForm(ctx context.Context, id string, values map[string]any) error {
	path := fmt.Sprintf("/api/v1/intake_forms/%s/submissions", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, map[string]any{"values": values}, nil)
}
