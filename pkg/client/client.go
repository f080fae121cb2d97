package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/projector"
	"github.com/cuemby/nimbus/pkg/types"
)

// DefaultAddr is where the engine API listens by default
const DefaultAddr = "http://127.0.0.1:8080"

// APIError is returned for non-2xx responses
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%d, field %s)", e.Message, e.Status, e.Field)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the engine HTTP API
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for the API at addr ("127.0.0.1:8080" or a
// full URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid API address %q: %w", addr, err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Field = body.Field
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// ListResources returns every resource, or those of one kind
func (c *Client) ListResources(ctx context.Context, kind types.Kind) ([]types.ExternalView, error) {
	query := url.Values{}
	if kind != "" {
		query.Set("kind", string(kind))
	}
	var views []types.ExternalView
	if err := c.do(ctx, http.MethodGet, "/resources", query, nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// GetResource returns one resource
func (c *Client) GetResource(ctx context.Context, id string) (*types.ExternalView, error) {
	view := new(types.ExternalView)
	if err := c.do(ctx, http.MethodGet, "/resources/"+url.PathEscape(id), nil, nil, view); err != nil {
		return nil, err
	}
	return view, nil
}

// CreateResource declares a resource
func (c *Client) CreateResource(ctx context.Context, req *types.ResourceRequest) (*types.ExternalView, error) {
	view := new(types.ExternalView)
	if err := c.do(ctx, http.MethodPost, "/resources", nil, req, view); err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateResource merges a spec change into a resource
func (c *Client) UpdateResource(ctx context.Context, id string, req *types.ResourceRequest) (*types.ExternalView, error) {
	view := new(types.ExternalView)
	if err := c.do(ctx, http.MethodPut, "/resources/"+url.PathEscape(id), nil, req, view); err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteResource requests deletion of a resource
func (c *Client) DeleteResource(ctx context.Context, id string) (*types.ExternalView, error) {
	view := new(types.ExternalView)
	if err := c.do(ctx, http.MethodDelete, "/resources/"+url.PathEscape(id), nil, nil, view); err != nil {
		return nil, err
	}
	return view, nil
}

// ResourceAction runs start, stop, restart or retry on a resource
func (c *Client) ResourceAction(ctx context.Context, id, action string) (*types.ExternalView, error) {
	view := new(types.ExternalView)
	path := "/resources/" + url.PathEscape(id) + "/" + url.PathEscape(action)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, view); err != nil {
		return nil, err
	}
	return view, nil
}

// Stats returns the dashboard summary
func (c *Client) Stats(ctx context.Context) (*projector.Stats, error) {
	stats := new(projector.Stats)
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// WatchEvents streams engine events to fn until ctx is done, the server
// closes the stream or fn returns an error. resourceID and typePrefix
// narrow the stream when set.
func (c *Client) WatchEvents(ctx context.Context, resourceID, typePrefix string, fn func(*events.Event) error) error {
	query := url.Values{}
	if resourceID != "" {
		query.Set("resource", resourceID)
	}
	if typePrefix != "" {
		query.Set("type", typePrefix)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events", query), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream outlives the request timeout of c.http
	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		e := new(events.Event)
		if err := json.Unmarshal([]byte(data), e); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
