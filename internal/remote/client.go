package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/types"
)

const maxErrorBody = 512

// Client talks to the tab store REST API.
type Client struct {
	http *resty.Client
}

// ClientOption configures a Client.
type ClientOption func(*resty.Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) ClientOption {
	return func(c *resty.Client) {
		if token != "" {
			c.SetAuthToken(token)
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tabsync/1.0")
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

var _ Store = (*Client)(nil)

func (c *Client) ListTabs(ctx context.Context) ([]Tab, error) {
	var out []Tab
	if err := c.do(ctx, http.MethodGet, "/tabs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTab(ctx context.Context, req CreateTabRequest) (Tab, error) {
	if req.Type == "" {
		req.Type = TypeBrowser
	}
	var out Tab
	if err := c.do(ctx, http.MethodPost, "/tabs", nil, req, &out); err != nil {
		return Tab{}, err
	}
	return out, nil
}

func (c *Client) UpdateTab(ctx context.Context, id types.RemoteID, update TabUpdate) (Tab, error) {
	var out Tab
	params := map[string]string{"id": string(id)}
	if err := c.do(ctx, http.MethodPut, "/tabs/{id}", params, update, &out); err != nil {
		return Tab{}, err
	}
	return out, nil
}

func (c *Client) DeleteTab(ctx context.Context, id types.RemoteID) error {
	params := map[string]string{"id": string(id)}
	return c.do(ctx, http.MethodDelete, "/tabs/{id}", params, nil, nil)
}

func (c *Client) ReorderTabs(ctx context.Context, updates []PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/tabs/reorder", nil, reorderRequest{Updates: updates}, nil)
}

func (c *Client) ListSpaces(ctx context.Context) ([]Space, error) {
	var out []Space
	if err := c.do(ctx, http.MethodGet, "/spaces", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateSpace(ctx context.Context, id string, update SpaceUpdate) (Space, error) {
	var out Space
	params := map[string]string{"id": id}
	if err := c.do(ctx, http.MethodPut, "/spaces/{id}", params, update, &out); err != nil {
		return Space{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body, result any) error {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetPathParams(params)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		// Decode JSON even when the server does not label it as such.
		req.SetResult(result).ForceContentType("application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		applog.Error("remote.request", err, "method", method, "path", path)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		text := resp.String()
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{
			Method: method,
			Path:   resp.Request.URL,
			Status: resp.StatusCode(),
			Body:   strings.TrimSpace(text),
		}
	}
	return nil
}
