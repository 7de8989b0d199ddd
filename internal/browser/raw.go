package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// RawClient talks to the browser's own remote-debugging HTTP surface at
// http://127.0.0.1:<debugPort>. It is stateless; every call hits the live
// endpoint so listings are never stale.
type RawClient struct {
	baseURL string
	client  *http.Client
}

// VersionInfo is the /json/version response. WebSocketDebuggerURL is the
// browser-level endpoint the automation channel connects to.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewRawClient creates a raw protocol client for the given debug port.
func NewRawClient(port int) *RawClient {
	return NewRawClientURL(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// NewRawClientURL creates a raw protocol client against an explicit base
// URL. Used by tests to point at a stub endpoint.
func NewRawClientURL(baseURL string) *RawClient {
	return &RawClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// BaseURL returns the endpoint address this client talks to.
func (c *RawClient) BaseURL() string {
	return c.baseURL
}

// Reachable probes /json/version with a bounded timeout. It returns a
// boolean and never an error; an unreachable endpoint is a normal state.
func (c *RawClient) Reachable(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := c.Version(ctx)
	return err == nil
}

// Version fetches /json/version.
func (c *RawClient) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.getJSON(ctx, "/json/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListTabs fetches the current tab listing from /json/list.
func (c *RawClient) ListTabs(ctx context.Context) ([]Tab, error) {
	var tabs []Tab
	if err := c.getJSON(ctx, "/json/list", &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// CreateTab opens a new tab via PUT /json/new. Newer Chrome requires PUT;
// older builds answer 405 to PUT, in which case the same URL is retried
// with GET.
func (c *RawClient) CreateTab(ctx context.Context, target string) (Tab, error) {
	endpoint := c.baseURL + "/json/new"
	if target != "" {
		endpoint += "?" + url.QueryEscape(target)
	}

	tab, status, err := c.newTabRequest(ctx, http.MethodPut, endpoint)
	if err == nil {
		return tab, nil
	}
	if status != http.StatusMethodNotAllowed {
		return Tab{}, err
	}

	L_debug("raw: PUT /json/new not supported, retrying with GET")
	tab, _, err = c.newTabRequest(ctx, http.MethodGet, endpoint)
	return tab, err
}

func (c *RawClient) newTabRequest(ctx context.Context, method, endpoint string) (Tab, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return Tab{}, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Tab{}, 0, &ProtocolError{Op: "create tab", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Tab{}, resp.StatusCode, &ProtocolError{
			Op:  "create tab",
			Err: fmt.Errorf("%s /json/new: HTTP %d: %s", method, resp.StatusCode, body),
		}
	}

	var tab Tab
	if err := json.NewDecoder(resp.Body).Decode(&tab); err != nil {
		return Tab{}, resp.StatusCode, &ProtocolError{Op: "create tab", Err: err}
	}
	return tab, resp.StatusCode, nil
}

// ActivateTab brings a tab to the foreground via /json/activate/<id>.
func (c *RawClient) ActivateTab(ctx context.Context, id string) error {
	return c.simpleGet(ctx, "/json/activate/"+id, "activate tab")
}

// CloseTab closes a tab via /json/close/<id>.
func (c *RawClient) CloseTab(ctx context.Context, id string) error {
	return c.simpleGet(ctx, "/json/close/"+id, "close tab")
}

func (c *RawClient) simpleGet(ctx context.Context, path, op string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Op: op, Err: fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)}
	}
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *RawClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProtocolError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Op: "GET " + path, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Op: "GET " + path, Err: err}
	}
	return nil
}
