// Package gateway is the low-level HTTP client to the remote document
// database. It attaches project and key headers, normalizes store errors, and
// implements paginated listing with server-side query push-down and an
// unfiltered fallback.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/metrics"
	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Request headers understood by the store.
const (
	HeaderProject = "X-Appwrite-Project"
	HeaderKey     = "X-Appwrite-Key"

	sessionCookiePrefix = "a_session"
)

// Compile-time interface check.
var _ types.DocumentStore = (*Client)(nil)

// Client talks to one database of one project.
type Client struct {
	endpoint *url.URL
	project  string
	database string
	apiKey   string

	http     *http.Client
	registry *schema.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	pageSize  int
	maxOffset int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A cookie jar is added to a
// copy of hc when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source used for write timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for cfg. Tables are resolved through registry.
func New(cfg types.Config, registry *schema.Registry, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	c := &Client{
		endpoint:  endpoint,
		project:   cfg.Project,
		database:  cfg.Database,
		apiKey:    cfg.APIKey,
		http:      &http.Client{},
		registry:  registry,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/mesh-intelligence/docrel/internal/gateway"),
		now:       time.Now,
		pageSize:  cfg.PageSize,
		maxOffset: cfg.MaxOffset,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}
	return c, nil
}

// Endpoint returns the store base URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// Project returns the project identifier sent with every request.
func (c *Client) Project() string { return c.project }

// Database returns the database identifier.
func (c *Client) Database() string { return c.database }

// Privileged reports whether requests carry the privileged API key.
func (c *Client) Privileged() bool { return c.apiKey != "" }

// Registry returns the table registry the client resolves collections with.
func (c *Client) Registry() *schema.Registry { return c.registry }

// URL builds an absolute store URL for an already escaped path and query.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.endpoint
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// NewRequest builds a request carrying the project and key headers.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderProject, c.project)
	if c.apiKey != "" {
		req.Header.Set(HeaderKey, c.apiKey)
	}
	return req, nil
}

// Call sends a JSON request and decodes a JSON response into out (when non-nil).
// Non-2xx responses return a *types.StoreError.
func (c *Client) Call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := c.NewRequest(ctx, method, path, query, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Send(req, out)
}

// Send executes a prepared request and decodes the JSON response into out.
func (c *Client) Send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(req.Method, "error").Inc()
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.GatewayRequests.WithLabelValues(req.Method, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError normalizes a non-2xx response into a StoreError.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &types.StoreError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		se.Message = body.Message
		se.Code = body.Code
		se.Type = body.Type
		return se
	}
	se.Message = strings.TrimSpace(string(raw))
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// SessionCookies returns the session cookies the jar holds for the endpoint.
func (c *Client) SessionCookies() []*http.Cookie {
	var out []*http.Cookie
	for _, ck := range c.http.Jar.Cookies(c.endpoint) {
		if strings.HasPrefix(ck.Name, sessionCookiePrefix) {
			out = append(out, ck)
		}
	}
	return out
}

// HasSessionCookie reports whether a plausible session cookie is present.
func (c *Client) HasSessionCookie() bool {
	for _, ck := range c.SessionCookies() {
		if ck.Value != "" {
			return true
		}
	}
	return false
}

// RestoreSession loads previously saved session cookies into the jar.
func (c *Client) RestoreSession(cookies []*http.Cookie) {
	c.http.Jar.SetCookies(c.endpoint, cookies)
}

// ClearSession expires every session cookie in the jar.
func (c *Client) ClearSession() {
	var expired []*http.Cookie
	for _, ck := range c.SessionCookies() {
		expired = append(expired, &http.Cookie{Name: ck.Name, Value: "", Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		c.http.Jar.SetCookies(c.endpoint, expired)
	}
}
