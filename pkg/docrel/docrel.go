// Package docrel is the public entry point: a relational-style query client
// over a remote document store, with realtime change notifications, session
// auth and file storage bound to one configuration.
//
// Example:
//
//	client, err := docrel.New(types.Config{
//	    Endpoint: "https://store.example.com/v1",
//	    Project:  "proj",
//	    Database: "main",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	res, err := client.From("tasks").Select().Eq("status", "open").Order("due_date", true).Execute(ctx)
package docrel

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/access"
	"github.com/mesh-intelligence/docrel/internal/auth"
	"github.com/mesh-intelligence/docrel/internal/gateway"
	"github.com/mesh-intelligence/docrel/internal/logging"
	"github.com/mesh-intelligence/docrel/internal/query"
	"github.com/mesh-intelligence/docrel/internal/realtime"
	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/internal/storage"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Re-exported so callers outside this module can name the returned values.
type (
	Builder      = query.Builder
	Result       = query.Result
	Channel      = realtime.Channel
	Subscription = realtime.Subscription
	Listen       = realtime.Listen
	Status       = realtime.Status
	Auth         = auth.Bridge
	Storage      = storage.Client
)

// Client wires the gateway, guard, executor, realtime hub, auth bridge and
// storage for one project and database.
type Client struct {
	cfg      types.Config
	registry *schema.Registry
	gw       *gateway.Client
	auth     *auth.Bridge
	exec     *query.Executor
	hub      *realtime.Hub
	storage  *storage.Client
	logger   *zap.Logger
}

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	authOpts   []auth.Option
	transport  realtime.TransportFactory
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithAuthOptions passes options to the auth bridge, such as a navigator for
// OAuth redirects.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(o *options) { o.authOpts = append(o.authOpts, opts...) }
}

// WithTransport replaces the realtime push transport.
func WithTransport(f realtime.TransportFactory) Option {
	return func(o *options) { o.transport = f }
}

// New validates cfg and builds a Client. Tables default to
// types.DefaultTables when cfg.Tables is nil. No network call is made.
func New(cfg types.Config, opts ...Option) (*Client, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tables == nil {
		cfg.Tables = types.DefaultTables()
	}

	c := &Client{cfg: cfg, registry: schema.NewRegistry(cfg.Tables), logger: o.logger}

	gwOpts := []gateway.Option{gateway.WithLogger(o.logger.Named("gateway"))}
	if o.httpClient != nil {
		gwOpts = append(gwOpts, gateway.WithHTTPClient(o.httpClient))
	}
	gw, err := gateway.New(cfg, c.registry, gwOpts...)
	if err != nil {
		return nil, err
	}
	c.gw = gw

	authOpts := append([]auth.Option{
		auth.WithInteractive(cfg.Interactive),
		auth.WithLogger(o.logger.Named("auth")),
	}, o.authOpts...)
	c.auth = auth.New(gw, authOpts...)

	guard := access.NewGuard(access.NewPolicy(cfg), c.auth, gw, o.logger.Named("access"))
	c.exec = query.NewExecutor(gw, guard, o.logger.Named("query"))

	hubOpts := []realtime.Option{
		realtime.WithPollInterval(cfg.PollInterval),
		realtime.WithMinPollInterval(cfg.MinPollInterval),
		realtime.WithLogger(o.logger.Named("realtime")),
	}
	switch {
	case o.transport != nil:
		hubOpts = append(hubOpts, realtime.WithTransport(o.transport))
	case !cfg.DisablePush:
		hubOpts = append(hubOpts, realtime.WithTransport(c.socketTransport))
	}
	c.hub = realtime.NewHub(cfg.Database, c.registry, hubOpts...)

	c.storage = storage.New(gw)
	return c, nil
}

// socketTransport dials the store's realtime endpoint with the current
// session cookies and key.
func (c *Client) socketTransport() (realtime.Transport, error) {
	return realtime.NewSocketTransport(c.cfg.Endpoint, c.cfg.Project,
		realtime.WithSocketLogger(c.logger.Named("socket")),
		realtime.WithHeader(func() http.Header {
			h := http.Header{}
			var cookies []string
			for _, ck := range c.gw.SessionCookies() {
				cookies = append(cookies, ck.String())
			}
			if len(cookies) > 0 {
				h.Set("Cookie", strings.Join(cookies, "; "))
			}
			if c.cfg.APIKey != "" {
				h.Set(gateway.HeaderKey, c.cfg.APIKey)
			}
			return h
		}))
}

// From starts a query against table.
func (c *Client) From(table string) *query.Builder {
	return c.exec.From(table)
}

// Channel returns a new realtime channel.
func (c *Client) Channel(name string) *realtime.Channel {
	return c.hub.Channel(name)
}

func (c *Client) Auth() *auth.Bridge { return c.auth }

func (c *Client) Storage() *storage.Client { return c.storage }

// Gateway exposes the low-level store client, for session persistence and
// raw calls.
func (c *Client) Gateway() *gateway.Client { return c.gw }

// Config returns the effective configuration after defaults.
func (c *Client) Config() types.Config { return c.cfg }

// Close stops every realtime subscription and the push transport.
func (c *Client) Close() error {
	return c.hub.Close()
}
