package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SocketSettings tunes the websocket transport.
type SocketSettings struct {
	HandshakeTimeout time.Duration
	ReconnectTimeout time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
}

func DefaultSocketSettings() *SocketSettings {
	return &SocketSettings{
		HandshakeTimeout: 5 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		PingTimeout:      20 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// SocketTransport multiplexes every subscription over one websocket. The
// socket listens on the union of all subscribed topics and is reopened when
// that union changes.
type SocketTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	endpoint *url.URL
	project  string
	header   func() http.Header
	settings *SocketSettings
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu         sync.Mutex
	subs       map[uint64]*socketSub
	nextID     uint64
	topics     []string
	connCancel context.CancelFunc
}

type socketSub struct {
	topics  []string
	handler func(Event)
}

// socketMessage is the envelope of every frame the store sends.
type socketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SocketOption configures a SocketTransport.
type SocketOption func(*SocketTransport)

// WithHeader supplies request headers, such as session cookies, for each dial.
func WithHeader(fn func() http.Header) SocketOption {
	return func(t *SocketTransport) { t.header = fn }
}

// WithSettings replaces the default timeouts.
func WithSettings(s *SocketSettings) SocketOption {
	return func(t *SocketTransport) { t.settings = s }
}

// WithSocketLogger sets the logger.
func WithSocketLogger(l *zap.Logger) SocketOption {
	return func(t *SocketTransport) { t.logger = l }
}

// NewSocketTransport returns a transport for the store at endpoint, the same
// base URL the REST gateway uses. No connection is made until Subscribe.
func NewSocketTransport(endpoint, project string, opts ...SocketOption) (*SocketTransport, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/") + "/realtime")
	if err != nil {
		return nil, fmt.Errorf("parse realtime endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &SocketTransport{
		ctx:      ctx,
		cancel:   cancel,
		endpoint: u,
		project:  project,
		header:   func() http.Header { return nil },
		settings: DefaultSocketSettings(),
		logger:   zap.NewNop(),
		subs:     map[uint64]*socketSub{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.settings.HandshakeTimeout,
	}
	return t, nil
}

// Subscribe adds handler for topics. When the topic union grows the socket is
// reopened before Subscribe returns, so a dial failure is reported here.
func (t *SocketTransport) Subscribe(topics []string, handler func(Event)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}

	t.nextID++
	id := t.nextID
	t.subs[id] = &socketSub{topics: slices.Clone(topics), handler: handler}

	union := t.unionLocked()
	if !slices.Equal(union, t.topics) {
		ws, err := t.dial(union)
		if err != nil {
			delete(t.subs, id)
			return nil, err
		}
		t.restartLocked(union, ws)
	}

	var once sync.Once
	return func() { once.Do(func() { t.remove(id) }) }, nil
}

func (t *SocketTransport) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
	union := t.unionLocked()
	if slices.Equal(union, t.topics) {
		return
	}
	if len(union) == 0 {
		t.stopLocked()
		return
	}
	// The run loop dials on its own when handed no connection.
	t.restartLocked(union, nil)
}

// Close drops every subscription and closes the socket.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.subs = map[uint64]*socketSub{}
	t.cancel()
	return nil
}

func (t *SocketTransport) unionLocked() []string {
	var union []string
	for _, s := range t.subs {
		union = append(union, s.topics...)
	}
	slices.Sort(union)
	return slices.Compact(union)
}

func (t *SocketTransport) stopLocked() {
	if t.connCancel != nil {
		t.connCancel()
		t.connCancel = nil
	}
	t.topics = nil
}

func (t *SocketTransport) restartLocked(topics []string, ws *websocket.Conn) {
	t.stopLocked()
	ctx, cancel := context.WithCancel(t.ctx)
	t.connCancel = cancel
	t.topics = topics
	go t.run(ctx, topics, ws)
}

func (t *SocketTransport) dial(topics []string) (*websocket.Conn, error) {
	u := *t.endpoint
	q := url.Values{"project": {t.project}}
	for _, topic := range topics {
		q.Add("channels[]", topic)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(t.ctx, t.settings.HandshakeTimeout)
	defer cancel()
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), t.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return ws, nil
}

// run serves one topic set until ctx ends, redialing after each dropped
// connection.
func (t *SocketTransport) run(ctx context.Context, topics []string, ws *websocket.Conn) {
	for {
		if ws == nil {
			var err error
			ws, err = t.dial(topics)
			if err != nil {
				t.logger.Info("realtime dial failed", zap.Error(err))
			}
		}
		if ws != nil {
			t.serve(ctx, ws)
			ws = nil
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.settings.ReconnectTimeout):
		}
	}
}

func (t *SocketTransport) serve(ctx context.Context, ws *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(t.settings.PingTimeout):
				deadline := time.Now().Add(t.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
	})
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if handleCtx.Err() == nil {
				t.logger.Info("realtime connection lost", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))

		var msg socketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			t.logger.Debug("realtime frame ignored", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "event":
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				t.logger.Debug("realtime event ignored", zap.Error(err))
				continue
			}
			t.deliver(ev)
		case "error":
			t.logger.Warn("realtime error frame", zap.ByteString("data", msg.Data))
		}
	}
}

// deliver hands ev to every subscription sharing one of its channels.
func (t *SocketTransport) deliver(ev Event) {
	t.mu.Lock()
	var handlers []func(Event)
	for _, s := range t.subs {
		if overlaps(s.topics, ev) {
			handlers = append(handlers, s.handler)
		}
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func overlaps(topics []string, ev Event) bool {
	for _, topic := range topics {
		if slices.Contains(ev.Channels, topic) {
			return true
		}
		for _, name := range ev.Events {
			if strings.HasPrefix(name, topic+".") {
				return true
			}
		}
	}
	return false
}
