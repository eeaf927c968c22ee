// Package realtime delivers "something changed" notifications for tables.
//
// A Hub owns one push transport, built on first need and shared by every
// Channel it creates. Channels whose push subscription cannot be opened fall
// back to polling and invoke every listener on each tick.
package realtime

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Event is one inbound store notification.
type Event struct {
	Events    []string       `json:"events"`
	Channels  []string       `json:"channels"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Transport opens push subscriptions over a set of topics. The returned
// function cancels the subscription.
type Transport interface {
	Subscribe(topics []string, handler func(Event)) (func(), error)
}

// TransportFactory builds the hub's transport on first need.
type TransportFactory func() (Transport, error)

// Hub creates channels and owns the shared transport.
type Hub struct {
	database     string
	registry     *schema.Registry
	factory      TransportFactory
	pollInterval time.Duration
	minPoll      time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	transport Transport
	subs      map[*Subscription]struct{}
	closed    bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithTransport sets the push transport factory. Without one every channel polls.
func WithTransport(f TransportFactory) Option {
	return func(h *Hub) { h.factory = f }
}

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hub) { h.pollInterval = d }
}

// WithMinPollInterval sets the polling floor.
func WithMinPollInterval(d time.Duration) Option {
	return func(h *Hub) { h.minPoll = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub returns a Hub resolving tables through registry.
func NewHub(database string, registry *schema.Registry, opts ...Option) *Hub {
	h := &Hub{
		database:     database,
		registry:     registry,
		pollInterval: types.DefaultPollInterval,
		minPoll:      types.DefaultMinPollInterval,
		logger:       zap.NewNop(),
		subs:         map[*Subscription]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Channel returns a new, unsubscribed channel.
func (h *Hub) Channel(name string) *Channel {
	return &Channel{hub: h, name: name}
}

// PollInterval is the effective polling period: the configured interval, but
// never below the floor.
func (h *Hub) PollInterval() time.Duration {
	return max(h.pollInterval, h.minPoll)
}

// Topic returns the push topic for a collection.
func (h *Hub) Topic(collection string) string {
	return fmt.Sprintf("databases.%s.collections.%s.documents", h.database, collection)
}

// pushTransport returns the shared transport, building it on first call. A
// failed build is retried on the next call.
func (h *Hub) pushTransport() (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, types.ErrHubClosed
	}
	if h.transport != nil || h.factory == nil {
		return h.transport, nil
	}
	t, err := h.factory()
	if err != nil {
		return nil, err
	}
	h.transport = t
	return t, nil
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) track(s *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) untrack(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Close stops every live subscription and closes the transport. Channels
// subscribed afterwards report ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	t := h.transport
	h.transport = nil
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// topics maps listeners onto the distinct, sorted set of collection topics.
// Listeners on unmapped tables contribute nothing.
func (h *Hub) topics(listeners []*listener) []string {
	set := map[string]struct{}{}
	for _, l := range listeners {
		if l.collection == "" {
			continue
		}
		set[h.Topic(l.collection)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
