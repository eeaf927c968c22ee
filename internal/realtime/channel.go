package realtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/internal/gateway"
	"github.com/mesh-intelligence/docrel/internal/metrics"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Event kinds a listener may ask for.
const (
	EventAll    = "*"
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

var eventActions = map[string]string{
	EventInsert: "create",
	EventUpdate: "update",
	EventDelete: "delete",
}

// Status reports subscription lifecycle to the onStatus callback.
type Status string

const (
	StatusSubscribed Status = "SUBSCRIBED"
	StatusPolling    Status = "POLLING"
	StatusClosed     Status = "CLOSED"
)

// Mode is how a subscription receives changes.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Listen selects which changes wake a listener. An empty Event means every
// kind. A nil Filter matches every row of Table.
type Listen struct {
	Event  string
	Table  string
	Filter *types.Filter
}

type listener struct {
	Listen
	collection string
	callback   func()
}

// Channel groups listeners under one subscription.
type Channel struct {
	hub  *Hub
	name string

	mu         sync.Mutex
	listeners  []*listener
	subscribed bool
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// On registers callback for changes matching l. Callbacks receive no
// payload; they are expected to re-read. Listeners registered after
// Subscribe are ignored.
func (c *Channel) On(l Listen, callback func()) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		c.hub.logger.Warn("listener registered after subscribe ignored",
			zap.String("channel", c.name), zap.String("table", l.Table))
		return c
	}
	collection, err := c.hub.registry.Collection(l.Table)
	if err != nil {
		c.hub.logger.Warn("listener table has no collection", zap.String("table", l.Table), zap.Error(err))
	}
	c.listeners = append(c.listeners, &listener{Listen: l, collection: collection, callback: callback})
	return c
}

// Subscribe starts delivery. Push is used when the hub has a transport and at
// least one listener resolves to a topic; otherwise, or when opening the push
// subscription fails, the channel polls. onStatus may be nil.
func (c *Channel) Subscribe(onStatus func(Status, error)) *Subscription {
	if onStatus == nil {
		onStatus = func(Status, error) {}
	}
	c.mu.Lock()
	c.subscribed = true
	listeners := append([]*listener(nil), c.listeners...)
	c.mu.Unlock()

	s := &Subscription{hub: c.hub, channel: c.name, onStatus: onStatus}
	if c.hub.isClosed() {
		s.closed = true
		onStatus(StatusClosed, types.ErrHubClosed)
		return s
	}

	topics := c.hub.topics(listeners)
	err := c.subscribePush(s, topics, listeners)
	if err == nil && s.stopPush != nil {
		s.mode = ModePush
	} else {
		if err != nil {
			c.hub.logger.Warn("push subscription failed, polling",
				zap.String("channel", c.name), zap.Strings("topics", topics), zap.Error(err))
		}
		s.mode = ModePoll
		s.startPolling(c.hub.PollInterval(), listeners, c.hub.logger)
	}
	metrics.RealtimeSubscriptions.WithLabelValues(string(s.mode)).Inc()

	if s.mode == ModePush {
		onStatus(StatusSubscribed, nil)
	} else {
		onStatus(StatusPolling, err)
	}
	if !c.hub.track(s) {
		s.Unsubscribe()
	}
	return s
}

// subscribePush leaves s.stopPush nil when push is not possible without
// error.
func (c *Channel) subscribePush(s *Subscription, topics []string, listeners []*listener) (err error) {
	if len(topics) == 0 {
		return nil
	}
	t, err := c.hub.pushTransport()
	if err != nil || t == nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	stop, err := t.Subscribe(topics, func(ev Event) {
		dispatch(ev, listeners, c.hub.logger)
	})
	if err != nil {
		return err
	}
	if stop == nil {
		return errors.New("transport returned no cancel function")
	}
	s.stopPush = stop
	return nil
}

// dispatch invokes, back to back, the callback of every listener the event
// matches.
func dispatch(ev Event, listeners []*listener, logger *zap.Logger) {
	var row types.Record
	for _, l := range listeners {
		if !l.matchesKind(ev) {
			continue
		}
		if l.Filter != nil {
			if row == nil {
				row = gateway.NormalizeDocument(ev.Payload)
			}
			if !eval.Matches(row, *l.Filter) {
				continue
			}
		}
		invoke(l, logger)
	}
}

func (l *listener) matchesKind(ev Event) bool {
	if l.collection == "" {
		return false
	}
	want := eventActions[strings.ToUpper(l.Event)]
	for _, name := range ev.Events {
		collection, action, ok := parseEventName(name)
		if !ok || collection != l.collection {
			continue
		}
		if want == "" || want == action {
			return true
		}
	}
	return false
}

// parseEventName extracts collection and action from
// databases.{db}.collections.{col}.documents.{id}.{action}.
func parseEventName(name string) (collection, action string, ok bool) {
	parts := strings.Split(name, ".")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "collections" {
			collection = parts[i+1]
			break
		}
	}
	if collection == "" {
		return "", "", false
	}
	return collection, parts[len(parts)-1], true
}

// invoke runs one callback, recovering and logging a panic so that the
// remaining listeners still run.
func invoke(l *listener, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.Inc()
			logger.Error("realtime listener panicked",
				zap.String("table", l.Table), zap.Any("panic", r))
		}
	}()
	l.callback()
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	hub      *Hub
	channel  string
	onStatus func(Status, error)
	mode     Mode
	closed   bool

	once     sync.Once
	stopPush func()
	stopPoll chan struct{}
}

// Mode reports whether the subscription is push or poll driven.
func (s *Subscription) Mode() Mode { return s.mode }

func (s *Subscription) startPolling(every time.Duration, listeners []*listener, logger *zap.Logger) {
	s.stopPoll = make(chan struct{})
	stop := s.stopPoll
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, l := range listeners {
					invoke(l, logger)
				}
			}
		}
	}()
}

// Unsubscribe stops polling and the push subscription. It is safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.closed {
			return
		}
		if s.stopPoll != nil {
			close(s.stopPoll)
		}
		if s.stopPush != nil {
			s.stopPush()
		}
		s.hub.untrack(s)
		s.onStatus(StatusClosed, nil)
	})
}
