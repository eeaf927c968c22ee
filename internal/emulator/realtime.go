package emulator

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is the payload of a realtime "event" frame.
type Event struct {
	Events    []string       `json:"events"`
	Channels  []string       `json:"channels"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Broadcaster fans events out to subscribers. Slow subscribers miss events
// rather than block writers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[chan Event]struct{}{}}
}

// Subscribe returns a channel receiving every published event. It is closed
// by Unsubscribe or Close.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

const realtimeWriteTimeout = 5 * time.Second

// handleRealtime upgrades the connection and forwards events on the requested
// channels until either side closes.
func (e *Emulator) handleRealtime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("project") != e.cfg.Project {
		writeError(w, http.StatusNotFound, "project_not_found", "project not found")
		return
	}
	channels := q["channels[]"]
	if len(channels) == 0 {
		writeError(w, http.StatusBadRequest, "realtime_message_format_invalid", "missing channels")
		return
	}

	// Subscribe before the handshake completes so no event published after
	// the client's dial returns is missed.
	sub := e.events.Subscribe(64)
	defer e.events.Unsubscribe(sub)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var user any
	if u, err := e.sessionUser(r); err == nil {
		user = u.view()
	}
	ws.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
	if err := ws.WriteJSON(frame{Type: "connected", Data: map[string]any{"channels": channels, "user": user}}); err != nil {
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-readErr:
			return
		case ev, ok := <-sub:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			matched := matchChannels(ev.Channels, channels)
			if len(matched) == 0 {
				continue
			}
			ev.Channels = matched
			ws.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
			if err := ws.WriteJSON(frame{Type: "event", Data: ev}); err != nil {
				e.logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		}
	}
}

func matchChannels(event, wanted []string) []string {
	var out []string
	for _, c := range event {
		if slices.Contains(wanted, c) {
			out = append(out, c)
		}
	}
	return out
}
