package realtime

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketServer accepts realtime connections and remembers the channels each
// one asked for.
type socketServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	channels [][]string
	cookies  []string
}

func (s *socketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, ws)
	s.channels = append(s.channels, r.URL.Query()["channels[]"])
	s.cookies = append(s.cookies, r.Header.Get("Cookie"))
	s.mu.Unlock()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *socketServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *socketServer) send(v any) error {
	s.mu.Lock()
	ws := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	return ws.WriteJSON(v)
}

func newSocketTransport(t *testing.T) (*SocketTransport, *socketServer) {
	t.Helper()
	srv := &socketServer{}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	tr, err := NewSocketTransport(hs.URL+"/v1", "proj",
		WithHeader(func() http.Header { return http.Header{"Cookie": {"a_session_proj=abc"}} }),
		WithSettings(&SocketSettings{
			HandshakeTimeout: time.Second,
			ReconnectTimeout: 20 * time.Millisecond,
			PingTimeout:      time.Second,
			WriteTimeout:     time.Second,
			ReadTimeout:      5 * time.Second,
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, srv
}

func TestSocketTransport_DeliversMatchingEvents(t *testing.T) {
	tr, srv := newSocketTransport(t)
	topic := "databases.main.collections.tasks_col.documents"

	got := make(chan Event, 1)
	stop, err := tr.Subscribe([]string{topic}, func(ev Event) { got <- ev })
	require.NoError(t, err)
	defer stop()

	require.Eventually(t, func() bool { return srv.connections() == 1 }, time.Second, 5*time.Millisecond)
	srv.mu.Lock()
	assert.Equal(t, []string{topic}, srv.channels[0])
	assert.Equal(t, "a_session_proj=abc", srv.cookies[0])
	srv.mu.Unlock()

	require.NoError(t, srv.send(map[string]any{"type": "connected", "data": map[string]any{}}))
	require.NoError(t, srv.send(map[string]any{"type": "event", "data": map[string]any{
		"events":   []string{"databases.main.collections.other.documents.x.create"},
		"channels": []string{"databases.main.collections.other.documents"},
		"payload":  map[string]any{"$id": "x"},
	}}))
	require.NoError(t, srv.send(map[string]any{"type": "event", "data": map[string]any{
		"events":   []string{topic + ".t1.update"},
		"channels": []string{topic},
		"payload":  map[string]any{"$id": "t1", "title": "x"},
	}}))

	select {
	case ev := <-got:
		assert.Equal(t, "t1", ev.Payload["$id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSocketTransport_ReopensOnTopicChange(t *testing.T) {
	tr, srv := newSocketTransport(t)

	stopA, err := tr.Subscribe([]string{"a"}, func(Event) {})
	require.NoError(t, err)
	stopB, err := tr.Subscribe([]string{"b"}, func(Event) {})
	require.NoError(t, err)
	sameAgain, err := tr.Subscribe([]string{"a"}, func(Event) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.connections() == 2 }, time.Second, 5*time.Millisecond)
	srv.mu.Lock()
	assert.Equal(t, []string{"a", "b"}, srv.channels[1])
	srv.mu.Unlock()

	stopA()
	stopA()
	sameAgain()
	require.Eventually(t, func() bool { return srv.connections() == 3 }, time.Second, 5*time.Millisecond)
	srv.mu.Lock()
	assert.Equal(t, []string{"b"}, srv.channels[2])
	srv.mu.Unlock()
	stopB()
}

func TestSocketTransport_DialFailure(t *testing.T) {
	tr, err := NewSocketTransport("http://127.0.0.1:1/v1", "proj")
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Subscribe([]string{"a"}, func(Event) {})
	assert.Error(t, err)
}

func TestNewSocketTransport_Scheme(t *testing.T) {
	tr, err := NewSocketTransport("https://store.example.com/v1/", "p")
	require.NoError(t, err)
	assert.Equal(t, "wss://store.example.com/v1/realtime", tr.endpoint.String())

	_, err = NewSocketTransport("ftp://store.example.com", "p")
	assert.Error(t, err)
}
