package emulator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docrel/internal/access"
	"github.com/mesh-intelligence/docrel/internal/auth"
	"github.com/mesh-intelligence/docrel/internal/emulator"
	"github.com/mesh-intelligence/docrel/internal/gateway"
	"github.com/mesh-intelligence/docrel/internal/query"
	"github.com/mesh-intelligence/docrel/internal/realtime"
	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/internal/storage"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

const (
	testProject  = "proj"
	testDatabase = "main"
	testKey      = "server-key"
)

type harness struct {
	emu *emulator.Emulator
	srv *httptest.Server
	cfg types.Config
}

func startEmulator(t *testing.T, cfg emulator.Config) *harness {
	t.Helper()
	if cfg.Project == "" {
		cfg.Project = testProject
	}
	if cfg.Database == "" {
		cfg.Database = testDatabase
	}
	emu, err := emulator.Open(cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(emu.Handler(nil))
	t.Cleanup(func() {
		srv.Close()
		emu.Close()
	})
	return &harness{
		emu: emu,
		srv: srv,
		cfg: types.Config{
			Endpoint: srv.URL + "/v1",
			Project:  cfg.Project,
			Database: cfg.Database,
			PageSize: 2,
			Tables:   types.DefaultTables(),
			Policy:   types.DefaultPolicy(),
		},
	}
}

func (h *harness) client(t *testing.T, mutate func(*types.Config)) *gateway.Client {
	t.Helper()
	cfg := h.cfg
	if mutate != nil {
		mutate(&cfg)
	}
	gw, err := gateway.New(cfg, schema.NewRegistry(cfg.Tables))
	require.NoError(t, err)
	return gw
}

func TestDocuments_ThroughGateway(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	gw := h.client(t, nil)
	ctx := context.Background()

	for i, title := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		_, err := gw.Create(ctx, types.TableTasks, types.Record{
			"title":    title,
			"priority": i,
			"status":   map[bool]string{true: "open", false: "done"}[i%2 == 0],
		})
		require.NoError(t, err)
	}

	// Five rows at page size two exercises continuation.
	all, err := gw.List(ctx, types.TableTasks, types.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all.Rows, 5)
	assert.Equal(t, 5, all.Total)
	for _, row := range all.Rows {
		assert.NotEmpty(t, row.ID())
		assert.NotNil(t, row[types.FieldCreatedAt])
	}

	open, err := gw.List(ctx, types.TableTasks, types.ListQuery{
		Filters: []types.Filter{{Field: "status", Op: types.OpEq, Value: "open"}},
		Order:   &types.Order{Field: "priority", Ascending: false},
	})
	require.NoError(t, err)
	require.Len(t, open.Rows, 3)
	assert.Equal(t, "echo", open.Rows[0]["title"])
	assert.Equal(t, "alpha", open.Rows[2]["title"])

	window, err := gw.List(ctx, types.TableTasks, types.ListQuery{
		Filters: []types.Filter{{Field: "priority", Op: types.OpGte, Value: 1}},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	assert.True(t, window.Windowed)
	assert.Equal(t, []any{"charlie", "delta"}, []any{window.Rows[0]["title"], window.Rows[1]["title"]})

	id := open.Rows[0].ID()
	updated, err := gw.Update(ctx, types.TableTasks, id, types.Record{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", updated["status"])
	assert.Equal(t, "echo", updated["title"])

	require.NoError(t, gw.Remove(ctx, types.TableTasks, id))
	err = gw.Remove(ctx, types.TableTasks, id)
	assert.True(t, types.IsStatus(err, http.StatusNotFound), "got %v", err)
}

func TestDocuments_ExplicitIDConflict(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	gw := h.client(t, nil)
	ctx := context.Background()

	_, err := gw.Create(ctx, types.TableProfiles, types.Record{"id": "u1", "email": "a@example.com"})
	require.NoError(t, err)
	_, err = gw.Create(ctx, types.TableProfiles, types.Record{"id": "u1", "email": "b@example.com"})
	assert.True(t, types.IsStatus(err, http.StatusConflict), "got %v", err)
}

func TestList_RejectedQueryIs400(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	q := url.Values{"queries[]": {`{"method":"between","attribute":"n","values":[1,2]}`}}
	req, err := http.NewRequest(http.MethodGet,
		h.srv.URL+"/v1/databases/main/collections/tasks/documents?"+q.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set(gateway.HeaderProject, testProject)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "general_query_invalid", body.Type)
}

func TestRequest_ProjectAndKeyChecks(t *testing.T) {
	h := startEmulator(t, emulator.Config{APIKey: testKey, Collections: []string{"tasks"}})
	ctx := context.Background()

	wrongProject := h.client(t, func(c *types.Config) { c.Project = "other" })
	_, err := wrongProject.List(ctx, types.TableTasks, types.ListQuery{})
	assert.True(t, types.IsStatus(err, http.StatusNotFound), "got %v", err)

	wrongKey := h.client(t, func(c *types.Config) { c.APIKey = "nope" })
	_, err = wrongKey.List(ctx, types.TableTasks, types.ListQuery{})
	assert.True(t, types.IsStatus(err, http.StatusUnauthorized), "got %v", err)

	rightKey := h.client(t, func(c *types.Config) { c.APIKey = testKey })
	_, err = rightKey.List(ctx, types.TableTasks, types.ListQuery{})
	assert.NoError(t, err)

	_, err = rightKey.List(ctx, types.TableProjects, types.ListQuery{})
	var se *types.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "collection_not_found", se.Type)
}

func TestAccount_Lifecycle(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	gw := h.client(t, nil)
	bridge := auth.New(gw)
	ctx := context.Background()

	var events []types.AuthEvent
	bridge.OnAuthStateChange(func(ev types.AuthEvent, _ *types.Session) { events = append(events, ev) })

	s, err := bridge.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = bridge.SignUp(ctx, auth.SignUpParams{
		Email:     "ana@example.com",
		Password:  "correct-horse",
		Name:      "Ana",
		VerifyURL: "http://localhost/verify",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", s.User.Email)
	assert.Equal(t, "Ana", s.User.DisplayName)
	assert.True(t, gw.HasSessionCookie())

	_, err = bridge.SignUp(ctx, auth.SignUpParams{Email: "ana@example.com", Password: "correct-horse"})
	assert.True(t, types.IsStatus(err, http.StatusConflict), "got %v", err)

	u, err := bridge.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, s.User.ID, u.ID)

	require.NoError(t, bridge.SignOut(ctx))
	assert.False(t, gw.HasSessionCookie())
	u, err = bridge.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = bridge.SignInWithPassword(ctx, "ana@example.com", "wrong-password")
	assert.True(t, types.IsUnauthorized(err), "got %v", err)
	s, err = bridge.SignInWithPassword(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", s.User.Email)

	assert.Equal(t, []types.AuthEvent{types.AuthSignedIn, types.AuthSignedOut, types.AuthSignedIn}, events)
}

func TestAccount_ShortPassword(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	bridge := auth.New(h.client(t, nil))
	_, err := bridge.SignUp(context.Background(), auth.SignUpParams{Email: "x@example.com", Password: "short"})
	assert.True(t, types.IsStatus(err, http.StatusBadRequest), "got %v", err)
}

func TestAccount_OAuthRedirectsToFailure(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	bridge := auth.New(h.client(t, nil))
	target, err := bridge.OAuthURL(auth.OAuthParams{Provider: "github", FailureURL: "http://localhost/failed"})
	require.NoError(t, err)

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := noFollow.Get(target)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://localhost/failed", resp.Header.Get("Location"))
}

func TestGuard_RolesFromEmulator(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	ctx := context.Background()

	admin := h.client(t, func(c *types.Config) { c.PrivilegedEmails = []string{"boss@example.com"} })
	member := h.client(t, nil)
	for gw, email := range map[*gateway.Client]string{admin: "boss@example.com", member: "pat@example.com"} {
		_, err := auth.New(gw).SignUp(ctx, auth.SignUpParams{Email: email, Password: "long-enough"})
		require.NoError(t, err)
	}

	newExec := func(gw *gateway.Client, cfg types.Config) *query.Executor {
		guard := access.NewGuard(access.NewPolicy(cfg), auth.New(gw), gw, nil)
		return query.NewExecutor(gw, guard, nil)
	}
	adminCfg := h.cfg
	adminCfg.PrivilegedEmails = []string{"boss@example.com"}
	adminExec := newExec(admin, adminCfg)
	memberExec := newExec(member, h.cfg)

	_, err := memberExec.From(types.TableProjects).Insert(types.Record{"name": "Apollo"}).Execute(ctx)
	assert.ErrorIs(t, err, types.ErrForbidden)

	res, err := adminExec.From(types.TableProjects).Insert(types.Record{"name": "Apollo"}).Select().Single().Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Apollo", res.Row["name"])

	res, err = memberExec.From(types.TableProjects).Select().Eq("name", "Apollo").Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestStorage_UploadViewRemove(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	files := storage.New(h.client(t, nil))
	ctx := context.Background()

	f, err := files.Upload(ctx, "avatars", "u1", "u1.txt", strings.NewReader("hello"), false)
	require.NoError(t, err)
	assert.Equal(t, "u1", f.ID)
	assert.Equal(t, int64(5), f.Size)

	_, err = files.Upload(ctx, "avatars", "u1", "u1.txt", strings.NewReader("again"), false)
	assert.True(t, types.IsStatus(err, http.StatusConflict), "got %v", err)
	_, err = files.Upload(ctx, "avatars", "u1", "u1.txt", strings.NewReader("again"), true)
	require.NoError(t, err)

	resp, err := http.Get(files.ViewURL("avatars", "u1"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "again", string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	require.NoError(t, files.Remove(ctx, "avatars", "u1"))
	err = files.Remove(ctx, "avatars", "u1")
	assert.True(t, types.IsStatus(err, http.StatusNotFound), "got %v", err)
}

func TestRealtime_SocketTransportReceivesChanges(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	gw := h.client(t, nil)

	transport, err := realtime.NewSocketTransport(h.cfg.Endpoint, testProject)
	require.NoError(t, err)
	defer transport.Close()

	var (
		mu     sync.Mutex
		events []realtime.Event
	)
	topic := "databases.main.collections.tasks.documents"
	cancel, err := transport.Subscribe([]string{topic}, func(ev realtime.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, err)
	defer cancel()

	_, err = gw.Create(context.Background(), types.TableTasks, types.Record{"title": "pushed"})
	require.NoError(t, err)
	_, err = gw.Create(context.Background(), types.TableProfiles, types.Record{"email": "ignored@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "pushed", events[0].Payload["title"])
	assert.Contains(t, events[0].Channels, topic)
	assert.Contains(t, events[0].Events, topic+".*.create")
}

func TestRealtime_ChannelOverEmulator(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	gw := h.client(t, nil)
	registry := schema.NewRegistry(h.cfg.Tables)

	hub := realtime.NewHub(testDatabase, registry, realtime.WithTransport(func() (realtime.Transport, error) {
		return realtime.NewSocketTransport(h.cfg.Endpoint, testProject)
	}))
	defer hub.Close()

	var (
		mu    sync.Mutex
		calls int
	)
	status := make(chan realtime.Status, 4)
	sub := hub.Channel("tasks-open").
		On(realtime.Listen{
			Event:  realtime.EventUpdate,
			Table:  types.TableTasks,
			Filter: &types.Filter{Field: "status", Op: types.OpEq, Value: "open"},
		}, func() {
			mu.Lock()
			calls++
			mu.Unlock()
		}).
		Subscribe(func(s realtime.Status, _ error) { status <- s })
	defer sub.Unsubscribe()
	assert.Equal(t, realtime.StatusSubscribed, <-status)
	assert.Equal(t, realtime.ModePush, sub.Mode())

	ctx := context.Background()
	row, err := gw.Create(ctx, types.TableTasks, types.Record{"title": "t", "status": "open"})
	require.NoError(t, err)
	_, err = gw.Update(ctx, types.TableTasks, row.ID(), types.Record{"priority": 1})
	require.NoError(t, err)
	_, err = gw.Update(ctx, types.TableTasks, row.ID(), types.Record{"status": "done"})
	require.NoError(t, err)

	// Insert is the wrong kind and the last update no longer matches.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestClose_RejectsWrites(t *testing.T) {
	h := startEmulator(t, emulator.Config{})
	require.NoError(t, h.emu.Close())
	require.NoError(t, h.emu.Close())

	gw := h.client(t, nil)
	_, err := gw.Create(context.Background(), types.TableTasks, types.Record{"title": "late"})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	emu, err := emulator.Open(emulator.Config{Project: testProject, Database: testDatabase}, nil)
	require.NoError(t, err)
	defer emu.Close()
	srv := httptest.NewServer(emu.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
