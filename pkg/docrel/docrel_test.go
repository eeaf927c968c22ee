package docrel_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docrel/internal/auth"
	"github.com/mesh-intelligence/docrel/internal/emulator"
	"github.com/mesh-intelligence/docrel/internal/realtime"
	"github.com/mesh-intelligence/docrel/pkg/docrel"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

func newClient(t *testing.T, mutate func(*types.Config)) *docrel.Client {
	t.Helper()
	emu, err := emulator.Open(emulator.Config{Project: "proj", Database: "main"}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(emu.Handler(nil))
	t.Cleanup(func() {
		srv.Close()
		emu.Close()
	})

	cfg := types.Config{
		Endpoint:         srv.URL + "/v1",
		Project:          "proj",
		Database:         "main",
		Policy:           types.DefaultPolicy(),
		PrivilegedEmails: []string{"lead@example.com"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := docrel.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := docrel.New(types.Config{Project: "p", Database: "d"})
	assert.ErrorIs(t, err, types.ErrEndpointEmpty)
}

func TestNew_Defaults(t *testing.T) {
	c := newClient(t, nil)
	cfg := c.Config()
	assert.Equal(t, types.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, types.DefaultRolesTable, cfg.RolesTable)
	assert.Contains(t, cfg.Tables, types.TableTasks)
}

func TestClient_QueryRealtimeAndStorage(t *testing.T) {
	c := newClient(t, nil)
	ctx := context.Background()

	_, err := c.Auth().SignUp(ctx, docrelSignUp("lead@example.com"))
	require.NoError(t, err)

	var woke atomic.Int32
	statuses := make(chan docrel.Status, 2)
	sub := c.Channel("tasks").
		On(docrel.Listen{Event: realtime.EventInsert, Table: types.TableTasks}, func() { woke.Add(1) }).
		Subscribe(func(s docrel.Status, _ error) { statuses <- s })
	defer sub.Unsubscribe()
	require.Equal(t, realtime.StatusSubscribed, <-statuses)

	res, err := c.From(types.TableTasks).
		Insert(types.Record{"title": "write docs", "status": "open", "priority": 2},
			types.Record{"title": "ship", "status": "open", "priority": 1}).
		Select().
		Execute(ctx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	res, err = c.From(types.TableTasks).Select().Eq("status", "open").Order("priority", true).Limit(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ship", res.Rows[0]["title"])
	assert.Equal(t, 2, res.Count)

	require.Eventually(t, func() bool { return woke.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	f, err := c.Storage().Upload(ctx, "attachments", "", "notes.txt", strings.NewReader("hi"), false)
	require.NoError(t, err)
	assert.Contains(t, c.Storage().ViewURL("attachments", f.ID), "project=proj")
}

func TestClient_DisablePushPolls(t *testing.T) {
	c := newClient(t, func(cfg *types.Config) {
		cfg.DisablePush = true
		cfg.PollInterval = 10 * time.Millisecond
		cfg.MinPollInterval = 10 * time.Millisecond
	})

	var ticks atomic.Int32
	sub := c.Channel("poll").
		On(docrel.Listen{Table: types.TableTasks}, func() { ticks.Add(1) }).
		Subscribe(nil)
	defer sub.Unsubscribe()

	assert.Equal(t, realtime.ModePoll, sub.Mode())
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestClient_MemberCannotWriteRoles(t *testing.T) {
	c := newClient(t, nil)
	ctx := context.Background()
	_, err := c.Auth().SignUp(ctx, docrelSignUp("member@example.com"))
	require.NoError(t, err)

	_, err = c.From(types.TableUserRoles).Insert(types.Record{"user_id": "x", "role": "admin"}).Execute(ctx)
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func docrelSignUp(email string) auth.SignUpParams {
	return auth.SignUpParams{Email: email, Password: "long-enough-pw"}
}
