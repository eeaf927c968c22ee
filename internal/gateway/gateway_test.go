package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// fakeStore serves a fixed set of documents with limit/offset paging and
// records the queries it saw.
type fakeStore struct {
	docs         []map[string]any
	requests     atomic.Int32
	rejectFilter bool
	lastQueries  []string
	lastHeaders  http.Header
	lastBody     map[string]any
	lastMethod   string
	lastPath     string
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.lastHeaders = r.Header.Clone()
	s.lastMethod, s.lastPath = r.Method, r.URL.Path
	switch r.Method {
	case http.MethodGet:
		queries := r.URL.Query()["queries[]"]
		s.lastQueries = queries
		limit, offset := 25, 0
		for _, raw := range queries {
			var q nativeQuery
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			switch q.Method {
			case "limit":
				limit = int(q.Values[0].(float64))
			case "offset":
				offset = int(q.Values[0].(float64))
			default:
				if s.rejectFilter {
					w.WriteHeader(http.StatusBadRequest)
					fmt.Fprint(w, `{"message":"Index not found","code":400,"type":"index_not_found"}`)
					return
				}
			}
		}
		end := min(offset+limit, len(s.docs))
		page := []map[string]any{}
		if offset < len(s.docs) {
			page = s.docs[offset:end]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total": len(s.docs), "documents": page})
	case http.MethodPost, http.MethodPatch:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.lastBody = body
		id, _ := body["documentId"].(string)
		if r.Method == http.MethodPatch {
			id = path.Base(r.URL.Path)
		} else if id == "" || id == UniqueID {
			id = "generated-1"
		}
		doc := map[string]any{"$id": id, "$createdAt": "2024-01-01T00:00:00.000+00:00", "$updatedAt": "2024-01-01T00:00:00.000+00:00"}
		if data, ok := body["data"].(map[string]any); ok {
			for k, v := range data {
				doc[k] = v
			}
		}
		_ = json.NewEncoder(w).Encode(doc)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTestClient(t *testing.T, h http.Handler, mutate ...func(*types.Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := types.Config{Endpoint: srv.URL + "/v1", Project: "proj", Database: "main"}
	for _, m := range mutate {
		m(&cfg)
	}
	reg := schema.NewRegistry(map[string]types.TableConfig{
		"tasks":    {Collection: "tasks_col", Fields: []string{"title", "status", "created_at", "updated_at"}},
		"unmapped": {},
	})
	c, err := New(cfg, reg, WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return c
}

func makeDocs(n int) []map[string]any {
	docs := make([]map[string]any, n)
	for i := range docs {
		docs[i] = map[string]any{"$id": fmt.Sprintf("doc-%03d", i), "$collectionId": "tasks_col", "title": fmt.Sprintf("t%d", i)}
	}
	return docs
}

func TestList_PaginatesToTotal(t *testing.T) {
	store := &fakeStore{docs: makeDocs(250)}
	c := newTestClient(t, store)

	res, err := c.List(context.Background(), "tasks", types.ListQuery{})
	require.NoError(t, err)

	assert.EqualValues(t, 3, store.requests.Load())
	assert.Len(t, res.Rows, 250)
	assert.Equal(t, 250, res.Total)
	seen := map[string]bool{}
	for i, row := range res.Rows {
		assert.Equal(t, fmt.Sprintf("doc-%03d", i), row.ID(), "no gaps")
		assert.False(t, seen[row.ID()], "no duplicates")
		seen[row.ID()] = true
		assert.NotContains(t, row, "$collectionId")
	}
}

func TestList_ExactPageMultipleStopsOnTotal(t *testing.T) {
	store := &fakeStore{docs: makeDocs(200)}
	c := newTestClient(t, store)

	res, err := c.List(context.Background(), "tasks", types.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 200)
	assert.EqualValues(t, 2, store.requests.Load())
}

func TestList_OffsetCeiling(t *testing.T) {
	store := &fakeStore{docs: makeDocs(400)}
	c := newTestClient(t, store, func(cfg *types.Config) { cfg.MaxOffset = 200 })

	res, err := c.List(context.Background(), "tasks", types.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 200)
	assert.EqualValues(t, 2, store.requests.Load())
}

func TestList_Headers(t *testing.T) {
	store := &fakeStore{docs: makeDocs(1)}
	c := newTestClient(t, store, func(cfg *types.Config) { cfg.APIKey = "secret" })

	_, err := c.List(context.Background(), "tasks", types.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, "proj", store.lastHeaders.Get(HeaderProject))
	assert.Equal(t, "secret", store.lastHeaders.Get(HeaderKey))
}

func TestList_PushesDownWindow(t *testing.T) {
	store := &fakeStore{docs: makeDocs(50)}
	c := newTestClient(t, store)

	res, err := c.List(context.Background(), "tasks", types.ListQuery{
		Filters: []types.Filter{{Field: "status", Op: types.OpEq, Value: "open"}},
		Limit:   5,
		Offset:  10,
	})
	require.NoError(t, err)
	assert.True(t, res.Windowed)
	assert.Len(t, res.Rows, 5)
	assert.Equal(t, "doc-010", res.Rows[0].ID())
	assert.Contains(t, store.lastQueries, `{"method":"equal","attribute":"status","values":["open"]}`)
	assert.Contains(t, store.lastQueries, `{"method":"limit","values":[5]}`)
	assert.Contains(t, store.lastQueries, `{"method":"offset","values":[10]}`)
}

func TestList_FallsBackWhenStoreRejectsQuery(t *testing.T) {
	store := &fakeStore{docs: makeDocs(3), rejectFilter: true}
	c := newTestClient(t, store)

	res, err := c.List(context.Background(), "tasks", types.ListQuery{
		Filters: []types.Filter{{Field: "status", Op: types.OpEq, Value: "open"}},
		Limit:   1,
	})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.False(t, res.Windowed)
	assert.Len(t, res.Rows, 3, "every row is returned for in-memory evaluation")
	assert.EqualValues(t, 2, store.requests.Load())
}

func TestList_UnmappedTable(t *testing.T) {
	store := &fakeStore{}
	c := newTestClient(t, store)

	_, err := c.List(context.Background(), "unmapped", types.ListQuery{})
	assert.True(t, errors.Is(err, types.ErrTableUnmapped))
	_, err = c.Create(context.Background(), "nope", types.Record{})
	assert.True(t, errors.Is(err, types.ErrTableUnmapped))
	assert.EqualValues(t, 0, store.requests.Load())
}

func TestCreate(t *testing.T) {
	t.Run("store generated id", func(t *testing.T) {
		store := &fakeStore{}
		c := newTestClient(t, store)

		row, err := c.Create(context.Background(), "tasks", types.Record{"title": "Fix bug", "status": types.Undefined, "junk": 1})
		require.NoError(t, err)

		assert.Equal(t, UniqueID, store.lastBody["documentId"])
		assert.Equal(t, map[string]any{
			"title":      "Fix bug",
			"created_at": "2024-05-01T00:00:00Z",
			"updated_at": "2024-05-01T00:00:00Z",
		}, store.lastBody["data"])
		assert.Equal(t, "generated-1", row.ID())
		assert.Equal(t, "2024-05-01T00:00:00Z", row["created_at"], "stored timestamp wins over store metadata")
	})

	t.Run("caller supplied id", func(t *testing.T) {
		store := &fakeStore{}
		c := newTestClient(t, store)

		row, err := c.Create(context.Background(), "tasks", types.Record{"id": "mine", "title": "x"})
		require.NoError(t, err)
		assert.Equal(t, "mine", store.lastBody["documentId"])
		assert.NotContains(t, store.lastBody["data"], "id")
		assert.Equal(t, "mine", row.ID())
	})
}

func TestUpdateAndRemove(t *testing.T) {
	store := &fakeStore{}
	c := newTestClient(t, store)

	row, err := c.Update(context.Background(), "tasks", "abc", types.Record{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, store.lastMethod)
	assert.Equal(t, "/v1/databases/main/collections/tasks_col/documents/abc", store.lastPath)
	assert.Equal(t, "abc", row.ID())
	assert.Equal(t, map[string]any{"status": "done", "updated_at": "2024-05-01T00:00:00Z"}, store.lastBody["data"])

	require.NoError(t, c.Remove(context.Background(), "tasks", "abc"))
	assert.Equal(t, http.MethodDelete, store.lastMethod)
	assert.Equal(t, "/v1/databases/main/collections/tasks_col/documents/abc", store.lastPath)

	_, err = c.Update(context.Background(), "tasks", "", types.Record{})
	assert.ErrorIs(t, err, types.ErrMissingID)
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    types.StoreError
	}{
		{
			name:   "json body",
			status: http.StatusNotFound,
			body:   `{"message":"Document not found","code":404,"type":"document_not_found"}`,
			want:   types.StoreError{Message: "Document not found", Status: 404, Type: "document_not_found", Code: 404},
		},
		{
			name:   "plain body",
			status: http.StatusBadGateway,
			body:   "upstream down\n",
			want:   types.StoreError{Message: "upstream down", Status: 502},
		},
		{
			name:   "empty body",
			status: http.StatusUnauthorized,
			want:   types.StoreError{Message: "Unauthorized", Status: 401},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			err := c.Remove(context.Background(), "tasks", "x")
			var se *types.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.want, *se)
		})
	}
}

func TestSessionCookies(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "a_session_proj", Value: "tok", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "other", Value: "x", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.False(t, c.HasSessionCookie())

	require.NoError(t, c.Call(context.Background(), http.MethodGet, "/account", nil, nil, nil))
	assert.True(t, c.HasSessionCookie())
	require.Len(t, c.SessionCookies(), 1)
	assert.Equal(t, "tok", c.SessionCookies()[0].Value)

	c.ClearSession()
	assert.False(t, c.HasSessionCookie())

	c.RestoreSession([]*http.Cookie{{Name: "a_session_proj", Value: "again", Path: "/"}})
	assert.True(t, c.HasSessionCookie())
}

func TestURL_KeepsEscapedSegments(t *testing.T) {
	c := newTestClient(t, &fakeStore{})

	got := c.URL(c.documentPath("tasks_col", "a b/c"), nil)
	assert.Contains(t, got, "/v1/databases/main/collections/tasks_col/documents/a%20b%2Fc")
}
