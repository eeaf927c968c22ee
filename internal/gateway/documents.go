package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/metrics"
	"github.com/mesh-intelligence/docrel/internal/schema"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// UniqueID asks the store to generate a document identifier.
const UniqueID = "unique()"

type listResponse struct {
	Total     int              `json:"total"`
	Documents []map[string]any `json:"documents"`
}

func (c *Client) documentsPath(collection string) string {
	return fmt.Sprintf("/databases/%s/collections/%s/documents",
		url.PathEscape(c.database), url.PathEscape(collection))
}

func (c *Client) documentPath(collection, id string) string {
	return c.documentsPath(collection) + "/" + url.PathEscape(id)
}

// List fetches every page of rows matching q. When the store rejects the
// pushed-down query with 400, the table is re-read without any query and the
// result is marked Fallback so the caller filters in memory.
func (c *Client) List(ctx context.Context, table string, q types.ListQuery) (*types.ListResult, error) {
	collection, err := c.registry.Collection(table)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "gateway.list", trace.WithAttributes(
		attribute.String("docrel.table", table),
		attribute.String("docrel.collection", collection),
	))
	defer span.End()

	p := planQuery(q)
	res, err := c.fetchAll(ctx, collection, p)
	if err != nil && p.pushed() && types.IsStatus(err, http.StatusBadRequest) {
		c.logger.Warn("store rejected query, listing unfiltered",
			zap.String("table", table), zap.String("collection", collection),
			zap.String("trace_id", span.SpanContext().TraceID().String()), zap.Error(err))
		metrics.PushdownFallbacks.WithLabelValues(collection).Inc()
		res, err = c.fetchAll(ctx, collection, plan{})
		if res != nil {
			res.Fallback = true
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("docrel.rows", len(res.Rows)))
	return res, nil
}

// fetchAll requests pages strictly in offset order, each continuation depending
// on the previous page's count and the store-reported total.
func (c *Client) fetchAll(ctx context.Context, collection string, p plan) (*types.ListResult, error) {
	res := &types.ListResult{Rows: []types.Record{}, Windowed: p.windowed}
	offset := p.offset
	for page := 0; ; page++ {
		if page > 0 && offset >= c.maxOffset {
			c.logger.Warn("listing stopped at offset ceiling",
				zap.String("collection", collection), zap.Int("offset", offset), zap.Int("total", res.Total))
			break
		}
		size := c.pageSize
		if p.limit > 0 {
			remaining := p.limit - len(res.Rows)
			if remaining <= 0 {
				break
			}
			size = min(size, remaining)
		}

		queries := append(append([]string{}, p.queries...), limitQuery(size), offsetQuery(offset))
		var body listResponse
		if err := c.Call(ctx, http.MethodGet, c.documentsPath(collection), url.Values{"queries[]": queries}, nil, &body); err != nil {
			return nil, err
		}
		metrics.PagesFetched.Inc()

		for _, doc := range body.Documents {
			res.Rows = append(res.Rows, normalizeDocument(doc))
		}
		res.Total = body.Total
		offset += len(body.Documents)
		if len(body.Documents) < size || offset >= body.Total {
			break
		}
	}
	return res, nil
}

// Create inserts payload after sanitizing it. A non-empty string "id" in
// payload becomes the document identifier; otherwise the store assigns one.
func (c *Client) Create(ctx context.Context, table string, payload types.Record) (types.Record, error) {
	t, err := c.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	documentID := UniqueID
	if id, ok := payload[types.FieldID].(string); ok && id != "" {
		documentID = id
	}
	body := map[string]any{
		"documentId": documentID,
		"data":       schema.Sanitize(t, payload, true, c.now()),
	}
	var doc map[string]any
	if err := c.Call(ctx, http.MethodPost, c.documentsPath(t.Collection), nil, body, &doc); err != nil {
		return nil, err
	}
	return normalizeDocument(doc), nil
}

// Update patches the document identified by id.
func (c *Client) Update(ctx context.Context, table, id string, payload types.Record) (types.Record, error) {
	if id == "" {
		return nil, types.ErrMissingID
	}
	t, err := c.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"data": schema.Sanitize(t, payload, false, c.now())}
	var doc map[string]any
	if err := c.Call(ctx, http.MethodPatch, c.documentPath(t.Collection, id), nil, body, &doc); err != nil {
		return nil, err
	}
	return normalizeDocument(doc), nil
}

// Remove deletes the document identified by id.
func (c *Client) Remove(ctx context.Context, table, id string) error {
	if id == "" {
		return types.ErrMissingID
	}
	collection, err := c.registry.Collection(table)
	if err != nil {
		return err
	}
	return c.Call(ctx, http.MethodDelete, c.documentPath(collection, id), nil, nil, nil)
}

// normalizeDocument strips store metadata ($-prefixed keys) and maps the store
// identifier and timestamps onto id, created_at and updated_at. Stored
// timestamp fields win over the store's own.
func normalizeDocument(doc map[string]any) types.Record {
	rec := make(types.Record, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "$") {
			continue
		}
		rec[k] = v
	}
	if id, ok := doc["$id"].(string); ok {
		rec[types.FieldID] = id
	}
	fill := func(field, meta string) {
		if v, ok := rec[field]; ok && v != nil {
			return
		}
		if v, ok := doc[meta]; ok {
			rec[field] = v
		}
	}
	fill(types.FieldCreatedAt, "$createdAt")
	fill(types.FieldUpdatedAt, "$updatedAt")
	return rec
}

// NormalizeDocument exposes document normalization to realtime payload handling.
func NormalizeDocument(doc map[string]any) types.Record {
	return normalizeDocument(doc)
}
