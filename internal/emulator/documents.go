package emulator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// documentRow is one stored document.
type documentRow struct {
	Collection string `db:"collection"`
	ID         string `db:"id"`
	Data       string `db:"data"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

var (
	errDocumentNotFound = errors.New("document not found")
	errDocumentExists   = errors.New("document already exists")
)

// render merges stored fields with the store's metadata attributes.
func (e *Emulator) render(row documentRow) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(row.Data), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", row.ID, err)
	}
	doc["$id"] = row.ID
	doc["$collectionId"] = row.Collection
	doc["$databaseId"] = e.cfg.Database
	doc["$createdAt"] = row.CreatedAt
	doc["$updatedAt"] = row.UpdatedAt
	doc["$permissions"] = []string{}
	return doc, nil
}

// cleanData drops metadata keys a client may echo back.
func cleanData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "$") {
			continue
		}
		out[k] = v
	}
	return out
}

// listDocuments returns the selected window and the total match count.
func (e *Emulator) listDocuments(ctx context.Context, collection string, sel *selection) ([]map[string]any, int, error) {
	args := append([]any{collection}, sel.args...)
	where := sel.whereSQL()

	var total int
	if err := e.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM documents"+where, args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT collection, id, data, created_at, updated_at FROM documents" + where +
		" ORDER BY " + strings.Join(sel.order, ", ") + " LIMIT ? OFFSET ?"
	var rows []documentRow
	if err := e.db.SelectContext(ctx, &rows, query, append(args, sel.limit, sel.offset)...); err != nil {
		return nil, 0, err
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		doc, err := e.render(row)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, nil
}

func (e *Emulator) getDocument(ctx context.Context, collection, id string) (documentRow, error) {
	var row documentRow
	err := e.db.GetContext(ctx, &row,
		"SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?",
		collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, errDocumentNotFound
	}
	return row, err
}

func (e *Emulator) createDocument(ctx context.Context, collection, id string, data map[string]any) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	if id == "" || id == "unique()" {
		id = newDocumentID()
	} else if _, err := e.getDocument(ctx, collection, id); err == nil {
		return nil, errDocumentExists
	} else if !errors.Is(err, errDocumentNotFound) {
		return nil, err
	}

	buf, err := json.Marshal(cleanData(data))
	if err != nil {
		return nil, err
	}
	now := e.timestamp()
	row := documentRow{Collection: collection, ID: id, Data: string(buf), CreatedAt: now, UpdatedAt: now}
	if _, err := e.db.NamedExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES (:collection, :id, :data, :created_at, :updated_at)`, row); err != nil {
		return nil, err
	}
	return e.publish(row, "create")
}

func (e *Emulator) updateDocument(ctx context.Context, collection, id string, patch map[string]any) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	row, err := e.getDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, err
	}
	for k, v := range cleanData(patch) {
		data[k] = v
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	row.Data = string(buf)
	row.UpdatedAt = e.timestamp()
	if _, err := e.db.NamedExecContext(ctx,
		`UPDATE documents SET data = :data, updated_at = :updated_at
		 WHERE collection = :collection AND id = :id`, row); err != nil {
		return nil, err
	}
	return e.publish(row, "update")
}

func (e *Emulator) deleteDocument(ctx context.Context, collection, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	row, err := e.getDocument(ctx, collection, id)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id); err != nil {
		return err
	}
	_, err = e.publish(row, "delete")
	return err
}

// publish renders row and broadcasts the change to realtime clients.
func (e *Emulator) publish(row documentRow, action string) (map[string]any, error) {
	doc, err := e.render(row)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("databases.%s.collections.%s.documents", e.cfg.Database, row.Collection)
	e.events.Publish(Event{
		Events: []string{
			prefix + "." + row.ID + "." + action,
			prefix + "." + row.ID,
			prefix + ".*." + action,
			prefix + ".*",
		},
		Channels:  []string{"documents", prefix, prefix + "." + row.ID},
		Timestamp: e.timestamp(),
		Payload:   doc,
	})
	return doc, nil
}
