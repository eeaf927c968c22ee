package emulator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// snapshotRecord is one JSONL line: the document fields plus $id,
// $createdAt and $updatedAt.
type snapshotRecord map[string]any

// readJSONL returns each non-empty, parseable line of path. Malformed lines
// are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL replaces path atomically: temp file, fsync, rename.
func writeJSONL(path string, records []json.RawMessage) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err = w.Write(rec); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		if err = w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// snapshotCollections lists collections with a snapshot file in DataDir.
func (e *Emulator) snapshotCollections() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(e.cfg.DataDir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".jsonl"))
	}
	return names, nil
}

// loadSnapshots seeds the documents table from DataDir. Records without an
// $id are skipped; metadata timestamps default to now.
func (e *Emulator) loadSnapshots(ctx context.Context) error {
	names, err := e.snapshotCollections()
	if err != nil {
		return err
	}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, col := range names {
		records, err := readJSONL(snapshotPath(e.cfg.DataDir, col))
		if err != nil {
			return err
		}
		loaded := 0
		for _, raw := range records {
			var rec snapshotRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				continue
			}
			id, _ := rec["$id"].(string)
			if id == "" {
				continue
			}
			row := documentRow{Collection: col, ID: id, CreatedAt: e.timestamp(), UpdatedAt: e.timestamp()}
			if s, ok := rec["$createdAt"].(string); ok {
				row.CreatedAt = s
			}
			if s, ok := rec["$updatedAt"].(string); ok {
				row.UpdatedAt = s
			}
			buf, err := json.Marshal(cleanData(rec))
			if err != nil {
				return err
			}
			row.Data = string(buf)
			if _, err := tx.NamedExecContext(ctx,
				`INSERT OR REPLACE INTO documents (collection, id, data, created_at, updated_at)
				 VALUES (:collection, :id, :data, :created_at, :updated_at)`, row); err != nil {
				return fmt.Errorf("seed %s/%s: %w", col, id, err)
			}
			loaded++
		}
		e.logger.Info("loaded snapshot", zap.String("collection", col), zap.Int("documents", loaded))
	}
	return tx.Commit()
}

// writeSnapshots rewrites one file per collection that has documents or
// already had a snapshot, so deleting every document empties its file.
func (e *Emulator) writeSnapshots(ctx context.Context) error {
	names, err := e.snapshotCollections()
	if err != nil {
		return err
	}
	var live []string
	if err := e.db.SelectContext(ctx, &live, "SELECT DISTINCT collection FROM documents"); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, n := range append(names, live...) {
		seen[n] = true
	}
	cols := make([]string, 0, len(seen))
	for n := range seen {
		cols = append(cols, n)
	}
	sort.Strings(cols)

	for _, col := range cols {
		var rows []documentRow
		if err := e.db.SelectContext(ctx, &rows,
			"SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = ? ORDER BY rowid",
			col); err != nil {
			return err
		}
		records := make([]json.RawMessage, 0, len(rows))
		for _, row := range rows {
			rec := snapshotRecord{}
			if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
				return fmt.Errorf("decode %s/%s: %w", col, row.ID, err)
			}
			rec["$id"] = row.ID
			rec["$createdAt"] = row.CreatedAt
			rec["$updatedAt"] = row.UpdatedAt
			buf, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			records = append(records, buf)
		}
		if err := writeJSONL(snapshotPath(e.cfg.DataDir, col), records); err != nil {
			return fmt.Errorf("write snapshot %s: %w", col, err)
		}
	}
	return nil
}
