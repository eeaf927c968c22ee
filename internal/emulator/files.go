package emulator

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 32 << 20

var (
	errFileNotFound = errors.New("file not found")
	errFileExists   = errors.New("file already exists")
)

type fileRow struct {
	Bucket    string `db:"bucket"`
	ID        string `db:"id"`
	Name      string `db:"name"`
	MimeType  string `db:"mime_type"`
	Size      int64  `db:"size"`
	Content   []byte `db:"content"`
	CreatedAt string `db:"created_at"`
}

func (f fileRow) view() map[string]any {
	return map[string]any{
		"$id":          f.ID,
		"bucketId":     f.Bucket,
		"$createdAt":   f.CreatedAt,
		"$updatedAt":   f.CreatedAt,
		"name":         f.Name,
		"mimeType":     f.MimeType,
		"sizeOriginal": f.Size,
	}
}

func (e *Emulator) putFile(ctx context.Context, f fileRow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n int
	if err := e.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM files WHERE bucket = ? AND id = ?", f.Bucket, f.ID); err != nil {
		return err
	}
	if n > 0 {
		return errFileExists
	}
	_, err := e.db.NamedExecContext(ctx,
		`INSERT INTO files (bucket, id, name, mime_type, size, content, created_at)
		 VALUES (:bucket, :id, :name, :mime_type, :size, :content, :created_at)`, f)
	return err
}

func (e *Emulator) getFile(ctx context.Context, bucket, id string) (fileRow, error) {
	var f fileRow
	err := e.db.GetContext(ctx, &f, "SELECT * FROM files WHERE bucket = ? AND id = ?", bucket, id)
	if errors.Is(err, sql.ErrNoRows) {
		return f, errFileNotFound
	}
	return f, err
}

func (e *Emulator) deleteFile(ctx context.Context, bucket, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, "DELETE FROM files WHERE bucket = ? AND id = ?", bucket, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errFileNotFound
	}
	return nil
}

func (e *Emulator) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "storage_invalid_file", err.Error())
		return
	}
	src, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "storage_invalid_file", "missing file part")
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, "storage_invalid_file", err.Error())
		return
	}

	id := r.FormValue("fileId")
	if id == "" || id == "unique()" {
		id = newDocumentID()
	}
	mimeType := hdr.Header.Get("Content-Type")
	if byExt := mime.TypeByExtension(filepath.Ext(hdr.Filename)); byExt != "" {
		mimeType = byExt
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}
	f := fileRow{
		Bucket:    chi.URLParam(r, "bucket"),
		ID:        id,
		Name:      hdr.Filename,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		Content:   content,
		CreatedAt: e.timestamp(),
	}
	if err := e.putFile(r.Context(), f); err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f.view())
}

func (e *Emulator) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := e.deleteFile(r.Context(), chi.URLParam(r, "bucket"), chi.URLParam(r, "fileID")); err != nil {
		e.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Emulator) handleViewFile(w http.ResponseWriter, r *http.Request) {
	f, err := e.getFile(r.Context(), chi.URLParam(r, "bucket"), chi.URLParam(r, "fileID"))
	if err != nil {
		e.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	_, _ = w.Write(f.Content)
}
