package emulator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/metrics"
)

// Handler returns the HTTP API. Store routes live under /v1; /metrics serves
// reg when it is non-nil.
func (e *Emulator) Handler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(e.observe)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pass"})
	})
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(e.requireProject)

		r.Route("/databases/{db}/collections/{col}/documents", func(r chi.Router) {
			r.Use(e.requireCollection)
			r.Get("/", e.handleListDocuments)
			r.Post("/", e.handleCreateDocument)
			r.Get("/{id}", e.handleGetDocument)
			r.Patch("/{id}", e.handleUpdateDocument)
			r.Delete("/{id}", e.handleDeleteDocument)
		})

		r.Post("/account", e.handleCreateAccount)
		r.Get("/account", e.handleGetAccount)
		r.Post("/account/sessions/email", e.handleCreateSession)
		r.Delete("/account/sessions/current", e.handleDeleteSession)
		r.Post("/account/verification", e.handleCreateVerification)
		r.Put("/account/verification", e.handleConfirmVerification)
		r.Get("/account/sessions/oauth2/{provider}", e.handleOAuth)

		r.Post("/storage/buckets/{bucket}/files", e.handleUploadFile)
		r.Delete("/storage/buckets/{bucket}/files/{fileID}", e.handleDeleteFile)
		r.Get("/storage/buckets/{bucket}/files/{fileID}/view", e.handleViewFile)

		r.Get("/realtime", e.handleRealtime)
	})
	return r
}

// observe counts and logs every request by route pattern.
func (e *Emulator) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.EmulatorRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		e.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// requireProject rejects requests for another project and requests carrying a
// wrong API key.
func (e *Emulator) requireProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := r.Header.Get("X-Appwrite-Project")
		if project == "" {
			project = r.URL.Query().Get("project")
		}
		if project != e.cfg.Project {
			writeError(w, http.StatusNotFound, "project_not_found", "project not found")
			return
		}
		if key := r.Header.Get("X-Appwrite-Key"); key != "" && key != e.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "user_unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Emulator) requireCollection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "db") != e.cfg.Database {
			writeError(w, http.StatusNotFound, "database_not_found", "database not found")
			return
		}
		if !e.knownCollection(chi.URLParam(r, "col")) {
			writeError(w, http.StatusNotFound, "collection_not_found", "collection not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{"message": msg, "code": status, "type": typ})
}

// fail maps domain errors onto store error responses.
func (e *Emulator) fail(w http.ResponseWriter, err error) {
	var qe *queryError
	switch {
	case errors.As(err, &qe):
		writeError(w, http.StatusBadRequest, "general_query_invalid", qe.msg)
	case errors.Is(err, errDocumentNotFound):
		writeError(w, http.StatusNotFound, "document_not_found", err.Error())
	case errors.Is(err, errDocumentExists):
		writeError(w, http.StatusConflict, "document_already_exists", err.Error())
	case errors.Is(err, errUserExists):
		writeError(w, http.StatusConflict, "user_already_exists", err.Error())
	case errors.Is(err, errInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "user_invalid_credentials", err.Error())
	case errors.Is(err, errNoSession):
		writeError(w, http.StatusUnauthorized, "general_unauthorized_scope", "no active session")
	case errors.Is(err, errPasswordTooShort):
		writeError(w, http.StatusBadRequest, "general_argument_invalid", err.Error())
	case errors.Is(err, errFileNotFound):
		writeError(w, http.StatusNotFound, "storage_file_not_found", err.Error())
	case errors.Is(err, errFileExists):
		writeError(w, http.StatusConflict, "storage_file_already_exists", err.Error())
	case errors.Is(err, ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "general_server_error", err.Error())
	default:
		e.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "general_unknown", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "general_argument_invalid", "invalid JSON body")
		return false
	}
	return true
}

func (e *Emulator) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	sel, err := compile(r.URL.Query()["queries[]"])
	if err != nil {
		e.fail(w, err)
		return
	}
	docs, total, err := e.listDocuments(r.Context(), chi.URLParam(r, "col"), sel)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "documents": docs})
}

func (e *Emulator) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	row, err := e.getDocument(r.Context(), chi.URLParam(r, "col"), chi.URLParam(r, "id"))
	if err != nil {
		e.fail(w, err)
		return
	}
	doc, err := e.render(row)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *Emulator) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID string         `json:"documentId"`
		Data       map[string]any `json:"data"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Data == nil {
		writeError(w, http.StatusBadRequest, "document_invalid_structure", "data must be an object")
		return
	}
	doc, err := e.createDocument(r.Context(), chi.URLParam(r, "col"), body.DocumentID, body.Data)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (e *Emulator) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	doc, err := e.updateDocument(r.Context(), chi.URLParam(r, "col"), chi.URLParam(r, "id"), body.Data)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *Emulator) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := e.deleteDocument(r.Context(), chi.URLParam(r, "col"), chi.URLParam(r, "id")); err != nil {
		e.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Emulator) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"userId"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "general_argument_invalid", "email is required")
		return
	}
	u, err := e.createUser(r.Context(), body.UserID, body.Email, body.Password, body.Name)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u.view())
}

func (e *Emulator) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	u, err := e.sessionUser(r)
	if err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.view())
}

func (e *Emulator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s, token, err := e.createSession(r.Context(), body.Email, body.Password)
	if err != nil {
		e.fail(w, err)
		return
	}
	expires, _ := time.Parse(timeLayout, s.ExpiresAt)
	http.SetCookie(w, e.sessionCookie(token, expires))
	writeJSON(w, http.StatusCreated, map[string]any{
		"$id":        s.ID,
		"$createdAt": s.CreatedAt,
		"userId":     s.UserID,
		"expire":     s.ExpiresAt,
		"provider":   "email",
		"current":    true,
	})
}

func (e *Emulator) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	claims, err := e.parseSession(r)
	if err != nil {
		e.fail(w, err)
		return
	}
	if err := e.deleteSession(r.Context(), claims.ID); err != nil {
		e.fail(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: e.cookieName(), Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (e *Emulator) handleCreateVerification(w http.ResponseWriter, r *http.Request) {
	u, err := e.sessionUser(r)
	if err != nil {
		e.fail(w, err)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	target, err := url.Parse(body.URL)
	if err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "general_argument_invalid", "url is required")
		return
	}
	secret := e.createVerification(u.ID)
	q := target.Query()
	q.Set("userId", u.ID)
	q.Set("secret", secret)
	target.RawQuery = q.Encode()
	// No mail is sent; the link is logged for the developer.
	e.logger.Info("verification link", zap.String("email", u.Email), zap.String("url", target.String()))
	writeJSON(w, http.StatusCreated, map[string]any{"$id": secret[:8], "userId": u.ID, "secret": ""})
}

func (e *Emulator) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Secret string `json:"secret"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := e.confirmVerification(r.Context(), body.UserID, body.Secret); err != nil {
		e.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": body.UserID})
}

// handleOAuth sends the browser straight to the failure URL: the emulator
// has no identity providers.
func (e *Emulator) handleOAuth(w http.ResponseWriter, r *http.Request) {
	failure := r.URL.Query().Get("failure")
	if failure == "" {
		writeError(w, http.StatusBadRequest, "project_provider_disabled",
			"provider "+chi.URLParam(r, "provider")+" is not available in the emulator")
		return
	}
	http.Redirect(w, r, failure, http.StatusFound)
}
