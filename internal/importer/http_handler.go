package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tabimport/internal/domain"
	"tabimport/internal/queue"
	"tabimport/internal/reconcile"
)

// maxUploadBytes caps the multipart form held in memory before spilling.
const maxUploadBytes = 32 << 20

// Handler exposes the import lifecycle over HTTP.
type Handler struct {
	service   *Service
	reconcile *reconcile.Engine
	queue     *queue.Manager
	tempDir   string
}

// NewHTTPHandler registers the import routes on a fresh mux.
func NewHTTPHandler(service *Service, rec *reconcile.Engine, q *queue.Manager, tempDir string) http.Handler {
	h := &Handler{service: service, reconcile: rec, queue: q, tempDir: tempDir}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /imports", h.createImport)
	mux.HandleFunc("GET /imports", h.listImports)
	mux.HandleFunc("GET /imports/{id}", h.getImport)
	mux.HandleFunc("DELETE /imports/{id}", h.deleteImport)
	mux.HandleFunc("GET /queue/{id}", h.getQueueItem)
	mux.HandleFunc("GET /reconcile", h.runReconcile)
	return mux
}

func (h *Handler) createImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	userName := strings.TrimSpace(r.FormValue("userName"))
	userEmail := strings.TrimSpace(r.FormValue("userEmail"))

	tempPath, size, err := h.spillUpload(file, header.Filename)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to store upload: %v", err), http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")

	if h.queue != nil {
		item := h.queue.Enqueue(tempPath, header.Filename, contentType, userID, userName, userEmail)
		writeJSON(w, http.StatusAccepted, item)
		return
	}

	meta, err := h.service.StartImport(r.Context(), StartRequest{
		FilePath:  tempPath,
		FileName:  header.Filename,
		FileType:  contentType,
		FileSize:  size,
		UserID:    userID,
		UserName:  userName,
		UserEmail: userEmail,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, meta)
}

func (h *Handler) listImports(w http.ResponseWriter, r *http.Request) {
	opts := ListOptions{
		Limit:  intQuery(r, "limit", 50),
		Offset: intQuery(r, "offset", 0),
		Status: domain.ImportStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}

	imports, total, err := h.service.ListImports(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imports": imports,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	meta, err := h.service.GetImport(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) deleteImport(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcile.DeleteImport(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getQueueItem(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		http.Error(w, "queue is not enabled", http.StatusNotFound)
		return
	}
	item, ok := h.queue.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "queue item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) runReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Run(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// spillUpload copies the upload to a uniquely named temp file owned by the
// import pipeline from here on.
func (h *Handler) spillUpload(file io.Reader, fileName string) (string, int64, error) {
	dir := h.tempDir
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, fmt.Sprintf("upload-%s%s", uuid.New().String(), filepath.Ext(fileName)))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	size, err := io.Copy(dst, file)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, size, nil
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
