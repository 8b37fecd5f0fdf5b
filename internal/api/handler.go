package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"vrac/internal/auth"
	"vrac/internal/files"
	"vrac/internal/logging"
	"vrac/internal/store"
	"vrac/internal/tokens"
)

// Handler handles HTTP requests.
type Handler struct {
	tokens *tokens.Service
	files  *files.Service
	ingest *files.Ingestor
	auth   *auth.Service
	mux    *http.ServeMux
}

// NewHandler creates a new HTTP handler.
func NewHandler(tok *tokens.Service, fs *files.Service, ing *files.Ingestor, au *auth.Service) *Handler {
	h := &Handler{
		tokens: tok,
		files:  fs,
		ingest: ing,
		auth:   au,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/gen", h.handleGenToken)
	h.mux.HandleFunc("GET /f/{token}", h.handleGetToken)
	h.mux.HandleFunc("POST /f/{token}", h.handleUpload)
	h.mux.HandleFunc("GET /f/{token}/{file}", h.handleDownload)
	h.mux.HandleFunc("HEAD /f/{token}/{file}", h.handleDownload)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// GenTokenRequest is the request body for minting a token.
type GenTokenRequest struct {
	Path           string `json:"path"`
	MaxSize        string `json:"max_size"`
	ContentExpires string `json:"content_expires"`
	ValidFor       string `json:"valid_for"`
}

// GenTokenResponse is returned after minting a token.
type GenTokenResponse struct {
	Path           string    `json:"path"`
	URI            string    `json:"uri"`
	MaxSizeMiB     *int64    `json:"max_size_mib,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (h *Handler) handleGenToken(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || !h.auth.Verify(r.Context(), username, password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="vrac"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req GenTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tok, err := h.tokens.RequestToken(r.Context(), tokens.Request{
		Path:           req.Path,
		MaxSize:        req.MaxSize,
		ContentExpires: req.ContentExpires,
		ValidFor:       req.ValidFor,
	})
	var validationErr *tokens.ValidationError
	var dupErr *store.DuplicateTokenError
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
		return
	case errors.As(err, &dupErr):
		http.Error(w, "a token already exists for this path", http.StatusConflict)
		return
	case err != nil:
		logging.HTTP.Errorw("token creation failed", "error", err)
		http.Error(w, "failed to create token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, GenTokenResponse{
		Path:           tok.Path,
		URI:            "/f/" + tok.Path,
		MaxSizeMiB:     tok.MaxSizeMiB,
		TokenExpiresAt: tok.TokenExpiresAt,
	})
}

// FileView describes one downloadable file.
type FileView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   *int64 `json:"size_bytes,omitempty"`
	URI         string `json:"uri"`
}

// TokenView is the three-state answer for GET /f/{token}: absent tokens are
// a plain 404, Fresh tokens describe the upload slot, Used tokens list the
// downloadable files.
type TokenView struct {
	Status         string     `json:"status"`
	Path           string     `json:"path"`
	MaxSizeMiB     *int64     `json:"max_size_mib,omitempty"`
	MaxSizeHuman   string     `json:"max_size_human,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Files          []FileView `json:"files,omitempty"`
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tok := h.resolve(w, r)
	if tok == nil {
		return
	}

	switch tok.Status {
	case store.TokenFresh:
		view := TokenView{
			Status:         "fresh",
			Path:           tok.Path,
			MaxSizeMiB:     tok.MaxSizeMiB,
			TokenExpiresAt: &tok.TokenExpiresAt,
		}
		if tok.MaxSizeMiB != nil {
			view.MaxSizeHuman = humanize.IBytes(uint64(*tok.MaxSizeMiB) << 20)
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, view)

	case store.TokenUsed:
		list, err := h.files.ListFiles(r.Context(), tok)
		if err != nil {
			logging.HTTP.Errorw("listing files failed", "path", tok.Path, "error", err)
			http.Error(w, "failed to list files", http.StatusInternalServerError)
			return
		}
		view := TokenView{Status: "used", Path: tok.Path, Files: make([]FileView, 0, len(list))}
		for _, f := range list {
			view.Files = append(view.Files, FileView{
				ID:          f.ID,
				Name:        f.Name,
				ContentType: f.ContentType,
				SizeBytes:   f.SizeBytes,
				URI:         "/f/" + tok.Path + "/" + strconv.FormatInt(f.ID, 10),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, view)

	default:
		// GetValidToken never returns a Deleted token.
		http.NotFound(w, r)
	}
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Files        int   `json:"files"`
	BytesWritten int64 `json:"bytes_written"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	tok := h.resolve(w, r)
	if tok == nil {
		return
	}
	if tok.Status != store.TokenFresh {
		http.Error(w, "token already consumed", http.StatusConflict)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected a multipart upload", http.StatusBadRequest)
		return
	}

	res, err := h.ingest.Ingest(r.Context(), tok, mr)
	switch {
	case errors.Is(err, files.ErrTooLarge):
		http.Error(w, "upload exceeds the token's size limit", http.StatusRequestEntityTooLarge)
		return
	case errors.Is(err, files.ErrMalformedStream):
		http.Error(w, "malformed multipart stream", http.StatusBadRequest)
		return
	case errors.Is(err, files.ErrTokenNotFresh):
		http.Error(w, "token already consumed", http.StatusConflict)
		return
	case err != nil:
		logging.HTTP.Errorw("upload failed", "path", tok.Path, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, UploadResponse{Files: len(res.Files), BytesWritten: res.BytesWritten})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	tok := h.resolve(w, r)
	if tok == nil {
		return
	}
	if tok.Status != store.TokenUsed {
		// Nothing is downloadable before the token is consumed.
		http.NotFound(w, r)
		return
	}

	fileID, err := strconv.ParseInt(r.PathValue("file"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, fd, err := h.files.Open(r.Context(), tok, fileID)
	if errors.Is(err, files.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logging.HTTP.Errorw("download failed", "path", tok.Path, "file_id", fileID, "error", err)
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	defer fd.Close()

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	// ServeContent handles Range requests, Content-Length, and HEAD.
	http.ServeContent(w, r, f.Name, f.CreatedAt, fd)
}

// resolve looks up the live token for the request, writing a 404 (absent,
// expired and deleted tokens are indistinguishable) or a 500 itself when
// there is nothing for the caller to handle.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) *store.Token {
	path := r.PathValue("token")
	tok, err := h.tokens.ResolveForRead(r.Context(), path)
	if err != nil {
		logging.HTTP.Errorw("token lookup failed", "path", path, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return nil
	}
	if tok == nil {
		http.NotFound(w, r)
		return nil
	}
	return tok
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTP.Errorw("failed to encode response", "error", err)
	}
}
