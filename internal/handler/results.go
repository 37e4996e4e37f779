package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fitsa/fitsa/internal/storage"
)

// BlobOpener reads stored result images by key.
type BlobOpener interface {
	Open(key string) ([]byte, string, error)
}

// ResultHandler serves result images kept in process memory.
type ResultHandler struct {
	blobs BlobOpener
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(blobs BlobOpener) *ResultHandler {
	return &ResultHandler{blobs: blobs}
}

// Serve handles GET /results/*.
func (h *ResultHandler) Serve(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.blobs.Open(chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "result not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
