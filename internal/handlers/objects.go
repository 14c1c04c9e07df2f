package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pigeon-im/pigeon/internal/blob"
	"github.com/pigeon-im/pigeon/internal/middleware"
)

// ObjectHandler serves the object-store surface: authenticated uploads and
// deletes, signed-URL issuance, and capability-checked downloads.
type ObjectHandler struct {
	Blobs   *blob.Store
	BaseURL string
	TTL     time.Duration
}

// Upload streams the request body into the object store. Keys are namespaced
// by the uploading user so one user cannot overwrite another's objects.
func (h *ObjectHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	key := mux.Vars(r)["key"]

	if !strings.HasPrefix(key, userID+"/") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := r.URL.Query().Get("upsert") == "1"

	err := h.Blobs.Put(key, r.Body, contentType, upsert)
	if errors.Is(err, blob.ErrExists) {
		http.Error(w, "Object already exists", http.StatusConflict)
		return
	}
	if errors.Is(err, blob.ErrInvalidPath) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Sign issues a time-limited download URL for a key.
func (h *ObjectHandler) Sign(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("path")
	if key == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	signed, err := h.Blobs.SignedURL(h.BaseURL, key, h.TTL)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":        signed,
		"expires_at": time.Now().Add(h.TTL).Unix(),
	})
}

// Download serves a stored object. No session required: the URL itself is the
// capability, checked against its expiry and signature.
func (h *ObjectHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	q := r.URL.Query()

	if err := h.Blobs.Verify(key, q.Get("exp"), q.Get("sig")); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	rc, contentType, err := h.Blobs.Open(key)
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	io.Copy(w, rc)
}

func (h *ObjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	key := mux.Vars(r)["key"]

	if !strings.HasPrefix(key, userID+"/") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	err := h.Blobs.Delete(key)
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
