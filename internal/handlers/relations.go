package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pigeon-im/pigeon/internal/middleware"
	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/store"
)

// RelationHandler serves the contacts, blocked-users and archived-chats
// relations. All routes run behind the auth middleware.
type RelationHandler struct {
	Store store.Store
}

func (h *RelationHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	h.writeIDs(w, func(userID string) ([]string, error) { return h.Store.Contacts(userID) }, r)
}

func (h *RelationHandler) PutContact(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	contactID := mux.Vars(r)["id"]

	if err := h.Store.UpsertContact(userID, contactID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if err := h.Store.DeleteContact(userID, mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	h.writeIDs(w, func(userID string) ([]string, error) { return h.Store.BlockedIDs(userID) }, r)
}

func (h *RelationHandler) PutBlock(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	blockedID := mux.Vars(r)["id"]

	err := h.Store.Block(userID, blockedID)
	if errors.Is(err, store.ErrAlreadyBlocked) {
		http.Error(w, "Already blocked", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Store.AppendAudit(models.AuditEntry{ActorID: userID, Action: "user.block", SubjectID: blockedID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if err := h.Store.Unblock(userID, mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	h.writeIDs(w, func(userID string) ([]string, error) { return h.Store.ArchivedIDs(userID) }, r)
}

func (h *RelationHandler) PutArchive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	peerID := mux.Vars(r)["id"]

	err := h.Store.Archive(userID, peerID)
	if errors.Is(err, store.ErrAlreadyArchived) {
		http.Error(w, "Already archived", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Store.AppendAudit(models.AuditEntry{ActorID: userID, Action: "chat.archive", SubjectID: peerID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if err := h.Store.Unarchive(userID, mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelationHandler) writeIDs(w http.ResponseWriter, fetch func(string) ([]string, error), r *http.Request) {
	ids, err := fetch(middleware.UserID(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	json.NewEncoder(w).Encode(ids)
}
