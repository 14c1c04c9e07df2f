package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pigeon-im/pigeon/internal/middleware"
	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/ws"
)

type ProfileHandler struct {
	Store store.Store
}

// GetProfiles returns the profiles for a comma-separated id set.
func (h *ProfileHandler) GetProfiles(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	profiles, err := h.Store.GetProfilesByIDs(ids)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	json.NewEncoder(w).Encode(profiles)
}

// Lookup resolves a profile by exact email.
func (h *ProfileHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	profile, err := h.Store.GetProfileByEmail(email)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(profile)
}

type MessageHandler struct {
	Store store.Store
	Hub   *ws.Hub
}

// ListMessages returns the full pair history, both directions, ascending.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	peerID := mux.Vars(r)["peerID"]

	messages, err := h.Store.MessagesBetween(userID, peerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(messages)
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// SendMessage inserts a row (the store assigns id and timestamp) and fans it
// out over the realtime hub.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ReceiverID == "" || req.Content == "" {
		http.Error(w, "receiver_id and content are required", http.StatusBadRequest)
		return
	}

	blocked, err := h.Store.IsBlockedEither(userID, req.ReceiverID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if blocked {
		http.Error(w, "Conversation is blocked", http.StatusForbidden)
		return
	}

	msg, err := h.Store.InsertMessage(userID, req.ReceiverID, req.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Store.AppendAudit(models.AuditEntry{ActorID: userID, Action: "message.send", SubjectID: req.ReceiverID})
	h.Hub.Publish(msg)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// LatestMessage returns the most recent message with a peer, or 204 when the
// pair has never exchanged one.
func (h *MessageHandler) LatestMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	peerID := mux.Vars(r)["peerID"]

	msg, err := h.Store.LatestMessageBetween(userID, peerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(msg)
}

// Counterparts returns distinct peers from the user's recent history.
func (h *MessageHandler) Counterparts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	peers, err := h.Store.RecentCounterparts(userID, 200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if peers == nil {
		peers = []string{}
	}
	json.NewEncoder(w).Encode(peers)
}
