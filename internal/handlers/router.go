package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pigeon-im/pigeon/internal/auth"
	"github.com/pigeon-im/pigeon/internal/blob"
	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/middleware"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/ws"
)

// RouterConfig carries everything the HTTP surface needs. Limiter is
// optional: when nil the auth endpoints run unthrottled (tests).
type RouterConfig struct {
	Store   store.Store
	Hub     *ws.Hub
	JWT     *auth.JWTManager
	Blobs   *blob.Store
	BaseURL string
	SignTTL time.Duration
	Limiter *middleware.LimiterStore
}

// NewRouter builds the full gateway router.
func NewRouter(cfg RouterConfig) *mux.Router {
	authHandler := &AuthHandler{Store: cfg.Store, JWT: cfg.JWT}
	profileHandler := &ProfileHandler{Store: cfg.Store}
	messageHandler := &MessageHandler{Store: cfg.Store, Hub: cfg.Hub}
	relationHandler := &RelationHandler{Store: cfg.Store}
	objectHandler := &ObjectHandler{Blobs: cfg.Blobs, BaseURL: cfg.BaseURL, TTL: cfg.SignTTL}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	// Credential endpoints sit outside the session, throttled per client IP.
	public := r.NewRoute().Subrouter()
	if cfg.Limiter != nil {
		public.Use(middleware.RateLimit(cfg.Limiter))
	}
	public.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	public.HandleFunc("/login", authHandler.Login).Methods("POST")

	// Downloads carry their capability in the URL, no session needed.
	r.HandleFunc("/objects/{key:.+}", objectHandler.Download).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.Auth(cfg.JWT))

	api.HandleFunc("/profiles", profileHandler.GetProfiles).Methods("GET")
	api.HandleFunc("/profiles/lookup", profileHandler.Lookup).Methods("GET")

	api.HandleFunc("/messages", messageHandler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{peerID}", messageHandler.ListMessages).Methods("GET")
	api.HandleFunc("/messages/{peerID}/latest", messageHandler.LatestMessage).Methods("GET")
	api.HandleFunc("/counterparts", messageHandler.Counterparts).Methods("GET")

	api.HandleFunc("/contacts", relationHandler.ListContacts).Methods("GET")
	api.HandleFunc("/contacts/{id}", relationHandler.PutContact).Methods("PUT")
	api.HandleFunc("/contacts/{id}", relationHandler.DeleteContact).Methods("DELETE")

	api.HandleFunc("/blocks", relationHandler.ListBlocks).Methods("GET")
	api.HandleFunc("/blocks/{id}", relationHandler.PutBlock).Methods("PUT")
	api.HandleFunc("/blocks/{id}", relationHandler.DeleteBlock).Methods("DELETE")

	api.HandleFunc("/archives", relationHandler.ListArchives).Methods("GET")
	api.HandleFunc("/archives/{id}", relationHandler.PutArchive).Methods("PUT")
	api.HandleFunc("/archives/{id}", relationHandler.DeleteArchive).Methods("DELETE")

	api.HandleFunc("/objects/{key:.+}", objectHandler.Upload).Methods("PUT")
	api.HandleFunc("/objects/{key:.+}", objectHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sign", objectHandler.Sign).Methods("GET")

	api.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(cfg.Hub, w, r, middleware.UserID(r.Context()))
	}).Methods("GET")

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.L.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
