package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rentloop/crmbridge/internal/adapters"
	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/middleware"
	"github.com/rentloop/crmbridge/internal/sync"
	"github.com/rentloop/crmbridge/internal/websocket"
)

// Router wraps the mux router and the bridge's collaborators
type Router struct {
	*mux.Router
	db        *database.DB
	cfg       *config.Config
	syncCfg   *config.SyncConfig
	engine    *sync.Engine
	queue     sync.Queue
	mapper    sync.Mapper
	conflicts sync.ConflictStore
	audit     sync.AuditStore
	local     adapters.LocalAdapter
	hub       *websocket.Hub
}

// NewRouter creates the HTTP router with all routes
func NewRouter(db *database.DB, cfg *config.Config, syncCfg *config.SyncConfig,
	engine *sync.Engine, queue sync.Queue, mapper sync.Mapper,
	conflicts sync.ConflictStore, audit sync.AuditStore,
	local adapters.LocalAdapter, remote adapters.RemoteAdapter, hub *websocket.Hub) *Router {
	r := &Router{
		Router:    mux.NewRouter(),
		db:        db,
		cfg:       cfg,
		syncCfg:   syncCfg,
		engine:    engine,
		queue:     queue,
		mapper:    mapper,
		conflicts: conflicts,
		audit:     audit,
		local:     local,
		hub:       hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Webhook ingest (authenticated by HMAC signature, not JWT)
	webhook := NewWebhookHandler(cfg.WebhookSecret, syncCfg, queue, remote, audit)
	r.HandleFunc("/sync/webhooks/{entityType}", webhook.Handle).Methods("POST")

	// Operator API (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	api.HandleFunc("/changes", r.submitChange).Methods("POST")
	api.HandleFunc("/sync/status", r.syncStatus).Methods("GET")
	api.HandleFunc("/sync/audit", r.listAudit).Methods("GET")
	api.HandleFunc("/sync/conflicts", r.listConflicts).Methods("GET")
	api.HandleFunc("/sync/conflicts/{id}/resolve", r.resolveConflict).Methods("POST")
	api.HandleFunc("/sync/entities/{entityType}/{localId}/pause", r.pauseEntity).Methods("POST")
	api.HandleFunc("/sync/entities/{entityType}/{localId}/resume", r.resumeEntity).Methods("POST")
	api.HandleFunc("/sync/poll/{entityType}", r.triggerPoll).Methods("POST")

	// Live operator event feed
	r.HandleFunc("/ws/events", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the bridge
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := r.db.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{
		"status": status,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
