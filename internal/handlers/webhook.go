package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/sync"
	"github.com/rentloop/crmbridge/internal/utils"
)

// Enqueuer is the slice of the queue the webhook handler needs
type Enqueuer interface {
	Enqueue(intent *sync.ChangeIntent, priority int) (*models.SyncQueueItem, error)
}

// Normalizer converts raw remote payloads to canonical fields
type Normalizer interface {
	Normalize(entityType string, raw map[string]interface{}) (map[string]interface{}, error)
}

// WebhookHandler ingests change notifications pushed by the remote CRM.
// Ingest only verifies, normalizes and enqueues; all sync logic runs in
// the workers.
type WebhookHandler struct {
	secret     string
	syncCfg    *config.SyncConfig
	queue      Enqueuer
	normalizer Normalizer
	audit      sync.AuditStore
}

// webhookPayload is the CRM's notification envelope
type webhookPayload struct {
	Event      string                 `json:"event"`
	RemoteID   string                 `json:"remote_id"`
	OccurredAt string                 `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

// NewWebhookHandler creates the ingest handler
func NewWebhookHandler(secret string, syncCfg *config.SyncConfig, queue Enqueuer, normalizer Normalizer, audit sync.AuditStore) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		syncCfg:    syncCfg,
		queue:      queue,
		normalizer: normalizer,
		audit:      audit,
	}
}

// Handle processes one webhook delivery. Signature failures are 401 and
// never enqueue; malformed payloads are 400; accepted deliveries are 200
// once the change is durably queued.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" || !utils.VerifyWebhookSignature(body, signature, h.secret) {
		respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	entityType := mux.Vars(r)["entityType"]
	ec, known := h.syncCfg.Entities[entityType]
	if !known || !ec.Enabled {
		respondError(w, http.StatusBadRequest, "Unknown or disabled entity type")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed webhook payload")
		return
	}
	if payload.RemoteID == "" || len(payload.Data) == 0 {
		respondError(w, http.StatusBadRequest, "Webhook payload missing remote_id or data")
		return
	}

	fields, err := h.normalizer.Normalize(entityType, payload.Data)
	if err != nil || len(fields) == 0 {
		// Authenticated but unusable; keep a trace for the operator
		h.audit.Record(sync.AuditEntry{
			EntityType: entityType,
			Direction:  string(sync.DirectionPull),
			Status:     models.AuditRejected,
			Err:        err,
			DebugInfo:  map[string]interface{}{"remote_id": payload.RemoteID, "event": payload.Event},
		})
		respondError(w, http.StatusBadRequest, "Webhook payload could not be normalized")
		return
	}

	submittedAt := time.Now().UTC()
	if payload.OccurredAt != "" {
		if t, perr := time.Parse(time.RFC3339, payload.OccurredAt); perr == nil {
			submittedAt = t.UTC()
		}
	}

	intent := &sync.ChangeIntent{
		EntityType:  entityType,
		RemoteID:    payload.RemoteID,
		Direction:   sync.DirectionPull,
		Fields:      fields,
		Origin:      sync.OriginRemote,
		SubmittedAt: submittedAt,
	}
	item, err := h.queue.Enqueue(intent, ec.Priority)
	if err != nil {
		log.Printf("⚠️ Failed to enqueue webhook change for %s:%s: %v", entityType, payload.RemoteID, err)
		respondError(w, http.StatusInternalServerError, "Failed to queue change")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queued":        true,
		"queue_item_id": item.ID,
	})
}
