package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/rentloop/crmbridge/internal/middleware"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/sync"
)

// ChangeRequest is a local change submitted by the property-management side
type ChangeRequest struct {
	EntityType   string                 `json:"entity_type"`
	LocalID      string                 `json:"local_id"`
	Fields       map[string]interface{} `json:"fields"`
	PreImageHash string                 `json:"pre_image_hash,omitempty"`
}

// submitChange enqueues a local change for push to the CRM
func (r *Router) submitChange(w http.ResponseWriter, req *http.Request) {
	var change ChangeRequest
	if err := json.NewDecoder(req.Body).Decode(&change); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	intent := &sync.ChangeIntent{
		EntityType:   change.EntityType,
		LocalID:      change.LocalID,
		Direction:    sync.DirectionPush,
		Fields:       change.Fields,
		PreImageHash: change.PreImageHash,
		Origin:       sync.OriginLocal,
		SubmittedAt:  time.Now().UTC(),
	}

	priority := 1
	if ec, ok := r.syncCfg.Entities[change.EntityType]; ok {
		priority = ec.Priority
	}

	item, err := r.queue.Enqueue(intent, priority)
	if err != nil {
		var ve *sync.ValidationError
		if errors.As(err, &ve) {
			respondError(w, http.StatusBadRequest, ve.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to queue change")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":          true,
		"queue_item_id":   item.ID,
		"idempotency_key": item.IdempotencyKey,
	})
}

// syncStatus reports engine, queue and cursor health
func (r *Router) syncStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.engine.Status())
}

// listAudit returns recent sync attempts
func (r *Router) listAudit(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	rows, err := r.audit.Recent(req.URL.Query().Get("entity_type"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load audit log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"audit": rows})
}

// listConflicts returns conflicts, filterable by status
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	status := req.URL.Query().Get("status")
	if status == "" {
		status = models.ConflictManualReview
	}

	conflicts, err := r.conflicts.List(status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load conflicts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

// ResolveRequest is an operator decision on a pending conflict. Field
// conflicts carry the chosen value; duplicate conflicts carry an action
// (merge or keep_separate).
type ResolveRequest struct {
	Value  interface{} `json:"value"`
	Action string      `json:"action,omitempty"`
}

// resolveConflict applies an operator decision and re-syncs the entity
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid conflict id")
		return
	}

	var resolve ResolveRequest
	if err := json.NewDecoder(req.Body).Decode(&resolve); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resolved, err := r.conflicts.ResolveManually(uint(id), resolve.Value, operatorEmail(req))
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	switch resolved.ConflictType {
	case models.ConflictTypeDuplicate:
		if err := r.finishDuplicateReview(resolved, resolve.Action); err != nil {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
	default:
		// The chosen value becomes truth on both sides: write it locally
		// and enqueue a push so the remote converges too.
		update := map[string]interface{}{resolved.Field: resolve.Value}
		if err := r.local.Apply(resolved.EntityType, resolved.LocalID, update); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to apply resolution locally")
			return
		}
		intent := &sync.ChangeIntent{
			EntityType:  resolved.EntityType,
			LocalID:     resolved.LocalID,
			Direction:   sync.DirectionPush,
			Fields:      update,
			Origin:      sync.OriginSystem,
			SubmittedAt: time.Now().UTC(),
		}
		if _, err := r.queue.Enqueue(intent, 3); err != nil {
			respondError(w, http.StatusInternalServerError, "Resolution saved but push could not be queued")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"conflict": resolved})
}

// finishDuplicateReview completes a duplicate-entity review. On merge the
// held entity's mapping becomes a merged tombstone, the surviving entity
// inherits the remote link, and children are reassigned; either way the
// surviving entity resumes syncing.
func (r *Router) finishDuplicateReview(conflict *models.SyncConflict, action string) error {
	if action == "merge" && conflict.DuplicateLocalID != nil {
		survivorID := *conflict.DuplicateLocalID
		secondary, err := r.mapper.Get(conflict.EntityType, conflict.LocalID)
		if err != nil {
			return err
		}
		primary, err := r.mapper.Get(conflict.EntityType, survivorID)
		switch {
		case err == nil:
			if err := r.mapper.MarkMerged(secondary, primary.ID); err != nil {
				return err
			}
		case errors.Is(err, sync.ErrNotMapped):
			// Retire the old mapping first so the remote record can be
			// bound to the survivor.
			if err := r.mapper.MarkMerged(secondary, 0); err != nil {
				return err
			}
			if _, err := r.mapper.Bind(conflict.EntityType, survivorID, secondary.RemoteID); err != nil {
				return err
			}
		default:
			return err
		}
		if err := r.local.Reassign(conflict.EntityType, conflict.LocalID, survivorID); err != nil {
			return err
		}
		return r.mapper.SetPaused(conflict.EntityType, survivorID, false)
	}
	return r.mapper.SetPaused(conflict.EntityType, conflict.LocalID, false)
}

// pauseEntity suspends syncing for one entity
func (r *Router) pauseEntity(w http.ResponseWriter, req *http.Request) {
	r.setPaused(w, req, true)
}

// resumeEntity re-enables syncing for one entity
func (r *Router) resumeEntity(w http.ResponseWriter, req *http.Request) {
	r.setPaused(w, req, false)
}

func (r *Router) setPaused(w http.ResponseWriter, req *http.Request, paused bool) {
	vars := mux.Vars(req)
	err := r.mapper.SetPaused(vars["entityType"], vars["localId"], paused)
	if errors.Is(err, sync.ErrNotMapped) {
		respondError(w, http.StatusNotFound, "Entity has no sync mapping")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update pause state")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entityType": vars["entityType"],
		"localId":    vars["localId"],
		"syncPaused": paused,
	})
}

// triggerPoll runs one delta poll immediately
func (r *Router) triggerPoll(w http.ResponseWriter, req *http.Request) {
	entityType := mux.Vars(req)["entityType"]
	if err := r.engine.PollNow(entityType); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"polled": entityType})
}

// operatorEmail extracts the acting operator from the JWT claims
func operatorEmail(req *http.Request) string {
	claims, ok := req.Context().Value(middleware.UserContextKey).(jwt.MapClaims)
	if !ok {
		return "unknown"
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return "unknown"
}
