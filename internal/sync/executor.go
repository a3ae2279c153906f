package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rentloop/crmbridge/internal/adapters"
	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
)

// Alerter receives operational events that need a human's attention
// (terminal failures, credential problems, duplicate reviews).
type Alerter interface {
	Alert(event, entityType, localID string, details map[string]interface{})
}

// Executor carries single queue items through the full sync pipeline:
// conflict detection, resolution, the actual remote or local write, and
// the mapping/audit bookkeeping afterwards.
type Executor struct {
	cfg       *config.SyncConfig
	queue     Queue
	mapper    Mapper
	detector  *Detector
	resolver  *Resolver
	conflicts ConflictStore
	audit     AuditStore
	cursors   CursorStore
	remote    adapters.RemoteAdapter
	local     adapters.LocalAdapter
	alerter   Alerter
}

// NewExecutor wires an executor from its collaborators
func NewExecutor(cfg *config.SyncConfig, queue Queue, mapper Mapper, detector *Detector, resolver *Resolver,
	conflicts ConflictStore, audit AuditStore, cursors CursorStore, remote adapters.RemoteAdapter, local adapters.LocalAdapter, alerter Alerter) *Executor {
	return &Executor{
		cfg:       cfg,
		queue:     queue,
		mapper:    mapper,
		detector:  detector,
		resolver:  resolver,
		conflicts: conflicts,
		audit:     audit,
		cursors:   cursors,
		remote:    remote,
		local:     local,
		alerter:   alerter,
	}
}

// Process executes one claimed queue item end to end and settles its queue
// status. Returns the failure, if any, for the caller's logging.
func (e *Executor) Process(ctx context.Context, item *models.SyncQueueItem) error {
	start := time.Now()
	intent := intentFromItem(item)

	var resolution string
	var err error
	switch Direction(item.Direction) {
	case DirectionPush:
		resolution, err = e.processPush(ctx, item, intent)
	case DirectionPull:
		resolution, err = e.processPull(ctx, item, intent)
	default:
		err = &ValidationError{Field: "direction", Reason: fmt.Sprintf("executor cannot run direction %q", item.Direction)}
	}

	entry := AuditEntry{
		QueueItemID: &item.ID,
		EntityType:  item.EntityType,
		LocalID:     item.LocalID,
		Direction:   item.Direction,
		Resolution:  resolution,
		Attempt:     item.AttemptCount + 1,
		Duration:    time.Since(start),
	}

	if err == nil {
		entry.Status = models.AuditSuccess
		e.audit.Record(entry)
		if markErr := e.queue.MarkDone(item); markErr != nil {
			log.Printf("⚠️ Failed to mark queue item %d done: %v", item.ID, markErr)
		}
		return nil
	}

	if errors.Is(err, ErrEntityPaused) {
		// Not a failure: hand the item back untouched for after the
		// operator resumes the entity.
		entry.Status = models.AuditSkipped
		entry.Resolution = "paused"
		e.audit.Record(entry)
		if relErr := e.queue.Release(item); relErr != nil {
			log.Printf("⚠️ Failed to release paused queue item %d: %v", item.ID, relErr)
		}
		return nil
	}

	retryable := classifyError(err)
	entry.Err = err
	entry.DebugInfo = map[string]interface{}{
		"retryable":       retryable,
		"idempotency_key": item.IdempotencyKey,
		"origin":          item.Origin,
	}
	if retryable {
		entry.Status = models.AuditFailed
	} else {
		entry.Status = models.AuditRejected
	}
	e.audit.Record(entry)

	terminal, markErr := e.queue.MarkFailed(item, err, retryable)
	if markErr != nil {
		log.Printf("⚠️ Failed to mark queue item %d failed: %v", item.ID, markErr)
	}
	if terminal {
		log.Printf("🛑 Sync permanently failed for %s:%s after %d attempts: %v",
			item.EntityType, item.LocalID, item.AttemptCount, err)
		e.alerter.Alert("sync_failed", item.EntityType, item.LocalID, map[string]interface{}{
			"queue_item_id": item.ID,
			"direction":     item.Direction,
			"attempts":      item.AttemptCount,
			"error":         err.Error(),
		})
	}
	return err
}

// processPush sends a local change to the remote CRM
func (e *Executor) processPush(ctx context.Context, item *models.SyncQueueItem, intent *ChangeIntent) (string, error) {
	mapping, err := e.mapper.Get(item.EntityType, item.LocalID)
	if errors.Is(err, ErrNotMapped) {
		return e.pushUnmapped(ctx, item, intent)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load mapping for %s:%s: %w", item.EntityType, item.LocalID, err)
	}
	if mapping.Status == models.MappingMerged {
		// Writes against a merged-away entity are stale by definition
		return "redirected_merged", nil
	}
	if mapping.SyncPaused {
		return "", ErrEntityPaused
	}

	payload := make(map[string]interface{}, len(intent.Fields))
	for k, v := range intent.Fields {
		payload[k] = v
	}
	resolution := "clean"

	cleanBase := intent.PreImageHash != "" && intent.PreImageHash == mapping.LastSyncedHash
	if !cleanBase {
		// The pre-image does not prove a clean base, so diff against the
		// remote's current state before writing anything.
		var remoteCurrent map[string]interface{}
		err = e.withAuthRetry(ctx, func() error {
			var ferr error
			remoteCurrent, ferr = e.remote.Fetch(ctx, item.EntityType, mapping.RemoteID)
			return ferr
		})
		if err != nil {
			return "", fmt.Errorf("failed to fetch remote state of %s:%s: %w", item.EntityType, mapping.RemoteID, err)
		}

		check := e.detector.Check(intent, mapping, remoteCurrent)
		if check.Outcome == OutcomeConflict {
			resolution = "resolved"
			for _, field := range check.ConflictFields {
				localVal := intent.Fields[field]
				remoteVal := remoteCurrent[field]
				res := e.resolver.ResolveField(field, localVal, remoteVal)
				if res.Escalate {
					if cerr := e.conflicts.RecordManualReview(item.EntityType, item.LocalID, field, localVal, remoteVal, "normal"); cerr != nil {
						return "", fmt.Errorf("failed to record manual review for field %s: %w", field, cerr)
					}
					delete(payload, field)
					resolution = "partial_manual_review"
					continue
				}
				if cerr := e.conflicts.RecordResolved(item.EntityType, item.LocalID, field, localVal, remoteVal, res); cerr != nil {
					log.Printf("⚠️ Failed to record resolved conflict on %s.%s: %v", item.EntityType, field, cerr)
				}
				payload[field] = res.Value
			}
		}
	}

	// Fields already suspended by an open review never leave the building
	suspended, err := e.conflicts.PendingFields(item.EntityType, item.LocalID)
	if err != nil {
		return "", err
	}
	for _, field := range suspended {
		if _, ok := payload[field]; ok {
			delete(payload, field)
			if resolution == "clean" {
				resolution = "partial_manual_review"
			}
		}
	}

	if len(payload) == 0 {
		log.Printf("⚠️ All fields of %s:%s are under review, nothing to push", item.EntityType, item.LocalID)
		return "all_fields_suspended", nil
	}

	err = e.withAuthRetry(ctx, func() error {
		_, perr := e.remote.Push(ctx, item.EntityType, mapping.RemoteID, payload, item.IdempotencyKey)
		return perr
	})
	if err != nil {
		return "", err
	}

	if _, err := e.mapper.BumpVersion(mapping); err != nil {
		return "", fmt.Errorf("failed to bump sync version: %w", err)
	}
	snapshot := mergeSnapshot(mapping.Snapshot, payload)
	if err := e.mapper.CommitSync(mapping, HashFields(snapshot), snapshot, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to commit sync state: %w", err)
	}
	e.commitPushCursor(item.EntityType)
	return resolution, nil
}

// pushUnmapped creates the remote counterpart for a never-synced local
// entity, then binds the pair.
func (e *Executor) pushUnmapped(ctx context.Context, item *models.SyncQueueItem, intent *ChangeIntent) (string, error) {
	var result *adapters.PushResult
	err := e.withAuthRetry(ctx, func() error {
		var perr error
		result, perr = e.remote.CreateRemote(ctx, item.EntityType, intent.Fields, item.IdempotencyKey)
		return perr
	})
	if err != nil {
		return "", fmt.Errorf("failed to create remote %s: %w", item.EntityType, err)
	}

	mapping, err := e.mapper.Bind(item.EntityType, item.LocalID, result.RemoteID)
	if err != nil {
		var dup *DuplicateBindingError
		if errors.As(err, &dup) {
			// Somebody bound this entity while we were creating; the push
			// that won the race owns the snapshot.
			log.Printf("⚠️ Lost binding race for %s:%s, remote %s orphaned", item.EntityType, item.LocalID, result.RemoteID)
			return "", dup
		}
		return "", err
	}

	snapshot := mergeSnapshot(nil, intent.Fields)
	if err := e.mapper.CommitSync(mapping, HashFields(snapshot), snapshot, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to commit sync state: %w", err)
	}
	e.commitPushCursor(item.EntityType)
	return "created_remote", nil
}

// processPull applies a remote change to the local store
func (e *Executor) processPull(ctx context.Context, item *models.SyncQueueItem, intent *ChangeIntent) (string, error) {
	mapping, err := e.mapper.GetByRemote(item.EntityType, item.RemoteID)
	if errors.Is(err, ErrNotMapped) {
		return e.pullUnmapped(item, intent)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load mapping for remote %s:%s: %w", item.EntityType, item.RemoteID, err)
	}
	// The queue keys ordering on local id; backfill it for webhook items
	// that arrived knowing only the remote id.
	if item.LocalID == "" {
		item.LocalID = mapping.LocalID
	}
	// The dequeue pause clause can miss an item enqueued before the
	// mapping existed, so the pause is enforced here as well.
	if mapping.SyncPaused {
		return "", ErrEntityPaused
	}

	current, err := e.local.Current(item.EntityType, mapping.LocalID)
	if err != nil {
		return "", fmt.Errorf("failed to load local state of %s:%s: %w", item.EntityType, mapping.LocalID, err)
	}
	if current == nil {
		return "", &ValidationError{Field: "local_id", Reason: fmt.Sprintf("mapped local entity %s:%s no longer exists", item.EntityType, mapping.LocalID)}
	}

	check := e.detector.Check(intent, mapping, current)

	apply := make(map[string]interface{}, len(intent.Fields))
	pushBack := make(map[string]interface{})
	resolution := "clean"

	conflicting := make(map[string]bool, len(check.ConflictFields))
	for _, f := range check.ConflictFields {
		conflicting[f] = true
	}

	for field, incomingVal := range intent.Fields {
		if !conflicting[field] {
			apply[field] = incomingVal
			continue
		}
		resolution = "resolved"
		localVal := current[field]
		res := e.resolver.ResolveField(field, localVal, incomingVal)
		if res.Escalate {
			if cerr := e.conflicts.RecordManualReview(item.EntityType, mapping.LocalID, field, localVal, incomingVal, "normal"); cerr != nil {
				return "", fmt.Errorf("failed to record manual review for field %s: %w", field, cerr)
			}
			resolution = "partial_manual_review"
			continue
		}
		if cerr := e.conflicts.RecordResolved(item.EntityType, mapping.LocalID, field, localVal, incomingVal, res); cerr != nil {
			log.Printf("⚠️ Failed to record resolved conflict on %s.%s: %v", item.EntityType, field, cerr)
		}
		switch res.Winner {
		case "local":
			// Local kept its value, so the remote side is the stale one
			pushBack[field] = res.Value
		case "merged":
			apply[field] = res.Value
			pushBack[field] = res.Value
		default:
			apply[field] = res.Value
		}
	}

	if len(apply) > 0 {
		if err := e.local.Apply(item.EntityType, mapping.LocalID, apply); err != nil {
			return "", fmt.Errorf("failed to apply remote change locally: %w", err)
		}
	}

	if _, err := e.mapper.BumpVersion(mapping); err != nil {
		return "", fmt.Errorf("failed to bump sync version: %w", err)
	}
	agreed := mergeSnapshot(mapping.Snapshot, apply)
	agreed = mergeSnapshot(agreed, pushBack)
	if err := e.mapper.CommitSync(mapping, HashFields(agreed), agreed, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to commit sync state: %w", err)
	}

	if len(pushBack) > 0 {
		// Write the locally-won values back so both sides converge
		back := &ChangeIntent{
			EntityType:   item.EntityType,
			LocalID:      mapping.LocalID,
			RemoteID:     mapping.RemoteID,
			Direction:    DirectionPush,
			Fields:       pushBack,
			PreImageHash: HashFields(agreed),
			Origin:       OriginSystem,
			SubmittedAt:  time.Now().UTC(),
		}
		if _, qerr := e.queue.Enqueue(back, e.entityPriority(item.EntityType)); qerr != nil {
			log.Printf("⚠️ Failed to enqueue convergence push for %s:%s: %v", item.EntityType, mapping.LocalID, qerr)
		}
	}

	return resolution, nil
}

// pullUnmapped handles a remote entity seen for the first time: score it
// against similar local records before deciding to merge, review or create.
func (e *Executor) pullUnmapped(item *models.SyncQueueItem, intent *ChangeIntent) (string, error) {
	candidates, err := e.local.FindSimilar(item.EntityType, intent.Fields)
	if err != nil {
		return "", fmt.Errorf("failed to scan for duplicates: %w", err)
	}

	check := e.detector.CheckUnmapped(intent, candidates)
	switch check.Outcome {
	case OutcomeDuplicate:
		localID := check.Candidate.LocalID
		mapping, err := e.mapper.Bind(item.EntityType, localID, item.RemoteID)
		if err != nil {
			return "", err
		}
		item.LocalID = localID
		if cerr := e.conflicts.RecordDuplicate(item.EntityType, localID, item.RemoteID, check.Candidate.Score, models.ConflictAutoResolved); cerr != nil {
			log.Printf("⚠️ Failed to record auto-merged duplicate for %s:%s: %v", item.EntityType, localID, cerr)
		}
		if err := e.local.Apply(item.EntityType, localID, intent.Fields); err != nil {
			return "", fmt.Errorf("failed to merge remote fields into %s:%s: %w", item.EntityType, localID, err)
		}
		snapshot := mergeSnapshot(nil, intent.Fields)
		if err := e.mapper.CommitSync(mapping, HashFields(snapshot), snapshot, time.Now().UTC()); err != nil {
			return "", err
		}
		log.Printf("🔀 Auto-merged remote %s %s into local %s (score %.2f)",
			item.EntityType, item.RemoteID, localID, check.Candidate.Score)
		return "duplicate_auto_merged", nil

	case OutcomeReview:
		localID, err := e.local.CreateLocal(item.EntityType, intent.Fields)
		if err != nil {
			return "", fmt.Errorf("failed to create local %s: %w", item.EntityType, err)
		}
		item.LocalID = localID
		mapping, err := e.mapper.Bind(item.EntityType, localID, item.RemoteID)
		if err != nil {
			return "", err
		}
		snapshot := mergeSnapshot(nil, intent.Fields)
		if err := e.mapper.CommitSync(mapping, HashFields(snapshot), snapshot, time.Now().UTC()); err != nil {
			return "", err
		}
		// Hold further syncs until an operator confirms or rejects the match
		if err := e.mapper.SetPaused(item.EntityType, localID, true); err != nil {
			return "", err
		}
		if cerr := e.conflicts.RecordDuplicate(item.EntityType, localID, check.Candidate.LocalID, check.Candidate.Score, models.ConflictManualReview); cerr != nil {
			return "", fmt.Errorf("failed to record duplicate review: %w", cerr)
		}
		e.alerter.Alert("duplicate_review", item.EntityType, localID, map[string]interface{}{
			"candidate_local_id": check.Candidate.LocalID,
			"similarity":         check.Candidate.Score,
			"remote_id":          item.RemoteID,
		})
		return "duplicate_review", nil

	default:
		localID, err := e.local.CreateLocal(item.EntityType, intent.Fields)
		if err != nil {
			return "", fmt.Errorf("failed to create local %s: %w", item.EntityType, err)
		}
		item.LocalID = localID
		mapping, err := e.mapper.Bind(item.EntityType, localID, item.RemoteID)
		if err != nil {
			return "", err
		}
		snapshot := mergeSnapshot(nil, intent.Fields)
		if err := e.mapper.CommitSync(mapping, HashFields(snapshot), snapshot, time.Now().UTC()); err != nil {
			return "", err
		}
		return "created_local", nil
	}
}

// withAuthRetry runs a remote call and, on an authentication failure,
// refreshes credentials and retries exactly once. A second auth failure
// wakes the operator.
func (e *Executor) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return err
	}

	log.Printf("🔑 Remote rejected credentials (%s), refreshing", authErr.Reason)
	if rerr := e.remote.RefreshCredentials(ctx); rerr != nil {
		e.alerter.Alert("auth_failed", "", "", map[string]interface{}{
			"error": rerr.Error(),
		})
		return fmt.Errorf("credential refresh failed: %w", rerr)
	}

	err = fn()
	if errors.As(err, &authErr) {
		e.alerter.Alert("auth_failed", "", "", map[string]interface{}{
			"error": authErr.Error(),
		})
	}
	return err
}

// classifyError decides whether a failure is worth retrying. Validation and
// binding failures repeat identically on every attempt; auth failures have
// already been given their one refresh-and-retry.
func classifyError(err error) bool {
	var ve *ValidationError
	var de *DuplicateBindingError
	var ae *AuthenticationError
	if errors.As(err, &ve) || errors.As(err, &de) || errors.As(err, &ae) {
		return false
	}
	return true
}

// commitPushCursor records a successful push for the status surface. The
// push itself already succeeded, so a bookkeeping failure only logs.
func (e *Executor) commitPushCursor(entityType string) {
	if err := e.cursors.CommitPush(entityType, time.Now().UTC()); err != nil {
		log.Printf("⚠️ Failed to record push time for %s: %v", entityType, err)
	}
}

// entityPriority looks up the configured queue priority for an entity type
func (e *Executor) entityPriority(entityType string) int {
	if ec, ok := e.cfg.Entities[entityType]; ok && ec.Priority >= 1 && ec.Priority <= 3 {
		return ec.Priority
	}
	return 1
}

// intentFromItem reconstitutes the immutable change intent columns
func intentFromItem(item *models.SyncQueueItem) *ChangeIntent {
	return &ChangeIntent{
		EntityType:   item.EntityType,
		LocalID:      item.LocalID,
		RemoteID:     item.RemoteID,
		Direction:    Direction(item.Direction),
		Fields:       map[string]interface{}(item.Payload),
		PreImageHash: item.PreImageHash,
		Origin:       Origin(item.Origin),
		SubmittedAt:  item.SubmittedAt,
	}
}

// mergeSnapshot overlays changed fields on the previous snapshot
func mergeSnapshot(base models.JSONB, changes map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}
