package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/rentloop/crmbridge/internal/adapters"
	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
)

// Engine runs the synchronization loops: a dispatcher that drains the
// queue into a fixed worker pool, plus one delta poller per enabled
// entity type. Per-entity ordering is enforced at dequeue time; an
// entity with an in-flight item is never handed out again.
type Engine struct {
	cfg      *config.SyncConfig
	queue    Queue
	executor *Executor
	remote   adapters.RemoteAdapter
	cursors  CursorStore
	audit    AuditStore
	alerter  Alerter

	stopChan chan struct{}
	wg       gosync.WaitGroup

	mu        gosync.Mutex
	running   bool
	startedAt time.Time
	lastDrain time.Time
}

// NewEngine wires the engine from its collaborators
func NewEngine(cfg *config.SyncConfig, queue Queue, executor *Executor,
	remote adapters.RemoteAdapter, cursors CursorStore, audit AuditStore, alerter Alerter) *Engine {
	return &Engine{
		cfg:      cfg,
		queue:    queue,
		executor: executor,
		remote:   remote,
		cursors:  cursors,
		audit:    audit,
		alerter:  alerter,
	}
}

// Start launches the workers, the dispatcher and the pollers
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || !e.cfg.Enabled {
		e.mu.Unlock()
		if !e.cfg.Enabled {
			log.Println("⏸️ Sync engine disabled by configuration")
		}
		return
	}
	e.running = true
	e.startedAt = time.Now().UTC()
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	jobs := make(chan *models.SyncQueueItem, e.cfg.Workers*2)

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i+1, jobs)
	}

	e.wg.Add(1)
	go e.dispatch(jobs)

	if e.cfg.Direction != "push_only" {
		for entityType, ec := range e.cfg.Entities {
			if !ec.Enabled {
				continue
			}
			e.wg.Add(1)
			go e.pollLoop(entityType, ec)
		}
	}

	log.Printf("🔄 Sync engine started (%d workers, tick %ds, direction %s)",
		e.cfg.Workers, e.cfg.TickSeconds, e.cfg.Direction)
}

// Stop shuts the loops down and waits for in-flight work to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	log.Println("🛑 Sync engine stopped")
}

// dispatch periodically drains ready queue items into the worker channel
func (e *Engine) dispatch(jobs chan<- *models.SyncQueueItem) {
	defer e.wg.Done()
	defer close(jobs)

	ticker := time.NewTicker(time.Duration(e.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	// Drain immediately on startup rather than waiting out the first tick
	e.drainOnce(jobs)

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.drainOnce(jobs)
		}
	}
}

func (e *Engine) drainOnce(jobs chan<- *models.SyncQueueItem) {
	batch, err := e.queue.DequeueBatch(e.cfg.BatchSize)
	if err != nil {
		log.Printf("⚠️ Failed to dequeue sync batch: %v", err)
		return
	}
	e.mu.Lock()
	e.lastDrain = time.Now().UTC()
	e.mu.Unlock()

	for _, item := range batch {
		select {
		case jobs <- item:
		case <-e.stopChan:
			// Shutting down mid-batch: hand unstarted claims back
			if rerr := e.queue.Release(item); rerr != nil {
				log.Printf("⚠️ Failed to release queue item %d on shutdown: %v", item.ID, rerr)
			}
			return
		}
	}
}

// worker executes queue items until the jobs channel closes
func (e *Engine) worker(id int, jobs <-chan *models.SyncQueueItem) {
	defer e.wg.Done()

	for item := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := e.executor.Process(ctx, item); err != nil {
			log.Printf("⚠️ [worker %d] %s %s:%s failed: %v",
				id, item.Direction, item.EntityType, item.LocalID, err)
		}
		cancel()
	}
}

// pollLoop fetches remote deltas for one entity type on its own interval
func (e *Engine) pollLoop(entityType string, ec config.EntitySyncConfig) {
	defer e.wg.Done()

	interval := time.Duration(ec.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if e.cfg.PollOnStartup {
		e.pollOnce(entityType, ec)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.pollOnce(entityType, ec)
		}
	}
}

// pollOnce runs one delta fetch and enqueues every reported change. The
// cursor only advances after the whole batch is safely queued, so a crash
// re-fetches rather than loses changes.
func (e *Engine) pollOnce(entityType string, ec config.EntitySyncConfig) {
	cursor, err := e.cursors.Get(entityType)
	if err != nil {
		log.Printf("⚠️ Failed to load pull cursor for %s: %v", entityType, err)
		return
	}

	since := time.Time{}
	if cursor.LastPulledAt != nil {
		since = *cursor.LastPulledAt
	}
	pollStart := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	changes, err := e.remote.FetchDeltas(ctx, entityType, since)
	cancel()
	if err != nil {
		streak, ferr := e.cursors.RecordFailure(entityType)
		if ferr != nil {
			log.Printf("⚠️ Failed to record poll failure for %s: %v", entityType, ferr)
		}
		log.Printf("⚠️ Delta poll for %s failed (streak %d): %v", entityType, streak, err)
		if streak == 3 {
			e.alerter.Alert("poll_failing", entityType, "", map[string]interface{}{
				"consecutive_failures": streak,
				"error":                err.Error(),
			})
		}
		return
	}

	enqueued, dropped := 0, 0
	for _, change := range changes {
		submittedAt := change.OccurredAt
		if submittedAt.IsZero() {
			submittedAt = pollStart
		}
		intent := &ChangeIntent{
			EntityType:  entityType,
			RemoteID:    change.RemoteID,
			Direction:   DirectionPull,
			Fields:      change.Fields,
			Origin:      OriginRemote,
			SubmittedAt: submittedAt,
		}
		if _, err := e.queue.Enqueue(intent, ec.Priority); err != nil {
			log.Printf("⚠️ Failed to enqueue pulled change for %s:%s: %v", entityType, change.RemoteID, err)
			e.audit.Record(AuditEntry{
				EntityType: entityType,
				Direction:  string(DirectionPull),
				Status:     models.AuditFailed,
				Err:        err,
				DebugInfo: map[string]interface{}{
					"remote_id": change.RemoteID,
					"stage":     "enqueue",
				},
			})
			dropped++
			continue
		}
		enqueued++
	}

	if dropped > 0 {
		// Holding the cursor makes the next poll re-fetch the window, so
		// the dropped changes get another chance instead of being lost.
		log.Printf("⚠️ %d %s change(s) not enqueued, holding pull cursor for refetch", dropped, entityType)
		return
	}
	if err := e.cursors.Commit(entityType, pollStart); err != nil {
		log.Printf("⚠️ Failed to commit pull cursor for %s: %v", entityType, err)
		return
	}
	if enqueued > 0 {
		log.Printf("📦 Pulled %d %s change(s) from remote", enqueued, entityType)
	}
}

// PollNow runs one delta poll for an entity type on demand
func (e *Engine) PollNow(entityType string) error {
	ec, ok := e.cfg.Entities[entityType]
	if !ok || !ec.Enabled {
		return fmt.Errorf("entity type %q is not enabled for sync", entityType)
	}
	e.pollOnce(entityType, ec)
	return nil
}

// Status reports engine health for the operational endpoint
func (e *Engine) Status() map[string]interface{} {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	lastDrain := e.lastDrain
	e.mu.Unlock()

	status := map[string]interface{}{
		"running":   running,
		"direction": e.cfg.Direction,
		"workers":   e.cfg.Workers,
	}
	if running {
		status["uptime_seconds"] = int(time.Since(startedAt).Seconds())
		if !lastDrain.IsZero() {
			status["last_drain"] = lastDrain
		}
	}

	if stats, err := e.queue.Stats(); err == nil {
		status["queue"] = map[string]interface{}{
			"pending":                stats.Pending,
			"processing":             stats.Processing,
			"failed":                 stats.Failed,
			"oldest_pending_seconds": int(stats.OldestPendingAge.Seconds()),
		}
	}

	if cursors, err := e.cursors.All(); err == nil {
		entities := make(map[string]interface{}, len(cursors))
		for _, c := range cursors {
			entry := map[string]interface{}{
				"consecutive_failures": c.ConsecutiveFailures,
			}
			if c.LastPulledAt != nil {
				entry["last_pulled_at"] = c.LastPulledAt
			}
			if c.LastPushAt != nil {
				entry["last_push_at"] = c.LastPushAt
			}
			entities[c.EntityType] = entry
		}
		status["entities"] = entities
	}

	return status
}
