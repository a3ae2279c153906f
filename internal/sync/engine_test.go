package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/rentloop/crmbridge/internal/adapters"
	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
)

func newPollEngine() (*Engine, *fakeQueue, *fakeRemote, *fakeCursors, *fakeAudit, *fakeAlerter) {
	queue := &fakeQueue{}
	remote := &fakeRemote{remoteState: make(map[string]map[string]interface{})}
	cursors := newFakeCursors()
	audit := &fakeAudit{}
	alerter := &fakeAlerter{}
	engine := NewEngine(testSyncConfig(), queue, nil, remote, cursors, audit, alerter)
	return engine, queue, remote, cursors, audit, alerter
}

func TestPollEnqueuesDeltasAndCommitsCursor(t *testing.T) {
	engine, queue, remote, cursors, _, _ := newPollEngine()
	occurred := time.Now().UTC().Add(-time.Minute)
	remote.deltas = []adapters.RemoteChange{
		{RemoteID: "900", Fields: map[string]interface{}{"status": "contacted"}, OccurredAt: occurred},
		{RemoteID: "901", Fields: map[string]interface{}{"status": "new"}},
	}

	engine.pollOnce("leads", config.EntitySyncConfig{Enabled: true, Priority: 2})

	if len(queue.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued intents, got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].RemoteID != "900" || queue.enqueued[0].Direction != DirectionPull {
		t.Fatalf("wrong intent: %+v", queue.enqueued[0])
	}
	if !queue.enqueued[0].SubmittedAt.Equal(occurred) {
		t.Fatalf("submitted_at = %v, want remote occurred_at %v", queue.enqueued[0].SubmittedAt, occurred)
	}
	if _, ok := cursors.commits["leads"]; !ok {
		t.Fatal("clean poll did not commit the cursor")
	}
}

func TestPollHoldsCursorWhenEnqueueFails(t *testing.T) {
	engine, queue, remote, cursors, audit, _ := newPollEngine()
	remote.deltas = []adapters.RemoteChange{
		{RemoteID: "900", Fields: map[string]interface{}{"status": "contacted"}},
	}
	queue.enqueueErr = errors.New("database unavailable")

	engine.pollOnce("leads", config.EntitySyncConfig{Enabled: true, Priority: 2})

	if _, ok := cursors.commits["leads"]; ok {
		t.Fatal("cursor advanced past a change that was never queued")
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Status != models.AuditFailed || entry.EntityType != "leads" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.DebugInfo["remote_id"] != "900" {
		t.Fatalf("audit entry does not name the dropped change: %+v", entry.DebugInfo)
	}

	// The next poll refetches the same window and succeeds.
	queue.enqueueErr = nil
	engine.pollOnce("leads", config.EntitySyncConfig{Enabled: true, Priority: 2})
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected refetched change enqueued, got %d", len(queue.enqueued))
	}
	if _, ok := cursors.commits["leads"]; !ok {
		t.Fatal("clean refetch did not commit the cursor")
	}
}

func TestPollFailureStreakAlerts(t *testing.T) {
	engine, _, remote, cursors, _, alerter := newPollEngine()
	remote.deltaErr = errors.New("connection refused")
	ec := config.EntitySyncConfig{Enabled: true, Priority: 2}

	for i := 0; i < 3; i++ {
		engine.pollOnce("leads", ec)
	}

	cursor, _ := cursors.Get("leads")
	if cursor.ConsecutiveFailures != 3 {
		t.Fatalf("failure streak = %d, want 3", cursor.ConsecutiveFailures)
	}
	found := false
	for _, event := range alerter.events {
		if event == "poll_failing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no poll_failing alert after 3 failures: %v", alerter.events)
	}
}

func TestStatusReportsPushAndPullTimes(t *testing.T) {
	engine, _, _, cursors, _, _ := newPollEngine()
	pulled := time.Now().UTC().Add(-2 * time.Minute)
	pushed := time.Now().UTC().Add(-time.Minute)
	if err := cursors.Commit("leads", pulled); err != nil {
		t.Fatal(err)
	}
	if err := cursors.CommitPush("leads", pushed); err != nil {
		t.Fatal(err)
	}

	status := engine.Status()
	entities, ok := status["entities"].(map[string]interface{})
	if !ok {
		t.Fatalf("no entities section in status: %v", status)
	}
	entry, ok := entities["leads"].(map[string]interface{})
	if !ok {
		t.Fatalf("no leads entry: %v", entities)
	}
	if got, ok := entry["last_pulled_at"].(*time.Time); !ok || !got.Equal(pulled) {
		t.Fatalf("last_pulled_at = %v, want %v", entry["last_pulled_at"], pulled)
	}
	if got, ok := entry["last_push_at"].(*time.Time); !ok || !got.Equal(pushed) {
		t.Fatalf("last_push_at = %v, want %v", entry["last_push_at"], pushed)
	}
}
