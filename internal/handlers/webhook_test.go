package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/sync"
	"github.com/rentloop/crmbridge/internal/utils"
)

const testWebhookSecret = "hook-secret"

type enqueueCall struct {
	intent   *sync.ChangeIntent
	priority int
}

type fakeEnqueuer struct {
	calls []enqueueCall
	err   error
}

func (q *fakeEnqueuer) Enqueue(intent *sync.ChangeIntent, priority int) (*models.SyncQueueItem, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.calls = append(q.calls, enqueueCall{intent, priority})
	return &models.SyncQueueItem{ID: 42}, nil
}

type fakeNormalizer struct {
	err   error
	empty bool
}

func (n *fakeNormalizer) Normalize(entityType string, raw map[string]interface{}) (map[string]interface{}, error) {
	if n.err != nil {
		return nil, n.err
	}
	if n.empty {
		return map[string]interface{}{}, nil
	}
	return raw, nil
}

type recordingAudit struct {
	entries []sync.AuditEntry
}

func (a *recordingAudit) Record(entry sync.AuditEntry) { a.entries = append(a.entries, entry) }
func (a *recordingAudit) Recent(entityType string, limit int) ([]models.SyncAudit, error) {
	return nil, nil
}
func (a *recordingAudit) FailuresSince(since time.Time) ([]models.SyncAudit, error) {
	return nil, nil
}

func webhookTestConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Entities: map[string]config.EntitySyncConfig{
			"leads":    {Enabled: true, Priority: 3},
			"contacts": {Enabled: true, Priority: 2},
			"tours":    {Enabled: false, Priority: 2},
		},
	}
}

func deliverWebhook(h *WebhookHandler, entityType string, body []byte, signature string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc("/sync/webhooks/{entityType}", h.Handle).Methods("POST")

	req := httptest.NewRequest("POST", "/sync/webhooks/"+entityType, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signedBody(t *testing.T, payload map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return body, utils.SignWebhookPayload(body, testWebhookSecret)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	queue := &fakeEnqueuer{}
	h := NewWebhookHandler(testWebhookSecret, webhookTestConfig(), queue, &fakeNormalizer{}, &recordingAudit{})

	body, _ := signedBody(t, map[string]interface{}{
		"remote_id": "900",
		"data":      map[string]interface{}{"status": "contacted"},
	})

	rec := deliverWebhook(h, "leads", body, "deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = deliverWebhook(h, "leads", body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}

	if len(queue.calls) != 0 {
		t.Fatal("unauthenticated deliveries must never enqueue")
	}
}

func TestWebhookRejectsUnknownOrDisabledEntity(t *testing.T) {
	queue := &fakeEnqueuer{}
	h := NewWebhookHandler(testWebhookSecret, webhookTestConfig(), queue, &fakeNormalizer{}, &recordingAudit{})

	body, sig := signedBody(t, map[string]interface{}{
		"remote_id": "900",
		"data":      map[string]interface{}{"status": "contacted"},
	})

	if rec := deliverWebhook(h, "invoices", body, sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entity, got %d", rec.Code)
	}
	if rec := deliverWebhook(h, "tours", body, sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disabled entity, got %d", rec.Code)
	}
	if len(queue.calls) != 0 {
		t.Fatal("rejected deliveries must not enqueue")
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	queue := &fakeEnqueuer{}
	h := NewWebhookHandler(testWebhookSecret, webhookTestConfig(), queue, &fakeNormalizer{}, &recordingAudit{})

	garbage := []byte("{not json")
	rec := deliverWebhook(h, "leads", garbage, utils.SignWebhookPayload(garbage, testWebhookSecret))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}

	body, sig := signedBody(t, map[string]interface{}{
		"remote_id": "900",
	})
	if rec := deliverWebhook(h, "leads", body, sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing data, got %d", rec.Code)
	}

	body, sig = signedBody(t, map[string]interface{}{
		"data": map[string]interface{}{"status": "contacted"},
	})
	if rec := deliverWebhook(h, "leads", body, sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing remote_id, got %d", rec.Code)
	}
}

func TestWebhookEnqueuesValidDelivery(t *testing.T) {
	queue := &fakeEnqueuer{}
	h := NewWebhookHandler(testWebhookSecret, webhookTestConfig(), queue, &fakeNormalizer{}, &recordingAudit{})

	occurred := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	body, sig := signedBody(t, map[string]interface{}{
		"event":       "lead.updated",
		"remote_id":   "900",
		"occurred_at": occurred.Format(time.RFC3339),
		"data":        map[string]interface{}{"status": "contacted", "email": "a@x.com"},
	})

	rec := deliverWebhook(h, "leads", body, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp["queued"] != true || resp["queue_item_id"] != float64(42) {
		t.Fatalf("unexpected response: %v", resp)
	}

	if len(queue.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(queue.calls))
	}
	call := queue.calls[0]
	if call.priority != 3 {
		t.Fatalf("leads must enqueue at priority 3, got %d", call.priority)
	}
	intent := call.intent
	if intent.Direction != sync.DirectionPull || intent.Origin != sync.OriginRemote {
		t.Fatalf("expected pull/remote intent, got %s/%s", intent.Direction, intent.Origin)
	}
	if intent.RemoteID != "900" || intent.Fields["status"] != "contacted" {
		t.Fatalf("intent does not carry the delivery: %+v", intent)
	}
	if !intent.SubmittedAt.Equal(occurred) {
		t.Fatalf("expected occurred_at as submission time, got %v", intent.SubmittedAt)
	}
}

func TestWebhookNormalizeFailureIsAudited(t *testing.T) {
	queue := &fakeEnqueuer{}
	audit := &recordingAudit{}
	h := NewWebhookHandler(testWebhookSecret, webhookTestConfig(), queue,
		&fakeNormalizer{err: errors.New("unknown field shape")}, audit)

	body, sig := signedBody(t, map[string]interface{}{
		"remote_id": "900",
		"data":      map[string]interface{}{"status": "contacted"},
	})

	rec := deliverWebhook(h, "leads", body, sig)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(queue.calls) != 0 {
		t.Fatal("unnormalizable deliveries must not enqueue")
	}
	if len(audit.entries) != 1 || audit.entries[0].Status != models.AuditRejected {
		t.Fatalf("expected one rejected audit entry, got %+v", audit.entries)
	}
}
