// Package alerts routes operational events to the log, the live operator
// feed, and (when configured) the AI failure annotator.
package alerts

import (
	"context"
	"log"

	"github.com/rentloop/crmbridge/internal/ai"
	"github.com/rentloop/crmbridge/internal/websocket"
)

// Alerter broadcasts noteworthy sync events. Safe for concurrent use.
type Alerter struct {
	hub      *websocket.Hub
	analyzer *ai.FailureAnalyzer
}

// New creates an alerter. Both the hub and the analyzer may be nil.
func New(hub *websocket.Hub, analyzer *ai.FailureAnalyzer) *Alerter {
	return &Alerter{hub: hub, analyzer: analyzer}
}

// Alert publishes one event. Annotation runs in the background so the
// sync worker is never blocked on a model call.
func (a *Alerter) Alert(event, entityType, localID string, details map[string]interface{}) {
	log.Printf("🚨 [%s] %s:%s %v", event, entityType, localID, details)

	if a.hub != nil {
		a.hub.Broadcast(websocket.Event{
			Type:       event,
			EntityType: entityType,
			LocalID:    localID,
			Details:    details,
		})
	}

	if a.analyzer != nil && event == "sync_failed" {
		go a.annotate(event, entityType, localID, details)
	}
}

func (a *Alerter) annotate(event, entityType, localID string, details map[string]interface{}) {
	diagnosis, err := a.analyzer.Annotate(context.Background(), details)
	if err != nil {
		log.Printf("⚠️ Failure annotation unavailable: %v", err)
		return
	}
	log.Printf("🤖 Diagnosis for %s:%s: %s", entityType, localID, diagnosis)
	if a.hub != nil {
		a.hub.Broadcast(websocket.Event{
			Type:       event + "_diagnosis",
			EntityType: entityType,
			LocalID:    localID,
			Details:    map[string]interface{}{"diagnosis": diagnosis},
		})
	}
}
