// Command requeue_failed puts permanently failed queue items back to
// pending with a fresh attempt budget. Meant for after an outage or a
// config fix, once the underlying cause is gone.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
)

func main() {
	entityType := flag.String("entity-type", "", "only requeue items of this entity type")
	dryRun := flag.Bool("dry-run", false, "report what would be requeued without changing anything")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	query := db.Model(&models.SyncQueueItem{}).Where("status = ?", models.QueueFailed)
	if *entityType != "" {
		query = query.Where("entity_type = ?", *entityType)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		log.Fatalf("❌ Failed to count failed items: %v", err)
	}
	if count == 0 {
		fmt.Println("✅ No permanently failed items found")
		return
	}
	if *dryRun {
		fmt.Printf("🔍 Would requeue %d failed item(s)\n", count)
		return
	}

	res := query.Updates(map[string]interface{}{
		"status":        models.QueuePending,
		"attempt_count": 0,
		"next_retry_at": nil,
		"error_message": nil,
		"processed_at":  nil,
	})
	if res.Error != nil {
		log.Fatalf("❌ Requeue failed: %v", res.Error)
	}

	fmt.Printf("✅ Requeued %d item(s)\n", res.RowsAffected)
}
