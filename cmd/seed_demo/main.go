package main

import (
	"fmt"
	"log"
	"time"

	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/utils"
)

func main() {
	fmt.Println("🌱 CRM Bridge Demo Data Seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")

	fmt.Println("🔨 Running database migrations...")
	err = db.AutoMigrate(
		&models.UserAuth{},
		&models.LocalRecord{},
		&models.EntityMapping{},
		&models.SyncQueueItem{},
		&models.SyncConflict{},
		&models.SyncAudit{},
		&models.PullCursor{},
	)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Migrations complete")

	var leadCount int64
	db.Model(&models.LocalRecord{}).Where("entity_type = ?", "leads").Count(&leadCount)
	if leadCount > 0 {
		fmt.Printf("⚠️  Database already has %d leads. Clear it first? (y/N): ", leadCount)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("❌ Aborted. Database not modified.")
			return
		}
		db.Exec("DELETE FROM local_records")
		db.Exec("DELETE FROM entity_mappings")
		db.Exec("DELETE FROM sync_queue")
		db.Exec("DELETE FROM sync_conflicts")
		fmt.Println("🧹 Cleared existing demo data")
	}

	// Demo operator account
	hash, err := utils.HashPassword("demo1234")
	if err != nil {
		log.Fatalf("❌ Failed to hash demo password: %v", err)
	}
	operator := models.UserAuth{Email: "operator@rentloop.dev", PasswordHash: hash, Role: "admin"}
	db.Where("email = ?", operator.Email).FirstOrCreate(&operator)
	fmt.Println("👤 Operator account: operator@rentloop.dev / demo1234")

	// Demo leads, including a near-duplicate pair for the review flow
	leads := []models.LocalRecord{
		{EntityType: "leads", LocalID: "lead-demo-1", Fields: models.JSONB{
			"name": "Maria Castillo", "email": "maria.castillo@example.com",
			"phone": "+1 415 555 0110", "status": "qualified",
			"budget": map[string]interface{}{"min": 1800.0, "max": 2400.0},
			"tags":   []interface{}{"pet-friendly"},
		}},
		{EntityType: "leads", LocalID: "lead-demo-2", Fields: models.JSONB{
			"name": "Maria C. Castillo", "email": "maria.castillo@example.com",
			"phone": "4155550110", "status": "new",
		}},
		{EntityType: "leads", LocalID: "lead-demo-3", Fields: models.JSONB{
			"name": "Devon Park", "email": "devon.park@example.com",
			"phone": "+1 212 555 0144", "status": "tour_scheduled",
		}},
	}
	contacts := []models.LocalRecord{
		{EntityType: "contacts", LocalID: "contact-demo-1", Fields: models.JSONB{
			"name": "Harriet Lindqvist", "email": "harriet@example.com", "phone": "+1 646 555 0162",
		}},
	}
	tours := []models.LocalRecord{
		{EntityType: "tours", LocalID: "tour-demo-1", Fields: models.JSONB{
			"name": "Unit 4B walkthrough", "tour_status": "tour_scheduled",
			"parent_id": "lead-demo-3",
		}},
	}

	seeded := 0
	for _, rec := range append(append(leads, contacts...), tours...) {
		if err := db.Create(&rec).Error; err != nil {
			log.Printf("⚠️ Failed to seed %s %s: %v", rec.EntityType, rec.LocalID, err)
			continue
		}
		seeded++
	}
	fmt.Printf("📦 Seeded %d local records\n", seeded)

	// One pre-existing mapping so status and audit pages have something
	now := time.Now().UTC()
	mapping := models.EntityMapping{
		EntityType: "leads", LocalID: "lead-demo-3", RemoteID: "9001",
		SyncVersion: 1, LastSyncedAt: &now,
		Snapshot: models.JSONB{"name": "Devon Park", "status": "tour_scheduled"},
		Status:   models.MappingActive,
	}
	if err := db.Create(&mapping).Error; err != nil {
		log.Printf("⚠️ Failed to seed mapping: %v", err)
	}

	fmt.Println("✅ Demo data ready")
}
