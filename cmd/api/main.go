package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentloop/crmbridge/internal/adapters/crm"
	"github.com/rentloop/crmbridge/internal/adapters/localstore"
	"github.com/rentloop/crmbridge/internal/ai"
	"github.com/rentloop/crmbridge/internal/alerts"
	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/handlers"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/sync"
	"github.com/rentloop/crmbridge/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	syncCfg := config.LoadSyncConfig()

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
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
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Remote CRM connection
	crmClient := crm.NewClient(cfg.CRM.URL, cfg.CRM.Database, cfg.CRM.Username, cfg.CRM.Password, cfg.CRM.TimeoutSeconds)
	if err := crmClient.Authenticate(); err != nil {
		// The executor refreshes credentials on demand, so a cold CRM at
		// boot delays syncing instead of killing the bridge.
		log.Printf("⚠️ CRM authentication failed at startup: %v", err)
	} else {
		log.Println("✅ CRM authenticated")
	}
	remote := crm.NewAdapter(crmClient)
	local := localstore.NewStore(db)

	// 5. Live operator event feed
	hub := websocket.NewHub()
	go hub.Run()

	// Optional AI failure annotation
	var analyzer *ai.FailureAnalyzer
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			log.Printf("⚠️ AI annotation disabled: %v", err)
		} else {
			defer gemini.Close()
			analyzer = ai.NewFailureAnalyzer(gemini)
			log.Println("✅ AI failure annotation enabled")
		}
	}
	alerter := alerts.New(hub, analyzer)

	// 6. Sync engine wiring
	backoff := sync.Backoff{
		Base: time.Duration(syncCfg.BackoffBaseMs) * time.Millisecond,
		Cap:  time.Duration(syncCfg.BackoffCapMs) * time.Millisecond,
	}
	queue := sync.NewGormQueue(db, backoff, syncCfg.MaxAttempts)
	mapper := sync.NewGormMapper(db)
	conflicts := sync.NewGormConflictStore(db)
	audit := sync.NewGormAuditStore(db)
	cursors := sync.NewGormCursorStore(db)
	detector := sync.NewDetector(syncCfg)
	resolver := sync.NewResolver(syncCfg)

	executor := sync.NewExecutor(syncCfg, queue, mapper, detector, resolver, conflicts, audit, cursors, remote, local, alerter)
	engine := sync.NewEngine(syncCfg, queue, executor, remote, cursors, audit, alerter)
	engine.Start()

	// 7. HTTP router
	router := handlers.NewRouter(db, cfg, syncCfg, engine, queue, mapper, conflicts, audit, local, remote, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 CRM bridge starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Let in-flight sync work settle before the database goes away
	engine.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
