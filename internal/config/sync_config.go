package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// SyncConfig holds synchronization engine configuration
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled   bool   `json:"enabled"`
	Direction string `json:"direction"` // bidirectional, pull_only, push_only

	// ============ WORKERS ============
	Workers   int `json:"workers"`    // fixed-size worker pool
	BatchSize int `json:"batch_size"` // max items per dequeue

	// ============ RETRY ============
	MaxAttempts   int `json:"max_attempts"`
	BackoffBaseMs int `json:"backoff_base_ms"` // base_delay * 2^attempt, capped
	BackoffCapMs  int `json:"backoff_cap_ms"`

	// ============ SCHEDULING ============
	PollOnStartup bool `json:"poll_on_startup"`
	TickSeconds   int  `json:"tick_seconds"` // queue drain interval

	// ============ ENTITIES ============
	Entities map[string]EntitySyncConfig `json:"entities"`

	// ============ CONFLICTS ============
	// FieldRules selects the resolution strategy per field; fields without a
	// rule fall back to DefaultStrategy.
	FieldRules      map[string]FieldRule `json:"field_rules"`
	DefaultStrategy string               `json:"default_strategy"` // authority_wins, field_merge, highest_priority_wins, manual_review

	// LifecycleRanks orders workflow status values from lowest to highest;
	// under highest_priority_wins the higher-ranked value wins regardless of
	// recency.
	LifecycleRanks []string `json:"lifecycle_ranks"`

	// ============ DUPLICATES ============
	AutoMergeThreshold float64 `json:"auto_merge_threshold"` // score above this auto-merges
	ReviewThreshold    float64 `json:"review_threshold"`     // score above this flags for review
}

// EntitySyncConfig holds sync configuration for a specific entity type
type EntitySyncConfig struct {
	Enabled      bool `json:"enabled"`
	PollInterval int  `json:"poll_interval"` // seconds between delta pulls
	Priority     int  `json:"priority"`      // 1..3, where 3 = highest
}

// FieldRule configures conflict resolution for one canonical field
type FieldRule struct {
	Strategy  string `json:"strategy"`
	Authority string `json:"authority"`  // local or remote, for authority_wins
	MergeRule string `json:"merge_rule"` // non_null, list_union, range_union, for field_merge
}

// LoadSyncConfig loads sync configuration from a JSON file (SYNC_CONFIG_PATH)
// or falls back to environment-derived defaults.
func LoadSyncConfig() *SyncConfig {
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadSyncConfigFromFile(configPath); err == nil {
			return cfg
		}
	}

	return getDefaultSyncConfig()
}

// loadSyncConfigFromFile loads sync config from JSON file
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyFallbacks()
	return &cfg, nil
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	cfg := &SyncConfig{
		Enabled:   getBoolEnv("SYNC_ENABLED", true),
		Direction: getEnv("SYNC_DIRECTION", "bidirectional"),

		Workers:   getIntEnv("SYNC_WORKERS", 4),
		BatchSize: getIntEnv("SYNC_BATCH_SIZE", 25),

		MaxAttempts:   getIntEnv("SYNC_MAX_ATTEMPTS", 3),
		BackoffBaseMs: getIntEnv("SYNC_BACKOFF_BASE_MS", 2000),
		BackoffCapMs:  getIntEnv("SYNC_BACKOFF_CAP_MS", 300000),

		PollOnStartup: getBoolEnv("SYNC_POLL_ON_STARTUP", true),
		TickSeconds:   getIntEnv("SYNC_TICK_SECONDS", 5),

		Entities: getDefaultEntityConfigs(),

		FieldRules:      getDefaultFieldRules(),
		DefaultStrategy: getEnv("SYNC_DEFAULT_STRATEGY", "authority_wins"),

		LifecycleRanks: []string{
			"new",
			"contacted",
			"qualified",
			"tour_scheduled",
			"tour_completed",
			"application",
			"approved",
			"leased",
		},

		AutoMergeThreshold: 0.8,
		ReviewThreshold:    0.5,
	}

	return cfg
}

// getDefaultEntityConfigs returns default entity sync configs
func getDefaultEntityConfigs() map[string]EntitySyncConfig {
	return map[string]EntitySyncConfig{
		// Lead-like data syncs near real-time
		"leads": {
			Enabled:      true,
			PollInterval: 300,
			Priority:     3,
		},
		"contacts": {
			Enabled:      true,
			PollInterval: 300,
			Priority:     2,
		},
		"tours": {
			Enabled:      true,
			PollInterval: 600,
			Priority:     3,
		},
		// Communication logs are append-heavy and low urgency
		"communications": {
			Enabled:      true,
			PollInterval: 3600,
			Priority:     1,
		},
	}
}

// getDefaultFieldRules returns the default per-field conflict rules.
// The remote CRM is the system of record for workflow state; locally derived
// enrichment stays authoritative on our side.
func getDefaultFieldRules() map[string]FieldRule {
	return map[string]FieldRule{
		"status":        {Strategy: "highest_priority_wins"},
		"tour_status":   {Strategy: "highest_priority_wins"},
		"assigned_to":   {Strategy: "authority_wins", Authority: "remote"},
		"source":        {Strategy: "authority_wins", Authority: "remote"},
		"score":         {Strategy: "authority_wins", Authority: "local"},
		"summary":       {Strategy: "authority_wins", Authority: "local"},
		"email":         {Strategy: "field_merge", MergeRule: "non_null"},
		"phone":         {Strategy: "field_merge", MergeRule: "non_null"},
		"tags":          {Strategy: "field_merge", MergeRule: "list_union"},
		"budget":        {Strategy: "field_merge", MergeRule: "range_union"},
		"move_in_range": {Strategy: "field_merge", MergeRule: "range_union"},
		"notes":         {Strategy: "manual_review"},
	}
}

// applyFallbacks fills zero values a hand-written config file may omit
func (c *SyncConfig) applyFallbacks() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = 2000
	}
	if c.BackoffCapMs <= 0 {
		c.BackoffCapMs = 300000
	}
	if c.TickSeconds <= 0 {
		c.TickSeconds = 5
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = "authority_wins"
	}
	if len(c.LifecycleRanks) == 0 {
		c.LifecycleRanks = getDefaultSyncConfig().LifecycleRanks
	}
	if c.AutoMergeThreshold == 0 {
		c.AutoMergeThreshold = 0.8
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 0.5
	}
	if c.Entities == nil {
		c.Entities = getDefaultEntityConfigs()
	}
	if c.FieldRules == nil {
		c.FieldRules = getDefaultFieldRules()
	}
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
