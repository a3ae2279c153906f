package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv       string
	Port          string
	JWTSecret     string
	WebhookSecret string
	GeminiAPIKey  string
	Database      DatabaseConfig
	CRM           CRMConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// CRMConfig holds remote CRM connection settings
type CRMConfig struct {
	URL      string
	Database string
	Username string
	Password string
	// TimeoutSeconds bounds every remote call; a timeout is treated as
	// unknown-outcome and only retried because pushes are idempotent.
	TimeoutSeconds int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return &Config{
		NodeEnv:       getEnv("NODE_ENV", "development"),
		Port:          getEnv("PORT", "3210"),
		JWTSecret:     jwtSecret,
		WebhookSecret: webhookSecret,
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "crmbridge"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		CRM: CRMConfig{
			URL:            os.Getenv("CRM_URL"),
			Database:       getEnv("CRM_DATABASE", "crm"),
			Username:       os.Getenv("CRM_USERNAME"),
			Password:       os.Getenv("CRM_PASSWORD"),
			TimeoutSeconds: getIntEnv("CRM_TIMEOUT", 30),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
