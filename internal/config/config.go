package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Sync     SyncConfig
}

type AppConfig struct {
	Port               string `validate:"required,numeric"`
	Environment        string `validate:"oneof=development production test"`
	LogFilePath        string `validate:"required"`
	HubLogFilePath     string `validate:"required"`
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
	// InstanceID tells relay instances apart on the shared channels.
	InstanceID string `validate:"required"`
}

type DatabaseConfig struct {
	Connection string
}

type SyncConfig struct {
	// Topic carries received updates from the hub to the persistence consumer.
	Topic             string `validate:"required"`
	RedisChannel      string `validate:"required"`
	DocCacheTTLMinute int    `validate:"min=1"`
	// CompactAfter folds a document's update log into one row once it holds
	// this many rows. Zero disables compaction.
	CompactAfter   int `validate:"min=0"`
	MaxUpdateBytes int `validate:"min=1024"`
}

var validate = validator.New()

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	host, _ := os.Hostname()
	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/relay.log"),
			HubLogFilePath:     getEnv("HUB_LOG_FILE_PATH", "logs/hub.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			InstanceID:         getEnv("INSTANCE_ID", host),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Sync: SyncConfig{
			Topic:             getEnv("SYNC_TOPIC_NAME", "DOCUMENT_UPDATES"),
			RedisChannel:      getEnv("SYNC_REDIS_CHANNEL", "document_updates"),
			DocCacheTTLMinute: getEnvAsInt("DOC_CACHE_TTL_MINUTES", 30),
			CompactAfter:      getEnvAsInt("COMPACT_AFTER_UPDATES", 500),
			MaxUpdateBytes:    getEnvAsInt("MAX_UPDATE_BYTES", 1<<20),
		},
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	for _, part := range []interface{}{c.App, c.Sync} {
		if err := validate.Struct(part); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
