package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (staging + system of record)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (vocabulary version/code cache)
	RedisHost     string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	VocabCacheTTL time.Duration `env:"VOCAB_CACHE_TTL" env-default:"5m"`

	// Package intake
	QuarantineDir       string `env:"PACKAGE_QUARANTINE_DIR" env-default:"data/quarantine"`
	ArchiveDir          string `env:"PACKAGE_ARCHIVE_DIR" env-default:"data/archive"`
	SignatureRequired   bool   `env:"PACKAGE_SIGNATURE_REQUIRED" env-default:"false"`
	MaxPackageSizeBytes int64  `env:"PACKAGE_MAX_SIZE_BYTES" env-default:"524288000"` // 500MB
	RetentionDays       int    `env:"STAGING_RETENTION_DAYS" env-default:"90"`

	// Kafka Consumer (package intake events)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"package-received"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"clover-pipeline"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer settings (lifecycle events)
	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" env-default:"package-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Duplicate detection
	DuplicateHighThreshold   float64 `env:"DUPLICATE_HIGH_THRESHOLD" env-default:"90"`
	DuplicateMediumThreshold float64 `env:"DUPLICATE_MEDIUM_THRESHOLD" env-default:"75"`

	// Geospatial plausibility (program area bounding box)
	BoundingBoxMinLat float64 `env:"BOUNDING_BOX_MIN_LAT" env-default:"-90"`
	BoundingBoxMaxLat float64 `env:"BOUNDING_BOX_MAX_LAT" env-default:"90"`
	BoundingBoxMinLon float64 `env:"BOUNDING_BOX_MIN_LON" env-default:"-180"`
	BoundingBoxMaxLon float64 `env:"BOUNDING_BOX_MAX_LON" env-default:"180"`
	// Maximum distance between a survey fix and its building before Level 5
	// flags the pair
	SurveyMaxDriftMeters float64 `env:"SURVEY_MAX_DRIFT_METERS" env-default:"500"`

	// Transfer tracking
	TransferMaxRetries int `env:"TRANSFER_MAX_RETRIES" env-default:"5"`
}

// Load reads a local .env file when present and binds the environment onto
// the config struct
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
