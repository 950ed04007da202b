package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Kafka    KafkaConfig
	Logger   LoggerConfig
	Meter    MeterConfig
	Surge    SurgeConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// KafkaConfig holds the event bus configuration.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TripsTopic     string
	PositionsTopic string
	GroupID        string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string
	File   string
}

// MeterConfig holds the meter tunables and the fare category seeded on first start.
type MeterConfig struct {
	MaxMultiplier float64
	SnapshotTTL   time.Duration
	DriverLockTTL time.Duration

	DefaultCategoryName string
	DefaultBasicFare    float64
	DefaultMinimumFare  float64
	DefaultCostPerUnit  float64
	DefaultCostPerMin   float64
	DefaultDigits       int
	DefaultCurrency     string
	DefaultDistanceUnit string
}

// SurgeConfig holds the supply/demand thresholds for multiplier suggestions.
type SurgeConfig struct {
	RadiusKm       float64
	LowSurgeRatio  float64
	MedSurgeRatio  float64
	HighSurgeRatio float64
	MaxSurge       float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "taximeter"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "taximeter-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Enabled:        getBoolEnv("KAFKA_ENABLED", false),
			Brokers:        getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			TripsTopic:     getEnv("KAFKA_TRIPS_TOPIC", "taximeter.trips"),
			PositionsTopic: getEnv("KAFKA_POSITIONS_TOPIC", "taximeter.positions"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "taximeter-service"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Meter: MeterConfig{
			MaxMultiplier: getFloatEnv("METER_MAX_MULTIPLIER", 4.0),
			SnapshotTTL:   getDurationEnv("METER_SNAPSHOT_TTL", 10*time.Minute),
			DriverLockTTL: getDurationEnv("METER_DRIVER_LOCK_TTL", 24*time.Hour),

			DefaultCategoryName: getEnv("FARE_DEFAULT_NAME", "Standard"),
			DefaultBasicFare:    getFloatEnv("FARE_DEFAULT_BASIC", 25),
			DefaultMinimumFare:  getFloatEnv("FARE_DEFAULT_MINIMUM", 80),
			DefaultCostPerUnit:  getFloatEnv("FARE_DEFAULT_PER_UNIT", 8),
			DefaultCostPerMin:   getFloatEnv("FARE_DEFAULT_PER_MINUTE", 4),
			DefaultDigits:       getIntEnv("FARE_DEFAULT_DIGITS", 2),
			DefaultCurrency:     getEnv("FARE_DEFAULT_CURRENCY", "ETB"),
			DefaultDistanceUnit: getEnv("FARE_DEFAULT_UNIT", "km"),
		},
		Surge: SurgeConfig{
			RadiusKm:       getFloatEnv("SURGE_RADIUS_KM", 3.0),
			LowSurgeRatio:  getFloatEnv("SURGE_LOW_RATIO", 1.2),
			MedSurgeRatio:  getFloatEnv("SURGE_MED_RATIO", 1.5),
			HighSurgeRatio: getFloatEnv("SURGE_HIGH_RATIO", 2.0),
			MaxSurge:       getFloatEnv("SURGE_MAX", 2.0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
