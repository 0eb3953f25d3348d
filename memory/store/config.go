package store

import (
	"os"
	"strconv"
	"time"
)

// Configuration loaders with environment variable overrides.

// RedisConfigFromEnv loads Redis session-store configuration from environment variables
func RedisConfigFromEnv() *RedisConfig {
	return &RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		Prefix:   getEnv("REDIS_PREFIX", "grounded:session:"),
		TTL:      getEnvDuration("REDIS_TTL", 24*time.Hour),
	}
}

// MongoConfigFromEnv loads MongoDB configuration from environment variables
func MongoConfigFromEnv() *MongoConfig {
	return &MongoConfig{
		URI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		Database:   getEnv("MONGODB_DB", "grounded"),
		Collection: getEnv("MONGODB_COLLECTION", "semantic_memory"),
	}
}

// PostgresConfigFromEnv loads PostgreSQL configuration from environment variables
func PostgresConfigFromEnv() *PostgresConfig {
	return &PostgresConfig{
		Host:      getEnv("POSTGRES_HOST", "localhost"),
		Port:      getEnvInt("POSTGRES_PORT", 5432),
		User:      getEnv("POSTGRES_USER", "postgres"),
		Password:  getEnv("POSTGRES_PASSWORD", ""),
		DBName:    getEnv("POSTGRES_DB", "grounded"),
		SSLMode:   getEnv("POSTGRES_SSLMODE", "disable"),
		Dimension: getEnvInt("POSTGRES_VECTOR_DIM", 1536),
		TableName: getEnv("POSTGRES_MEMORY_TABLE", "semantic_memory"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
