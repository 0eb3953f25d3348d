package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/grounded/config"
	"github.com/sweetpotato0/grounded/memory"
)

// RedisSessionStore implements memory.SessionStore on Redis.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for sessions (0 means no expiration)
}

// NewRedisSessionStore creates a new Redis-based session store.
func NewRedisSessionStore(cfg *RedisConfig) (*RedisSessionStore, error) {
	if cfg == nil {
		cfg = &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "grounded:session:",
			TTL:    24 * time.Hour,
		}
	}
	if err := config.ValidateRedisConfig(cfg.Addr, cfg.DB, cfg.Prefix); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisSessionStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

// LoadSession reads the session state, returning a zero state when missing.
func (s *RedisSessionStore) LoadSession(ctx context.Context, sessionID string) (*memory.SessionState, error) {
	data, err := s.client.Get(ctx, s.prefix+sessionID).Result()
	if err != nil {
		if err == redis.Nil {
			return &memory.SessionState{}, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state memory.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}

// SaveSession writes the session state with the configured TTL.
func (s *RedisSessionStore) SaveSession(ctx context.Context, sessionID string, state *memory.SessionState) error {
	if state == nil {
		return fmt.Errorf("session state cannot be nil")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+sessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session state: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
