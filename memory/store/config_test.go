package store

import "testing"

func TestNewRedisSessionStoreRejectsInvalidConfig(t *testing.T) {
	if _, err := NewRedisSessionStore(&RedisConfig{Addr: "", DB: 16}); err == nil {
		t.Fatal("expected validation error for empty addr and out-of-range db")
	}
}

func TestNewRedisSessionStoreAcceptsDefaults(t *testing.T) {
	// redis.NewClient does not dial, so a valid config constructs cleanly.
	s, err := NewRedisSessionStore(nil)
	if err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
	if s == nil {
		t.Fatal("expected a store")
	}
}

func TestNewMongoSemanticStoreRejectsInvalidConfig(t *testing.T) {
	if _, err := NewMongoSemanticStore(&MongoConfig{URI: "", Database: "", Collection: ""}); err == nil {
		t.Fatal("expected validation error for empty URI")
	}
}

func TestNewPostgresSemanticStoreRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.SSLMode = "maybe"
	if _, err := NewPostgresSemanticStore(cfg); err == nil {
		t.Fatal("expected validation error for unknown sslmode")
	}
}
