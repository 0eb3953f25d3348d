package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/grounded/config"
	"github.com/sweetpotato0/grounded/memory"
)

// PostgresSemanticStore implements memory.SemanticStore on PostgreSQL with
// the pgvector extension; similarity search runs in the database.
type PostgresSemanticStore struct {
	db        *sql.DB
	dimension int
	tableName string
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int    // Embedding dimension (default: 1536)
	TableName string // Table name (default: semantic_memory)
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		Password:  "",
		DBName:    "grounded",
		SSLMode:   "disable",
		Dimension: 1536,
		TableName: "semantic_memory",
	}
}

// NewPostgresSemanticStore connects and prepares the schema.
func NewPostgresSemanticStore(cfg *PostgresConfig) (*PostgresSemanticStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresSemanticStore{
		db:        db,
		dimension: cfg.Dimension,
		tableName: cfg.TableName,
	}
	if err := store.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup semantic memory schema: %w", err)
	}
	return store, nil
}

func (s *PostgresSemanticStore) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		type VARCHAR(64) NOT NULL DEFAULT '',
		embedding vector(%d) NOT NULL,
		session_id VARCHAR(255),
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Add stores a semantic memory.
func (s *PostgresSemanticStore) Add(ctx context.Context, mem *memory.SemanticMemory) error {
	if mem == nil {
		return fmt.Errorf("memory cannot be nil")
	}
	if mem.ID == "" {
		mem.ID = memory.GenerateID()
	}
	if len(mem.Embedding) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(mem.Embedding))
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, type, embedding, session_id)
	VALUES ($1, $2, $3, $4::vector, $5)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		type = EXCLUDED.type,
		embedding = EXCLUDED.embedding,
		last_accessed_at = CURRENT_TIMESTAMP
	`, s.tableName)

	sessionID := sql.NullString{String: mem.SessionID, Valid: mem.SessionID != ""}
	if _, err := s.db.ExecContext(ctx, query, mem.ID, mem.Text, mem.Type, vectorToString(mem.Embedding), sessionID); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Recall returns the topK closest entries by cosine distance and increments
// their usage counts.
func (s *PostgresSemanticStore) Recall(ctx context.Context, embedding []float32, topK int) ([]*memory.SemanticMemory, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}

	query := fmt.Sprintf(`
	UPDATE %[1]s SET
		usage_count = usage_count + 1,
		last_accessed_at = CURRENT_TIMESTAMP
	WHERE id IN (
		SELECT id FROM %[1]s ORDER BY embedding <=> $1::vector LIMIT $2
	)
	RETURNING id, text, type, session_id, usage_count, created_at, last_accessed_at
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, vectorToString(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to recall memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.SemanticMemory
	for rows.Next() {
		var mem memory.SemanticMemory
		var sessionID sql.NullString
		if err := rows.Scan(&mem.ID, &mem.Text, &mem.Type, &sessionID, &mem.UsageCount, &mem.CreatedAt, &mem.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		mem.SessionID = sessionID.String
		out = append(out, &mem)
	}
	return out, rows.Err()
}

// Prune deletes entries older than maxAge with usage below minUsage.
func (s *PostgresSemanticStore) Prune(ctx context.Context, maxAge time.Duration, minUsage int) (int, error) {
	query := fmt.Sprintf(`
	DELETE FROM %s
	WHERE created_at < $1 AND usage_count < $2
	`, s.tableName)

	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-maxAge), minUsage)
	if err != nil {
		return 0, fmt.Errorf("failed to prune memories: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Close closes the database connection.
func (s *PostgresSemanticStore) Close() error {
	return s.db.Close()
}

// vectorToString renders a pgvector literal: [0.1,0.2,...]
func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
