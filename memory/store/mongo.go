package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/grounded/config"
	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/vector"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSemanticStore implements memory.SemanticStore on MongoDB. Similarity
// ranking happens in-process over a bounded candidate window; entries are
// scanned newest-first up to candidateLimit.
type MongoSemanticStore struct {
	client         *mongo.Client
	collection     *mongo.Collection
	candidateLimit int64
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "grounded",
		Collection: "semantic_memory",
	}
}

type mongoMemory struct {
	ID             string         `bson:"_id"`
	Text           string         `bson:"text"`
	Type           string         `bson:"type"`
	Embedding      []float32      `bson:"embedding"`
	Metadata       map[string]any `bson:"metadata"`
	SessionID      string         `bson:"session_id,omitempty"`
	UsageCount     int            `bson:"usage_count"`
	CreatedAt      time.Time      `bson:"created_at"`
	LastAccessedAt time.Time      `bson:"last_accessed_at"`
}

// NewMongoSemanticStore creates a new MongoDB-based semantic store.
func NewMongoSemanticStore(cfg *MongoConfig) (*MongoSemanticStore, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}
	if err := config.ValidateMongoDBConfig(cfg.URI, cfg.Database, cfg.Collection); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoSemanticStore{
		client:         client,
		collection:     client.Database(cfg.Database).Collection(cfg.Collection),
		candidateLimit: 500,
	}
	if err := store.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoSemanticStore) createIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Add stores a semantic memory.
func (s *MongoSemanticStore) Add(ctx context.Context, mem *memory.SemanticMemory) error {
	if mem == nil {
		return fmt.Errorf("memory cannot be nil")
	}
	if mem.ID == "" {
		mem.ID = memory.GenerateID()
	}
	now := time.Now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.LastAccessedAt.IsZero() {
		mem.LastAccessedAt = now
	}

	doc := mongoMemory{
		ID:             mem.ID,
		Text:           mem.Text,
		Type:           mem.Type,
		Embedding:      mem.Embedding,
		Metadata:       mem.Metadata,
		SessionID:      mem.SessionID,
		UsageCount:     mem.UsageCount,
		CreatedAt:      mem.CreatedAt,
		LastAccessedAt: mem.LastAccessedAt,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": mem.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Recall returns the topK most similar entries and bumps their usage counts.
func (s *MongoSemanticStore) Recall(ctx context.Context, embedding []float32, topK int) ([]*memory.SemanticMemory, error) {
	if topK <= 0 {
		topK = 5
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(s.candidateLimit)
	cursor, err := s.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer cursor.Close(ctx)

	type scored struct {
		doc   mongoMemory
		score float32
	}
	var candidates []scored
	for cursor.Next(ctx) {
		var doc mongoMemory
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode memory: %w", err)
		}
		candidates = append(candidates, scored{
			doc:   doc,
			score: vector.CosineSimilarity(embedding, doc.Embedding),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("memory cursor failed: %w", err)
	}

	// partial selection sort, topK is small
	for i := 0; i < len(candidates) && i < topK; i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	now := time.Now()
	out := make([]*memory.SemanticMemory, 0, len(candidates))
	for _, c := range candidates {
		_, err := s.collection.UpdateOne(ctx,
			bson.M{"_id": c.doc.ID},
			bson.M{
				"$inc": bson.M{"usage_count": 1},
				"$set": bson.M{"last_accessed_at": now},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update memory usage: %w", err)
		}
		out = append(out, &memory.SemanticMemory{
			ID:             c.doc.ID,
			Text:           c.doc.Text,
			Type:           c.doc.Type,
			Embedding:      c.doc.Embedding,
			Metadata:       c.doc.Metadata,
			SessionID:      c.doc.SessionID,
			UsageCount:     c.doc.UsageCount + 1,
			CreatedAt:      c.doc.CreatedAt,
			LastAccessedAt: now,
		})
	}
	return out, nil
}

// Prune deletes entries older than maxAge with usage below minUsage.
func (s *MongoSemanticStore) Prune(ctx context.Context, maxAge time.Duration, minUsage int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"created_at":  bson.M{"$lt": cutoff},
		"usage_count": bson.M{"$lt": minUsage},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune memories: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Close disconnects from MongoDB.
func (s *MongoSemanticStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
