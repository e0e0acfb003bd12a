// Package session provides Redis-backed recovery storage for in-progress
// editing sessions. The working copy is a crash buffer: it holds the latest
// unsaved document state so a reopened session can offer recovery, and it is
// cleared once a durable save succeeds.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"redline/api/internal/document"
)

// ErrNoWorkingCopy indicates no recovery data exists for the document.
var ErrNoWorkingCopy = errors.New("session: no working copy")

// WorkingCopy is the recovery payload cached per document.
type WorkingCopy struct {
	DocumentID string               `json:"document_id"`
	Title      string               `json:"title"`
	Paragraphs []document.Paragraph `json:"paragraphs"`
	Version    int                  `json:"version"`
	SaveStatus string               `json:"save_status"`
	StoredAt   time.Time            `json:"stored_at"`
}

// RedisStore caches working copies in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newStore(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return newStore(client, ttl)
}

func newStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "workingcopy:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.prefix + documentID
}

// SaveWorkingCopy stores the recovery payload, replacing any previous copy
// and refreshing the TTL.
func (s *RedisStore) SaveWorkingCopy(ctx context.Context, wc WorkingCopy) error {
	if wc.DocumentID == "" {
		return fmt.Errorf("session: document id required")
	}
	wc.StoredAt = time.Now()

	jsonData, err := json.Marshal(wc)
	if err != nil {
		return fmt.Errorf("marshal working copy: %w", err)
	}

	if err := s.client.Set(ctx, s.key(wc.DocumentID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save working copy: %w", err)
	}
	return nil
}

// LoadWorkingCopy retrieves the recovery payload for a document.
func (s *RedisStore) LoadWorkingCopy(ctx context.Context, documentID string) (WorkingCopy, error) {
	jsonData, err := s.client.Get(ctx, s.key(documentID)).Result()
	if err == redis.Nil {
		return WorkingCopy{}, ErrNoWorkingCopy
	}
	if err != nil {
		return WorkingCopy{}, fmt.Errorf("load working copy: %w", err)
	}

	var wc WorkingCopy
	if err := json.Unmarshal([]byte(jsonData), &wc); err != nil {
		return WorkingCopy{}, fmt.Errorf("unmarshal working copy: %w", err)
	}
	return wc, nil
}

// ClearWorkingCopy deletes the recovery payload. Called after a successful
// durable save; deleting a missing key is not an error.
func (s *RedisStore) ClearWorkingCopy(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, s.key(documentID)).Err(); err != nil {
		return fmt.Errorf("clear working copy: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
