// Package redis mirrors session transcripts into redis with the session
// TTL, backing the console's "recent transcript" view across server
// restarts within a session's lifetime.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/models"
)

// TranscriptStore persists conversation transcripts keyed by session id.
type TranscriptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTranscriptStore connects to redis using cfg.
func NewTranscriptStore(cfg config.RedisConfig, ttl time.Duration) *TranscriptStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TranscriptStore{client: client, ttl: ttl}
}

func key(sessionID string) string { return "modelfleet:transcript:" + sessionID }

// Save replaces the stored transcript for a session.
func (s *TranscriptStore) Save(ctx context.Context, sessionID string, turns []models.Turn) error {
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := s.client.Set(ctx, key(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Load returns the stored transcript for a session, or nil when absent.
func (s *TranscriptStore) Load(ctx context.Context, sessionID string) ([]models.Turn, error) {
	payload, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var turns []models.Turn
	if err := json.Unmarshal(payload, &turns); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return turns, nil
}

// Delete drops the stored transcript for a session.
func (s *TranscriptStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, key(sessionID)).Err()
}

// Close releases the redis connection.
func (s *TranscriptStore) Close() error { return s.client.Close() }
