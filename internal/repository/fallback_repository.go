package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/model"
)

// FallbackRepository keeps journey snapshots in Redis when the remote
// store rejects a write.
type FallbackRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFallbackRepository creates a FallbackRepository. A zero ttl keeps
// snapshots until overwritten.
func NewFallbackRepository(rdb *redis.Client, ttl time.Duration) *FallbackRepository {
	return &FallbackRepository{rdb: rdb, ttl: ttl}
}

// SaveFallback stores the snapshot under progress_{userId}_{assignmentId}.
func (r *FallbackRepository) SaveFallback(ctx context.Context, snap *model.FallbackSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := config.CacheKey.ProgressFallbackKey(snap.UserID, snap.AssignmentID)
	return r.rdb.Set(ctx, key, raw, r.ttl).Err()
}

// GetFallback loads a snapshot. Returns redis.Nil when none is stored.
func (r *FallbackRepository) GetFallback(ctx context.Context, userID, assignmentID string) (*model.FallbackSnapshot, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.ProgressFallbackKey(userID, assignmentID)).Bytes()
	if err != nil {
		return nil, err
	}
	var snap model.FallbackSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
