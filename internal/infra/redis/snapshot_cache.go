package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"classquiz-live/internal/domain"
)

// SnapshotCache mirrors the latest snapshot of each session into redis so the
// pull/catch-up path can be served by any instance. Stored as:
// SET session:{sessionID}:snapshot {json} EX ttl. Later snapshots supersede
// earlier ones; consumers compare revisions anyway.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// StoreSnapshot implements app.SnapshotSink.
func (c *SnapshotCache) StoreSnapshot(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.Session.ID), raw, c.ttl).Err()
}

// GetSnapshot returns the mirrored snapshot, or ErrSessionNotFound when the
// key is missing or expired.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Delete drops a session's mirrored snapshot.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func (c *SnapshotCache) key(sessionID string) string {
	return "session:" + sessionID + ":snapshot"
}
