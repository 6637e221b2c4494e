package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a short-TTL read-through cache in front of the status
// polling endpoint. Clients poll every few seconds; the TTL keeps
// staleness bounded without any invalidation protocol.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb, ttl: 2 * time.Second}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func statusKey(kind string, jobID string, userID uint64) string {
	return fmt.Sprintf("jobstatus:%s:%s:%d", kind, jobID, userID)
}

// GetStatus returns the cached status payload, or redis.Nil.
func (s *Store) GetStatus(ctx context.Context, kind, jobID string, userID uint64) ([]byte, error) {
	return s.rdb.Get(ctx, statusKey(kind, jobID, userID)).Bytes()
}

func (s *Store) SetStatus(ctx context.Context, kind, jobID string, userID uint64, payload []byte) error {
	return s.rdb.Set(ctx, statusKey(kind, jobID, userID), payload, s.ttl).Err()
}

// DropStatus removes a cached entry, used after deletes so a stale
// 200 never outlives the row by more than the TTL.
func (s *Store) DropStatus(ctx context.Context, kind, jobID string, userID uint64) error {
	return s.rdb.Del(ctx, statusKey(kind, jobID, userID)).Err()
}
