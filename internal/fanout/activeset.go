package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/domain"
)

const saddChunk = 5000

// ErrActiveSetMissing means the run's shared set expired or was deleted.
// Reading it as empty would demote every customer on the page.
var ErrActiveSetMissing = errors.New("fanout: active set missing")

// ActiveSetKey names the shared set for one run.
func ActiveSetKey(companyID, runID string) string {
	return "autoship:" + companyID + ":" + runID
}

func readyKey(setKey string) string { return setKey + ":ready" }

// RedisActiveSet is a run's active autoship IDs stored as a Redis set.
// It implements reconcile.ActiveSet.
type RedisActiveSet struct {
	rdb redis.Cmdable
	key string
}

// OpenActiveSet attaches to a set some other process published.
func OpenActiveSet(rdb redis.Cmdable, key string) *RedisActiveSet {
	return &RedisActiveSet{rdb: rdb, key: key}
}

// PublishActiveSet writes ids under key with a TTL so abandoned runs
// clean themselves up. A ready marker with the same TTL is written even
// when ids is empty, so readers can tell an empty set from a missing one.
func PublishActiveSet(ctx context.Context, rdb redis.Cmdable, key string, ids domain.IDSet, ttl time.Duration) (*RedisActiveSet, error) {
	members := ids.Sorted()
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, key, readyKey(key))
	for start := 0; start < len(members); start += saddChunk {
		end := min(start+saddChunk, len(members))
		chunk := make([]interface{}, 0, end-start)
		for _, id := range members[start:end] {
			chunk = append(chunk, id)
		}
		pipe.SAdd(ctx, key, chunk...)
	}
	if len(members) > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	pipe.Set(ctx, readyKey(key), "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("publish active set %s: %w", key, err)
	}
	return &RedisActiveSet{rdb: rdb, key: key}, nil
}

// Key returns the Redis key.
func (s *RedisActiveSet) Key() string { return s.key }

// Members implements reconcile.ActiveSet. It returns ErrActiveSetMissing
// when the ready marker is gone.
func (s *RedisActiveSet) Members(ctx context.Context, externalIDs []string) ([]bool, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}
	pipe := s.rdb.TxPipeline()
	ready := pipe.Exists(ctx, readyKey(s.key))
	member := pipe.SMIsMember(ctx, s.key, args...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("smismember %s: %w", s.key, err)
	}
	if ready.Val() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrActiveSetMissing, s.key)
	}
	return member.Val(), nil
}

// Delete removes the set, its ready marker and its result counters.
func (s *RedisActiveSet) Delete(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key, readyKey(s.key), resultKey(s.key)).Err()
}
