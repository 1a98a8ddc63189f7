package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots as JSON strings. Per scope it maintains a
// sorted-set index scored by creation time and a pointer to the newest ID.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. prefix defaults to "molgraph:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "molgraph:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) snapshotKey(scope string, id uuid.UUID) string {
	return fmt.Sprintf("%scheckpoint:%s:%s", s.prefix, scope, id)
}

func (s *RedisStore) indexKey(scope string) string {
	return fmt.Sprintf("%sindex:%s", s.prefix, scope)
}

func (s *RedisStore) latestKey(scope string) string {
	return fmt.Sprintf("%slatest:%s", s.prefix, scope)
}

// Save stores the snapshot, indexes it and moves the latest pointer if it is
// the newest.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	score := float64(snap.CreatedAt.UnixNano())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(snap.Scope, snap.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(snap.Scope), redis.Z{Score: score, Member: snap.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot to redis: %w", err)
	}

	newest, err := s.client.ZRevRange(ctx, s.indexKey(snap.Scope), 0, 0).Result()
	if err != nil {
		return fmt.Errorf("read snapshot index: %w", err)
	}
	if len(newest) == 1 {
		if err := s.client.Set(ctx, s.latestKey(snap.Scope), newest[0], 0).Err(); err != nil {
			return fmt.Errorf("update latest pointer: %w", err)
		}
	}
	return nil
}

// Get reads one snapshot.
func (s *RedisStore) Get(ctx context.Context, scope string, id uuid.UUID) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(scope, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, id)
		}
		return nil, fmt.Errorf("load snapshot from redis: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Load follows the latest pointer of scope.
func (s *RedisStore) Load(ctx context.Context, scope string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, s.latestKey(scope)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: scope %s", ErrNotFound, scope)
		}
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("latest pointer %q: %w", raw, err)
	}
	return s.Get(ctx, scope, id)
}

// List returns the snapshots of scope in index order, skipping entries whose
// payload has gone missing.
func (s *RedisStore) List(ctx context.Context, scope string) ([]Info, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", scope, err)
	}
	if len(ids) == 0 {
		return []Info{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("index entry %q: %w", raw, err)
		}
		keys = append(keys, s.snapshotKey(scope, id))
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}
	out := make([]Info, 0, len(results))
	for _, r := range results {
		str, ok := r.(string)
		if !ok {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(str), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, snap.Info())
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }
